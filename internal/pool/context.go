package pool

import "context"

type ctxKey struct{}

// NewContext returns a copy of ctx carrying c.
func NewContext(ctx context.Context, c *Conn) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the connection stored by NewContext, if any.
func FromContext(ctx context.Context) (*Conn, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Conn)
	return c, ok
}
