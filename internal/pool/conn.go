package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one physical connection to the backing store, as produced by a Driver.
type Session interface {
	// Ping checks the connection is alive.
	Ping(ctx context.Context) error
	// Reset brings the connection back to a reusable state.
	Reset(ctx context.Context) error
	Close() error
}

// Driver opens physical connections against the backing store.
type Driver interface {
	Dial(ctx context.Context) (Session, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context) (Session, error)

func (f DriverFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// Conn is a pooled connection. It is owned by exactly one holder between
// Acquire and Release.
type Conn struct {
	id        string
	session   Session
	pool      *Pool
	createdAt time.Time

	// guarded by pool.mu
	inUse    bool
	lastUsed time.Time
	forced   bool // closed by Close after its deadline, slot already freed

	broken    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newConn(p *Pool, s Session) *Conn {
	now := time.Now()
	return &Conn{
		id:        uuid.NewString(),
		session:   s,
		pool:      p,
		createdAt: now,
		lastUsed:  now,
	}
}

// ID uniquely identifies the connection for its whole life.
func (c *Conn) ID() string { return c.id }

// Session returns the driver connection.
func (c *Conn) Session() Session { return c.session }

// CreatedAt is when the physical connection was opened.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// MarkBroken flags the connection so Release discards it instead of reusing it.
func (c *Conn) MarkBroken() { c.broken.Store(true) }

// Broken reports whether MarkBroken was called.
func (c *Conn) Broken() bool { return c.broken.Load() }

// Release hands the connection back to its pool.
func (c *Conn) Release() error { return c.pool.Release(c) }

// close shuts the physical connection once, no matter how many paths reach it.
func (c *Conn) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
		c.pool.closedCount.Add(1)
	})
	return c.closeErr
}
