package mw

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bookoftales/tales/internal/logger"
	"github.com/bookoftales/tales/internal/pool"
)

// WithConn holds one pooled connection for the duration of each request.
// The connection is stored in the request context (see pool.FromContext) and
// released when the handler returns. If the handler panics, the connection is
// marked broken, released, and the panic continues up the stack.
//
// Pool saturation and shutdown are answered with 503 and a Retry-After hint.
func WithConn(p *pool.Pool, retryAfter int, log logger.Logger) func(http.Handler) http.Handler {
	if retryAfter < 1 {
		retryAfter = 1
	}
	retry := strconv.Itoa(retryAfter)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := p.Acquire(r.Context())
			if err != nil {
				switch {
				case errors.Is(err, pool.ErrAcquireTimeout), errors.Is(err, pool.ErrPoolClosed):
					log.Warn("no database connection for request",
						logger.String("path", r.URL.Path),
						logger.Error(err))
					w.Header().Set("Retry-After", retry)
					http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				case r.Context().Err() != nil:
					// client went away, nobody reads the answer
				default:
					log.Error("failed to acquire database connection",
						logger.String("path", r.URL.Path),
						logger.Error(err))
					http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				}
				return
			}

			defer func() {
				if rec := recover(); rec != nil {
					c.MarkBroken()
					release(c, log)
					panic(rec)
				}
				release(c, log)
			}()

			next.ServeHTTP(w, r.WithContext(pool.NewContext(r.Context(), c)))
		})
	}
}

func release(c *pool.Conn, log logger.Logger) {
	if err := c.Release(); err != nil {
		log.Error("failed to release database connection",
			logger.String("conn_id", c.ID()),
			logger.Error(err))
	}
}
