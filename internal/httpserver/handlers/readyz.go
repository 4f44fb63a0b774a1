package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bookoftales/tales/internal/httpserver/deps"
	"github.com/bookoftales/tales/internal/logger"
	"github.com/bookoftales/tales/internal/pool"
)

const readyTimeout = 2 * time.Second

var errPoolMissing = errors.New("connection pool not initialized")

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// Readyz borrows a pooled connection and pings it. 503 when the pool is
// saturated, closed or the backing store does not answer.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checkPool(r.Context(), d); err != nil {
			d.Logger.Warn("readiness check failed", logger.Error(err))
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Ready: false, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, readyzResponse{Ready: true})
	}
}

func checkPool(ctx context.Context, d deps.Deps) error {
	if d.Pool == nil {
		return errPoolMissing
	}

	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	c, err := d.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := c.Session().Ping(ctx); err != nil {
		return discard(c, err)
	}
	return c.Release()
}

// discard drops a connection that failed its ping. A release failure is
// reported next to the ping error.
func discard(c *pool.Conn, cause error) error {
	c.MarkBroken()
	if err := c.Release(); err != nil {
		return errors.Join(cause, fmt.Errorf("release: %w", err))
	}
	return cause
}
