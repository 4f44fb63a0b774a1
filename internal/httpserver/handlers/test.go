package handlers

import (
	"net/http"

	"github.com/bookoftales/tales/internal/httpserver/deps"
	"github.com/bookoftales/tales/internal/logger"
	"github.com/bookoftales/tales/internal/pool"
)

// TestGreeting is the body of GET /test.
const TestGreeting = "Hello world!"

// TestPage answers with a fixed JSON string.
func TestPage(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, ok := pool.FromContext(r.Context()); ok {
			d.Logger.Debug("test page served", logger.String("conn_id", c.ID()))
		}
		writeJSON(w, http.StatusOK, TestGreeting)
	}
}
