package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bookoftales/tales/internal/httpserver/deps"
	"github.com/bookoftales/tales/internal/httpserver/handlers"
	"github.com/bookoftales/tales/internal/httpserver/mw"
)

// MountOps binds the operational endpoints. They stay out of the registry:
// no pooled connection is held for them and they are not documented.
func MountOps(r chi.Router, d deps.Deps, metrics http.Handler) {
	r.Get("/healthz", handlers.Healthz(d))
	r.Get("/readyz", handlers.Readyz(d))
	if metrics != nil {
		r.With(mw.AllowOnlyCIDRs(d.MetricsCIDRs, d.TrustProxy, d.Logger)).Handle("/metrics", metrics)
	}
}
