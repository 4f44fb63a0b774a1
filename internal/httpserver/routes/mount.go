package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/bookoftales/tales/internal/httpserver/deps"
)

// Registrar adds one group of routes to the registry.
type Registrar func(reg *Registry, d deps.Deps) error

// registrars lists every API route group, in mount order.
var registrars = []Registrar{
	registerTest,
}

// RegisterAll runs every registrar. The first failure stops registration.
func RegisterAll(reg *Registry, d deps.Deps) error {
	for _, register := range registrars {
		if err := register(reg, d); err != nil {
			return err
		}
	}
	return nil
}

// Mount binds every registry entry onto r, wrapped by mws.
func Mount(r chi.Router, reg *Registry, mws ...Middleware) {
	sub := r.With(mws...)
	for e := range reg.Routes() {
		sub.Method(e.Method, e.Path, e.Handler)
	}
}
