// Package routes holds the route registry: the ordered manifest of API
// endpoints. It is filled once at startup by RegisterAll, mounted onto the
// router by Mount, and read by the documentation generator.
package routes

import (
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
)

type Middleware = func(http.Handler) http.Handler

// ErrDuplicateRoute matches every *DuplicateRouteError via errors.Is.
var ErrDuplicateRoute = errors.New("duplicate route")

// DuplicateRouteError reports a second registration of the same method and path.
type DuplicateRouteError struct {
	Method string
	Path   string
}

func (e *DuplicateRouteError) Error() string {
	return fmt.Sprintf("routes: %s %s already registered", e.Method, e.Path)
}

func (e *DuplicateRouteError) Is(target error) bool { return target == ErrDuplicateRoute }

// Response documents one possible answer of an endpoint.
type Response struct {
	Status      int
	Description string
	ContentType string         // defaults to application/json
	Schema      map[string]any // JSON Schema fragment, optional
	Example     any
}

// Meta is the documentation attached to a route.
type Meta struct {
	OperationID string
	Summary     string
	Description string
	Tags        []string
	Responses   []Response
}

// Entry is one registered route.
type Entry struct {
	Method  string
	Path    string
	Handler http.Handler
	Meta    Meta
}

// Registry keeps routes in registration order. It is filled during startup
// only and is not safe for concurrent registration.
type Registry struct {
	entries []Entry
	seen    map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]struct{})}
}

var methods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
}

// Register adds a route. The method is case-insensitive; the path must be
// absolute. Registering the same method and path twice fails with
// *DuplicateRouteError and leaves the registry unchanged.
func (r *Registry) Register(method, path string, h http.Handler, meta Meta) error {
	method = strings.ToUpper(strings.TrimSpace(method))
	if _, ok := methods[method]; !ok {
		return fmt.Errorf("routes: unsupported method %q for %s", method, path)
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("routes: path %q must start with /", path)
	}
	if h == nil {
		return fmt.Errorf("routes: nil handler for %s %s", method, path)
	}

	key := method + " " + path
	if _, dup := r.seen[key]; dup {
		return &DuplicateRouteError{Method: method, Path: path}
	}
	r.seen[key] = struct{}{}
	r.entries = append(r.entries, Entry{Method: method, Path: path, Handler: h, Meta: meta})
	return nil
}

// Routes yields the entries in registration order. The sequence can be
// ranged over any number of times.
func (r *Registry) Routes() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range r.entries {
			if !yield(e) {
				return
			}
		}
	}
}

func (r *Registry) Len() int { return len(r.entries) }
