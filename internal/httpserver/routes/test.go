package routes

import (
	"net/http"

	"github.com/bookoftales/tales/internal/httpserver/deps"
	"github.com/bookoftales/tales/internal/httpserver/handlers"
)

func registerTest(reg *Registry, d deps.Deps) error {
	return reg.Register(http.MethodGet, "/test", handlers.TestPage(d), Meta{
		OperationID: "test_page",
		Summary:     "Placeholder endpoint",
		Description: "Answers with a fixed JSON string. Useful to check the service and its pool end to end.",
		Tags:        []string{"test"},
		Responses: []Response{
			{
				Status:      http.StatusOK,
				Description: "Greeting",
				Schema:      map[string]any{"type": "string"},
				Example:     handlers.TestGreeting,
			},
			{
				Status:      http.StatusServiceUnavailable,
				Description: "No database connection available",
			},
		},
	})
}
