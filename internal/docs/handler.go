package docs

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

//go:embed ui/index.html
var uiFS embed.FS

// Paths of the documentation endpoints.
const (
	JSONPath = "/openapi.json"
	YAMLPath = "/openapi.yaml"
	UIPath   = "/docs/"
)

// Handlers serves one pre-rendered document.
type Handlers struct {
	json []byte
	yaml []byte
	ui   []byte
}

// NewHandlers renders doc once, in both formats.
func NewHandlers(doc Document) (*Handlers, error) {
	j, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("docs: render json: %w", err)
	}
	y, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("docs: render yaml: %w", err)
	}
	ui, err := uiFS.ReadFile("ui/index.html")
	if err != nil {
		return nil, fmt.Errorf("docs: read ui: %w", err)
	}
	return &Handlers{json: j, yaml: y, ui: ui}, nil
}

func (h *Handlers) JSON(w http.ResponseWriter, _ *http.Request) {
	write(w, "application/json", h.json)
}

func (h *Handlers) YAML(w http.ResponseWriter, _ *http.Request) {
	write(w, "application/yaml", h.yaml)
}

func (h *Handlers) UI(w http.ResponseWriter, _ *http.Request) {
	write(w, "text/html; charset=utf-8", h.ui)
}

// Mount binds the documentation endpoints; /docs redirects to /docs/.
func (h *Handlers) Mount(r chi.Router) {
	r.Get(JSONPath, h.JSON)
	r.Get(YAMLPath, h.YAML)
	r.Get(UIPath, h.UI)
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, UIPath, http.StatusMovedPermanently)
	})
}

func write(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(body)
}
