// Package docs renders the route registry as an OpenAPI 3.0 document and
// serves it together with a browsable UI.
package docs

import (
	"bytes"
	"encoding/json"
	"iter"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bookoftales/tales/internal/httpserver/routes"
)

const openAPIVersion = "3.0.3"

// Info is the document header.
type Info struct {
	Title       string `json:"title" yaml:"title"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Document struct {
	OpenAPI string `json:"openapi" yaml:"openapi"`
	Info    Info   `json:"info" yaml:"info"`
	Paths   Paths  `json:"paths" yaml:"paths"`
}

// Paths maps path templates to their operations by lower-case method.
// Paths are written out in the order they were first added.
type Paths struct {
	order []string
	items map[string]map[string]Operation
}

func (p *Paths) add(path, method string, op Operation) {
	if p.items == nil {
		p.items = make(map[string]map[string]Operation)
	}
	ops, ok := p.items[path]
	if !ok {
		ops = make(map[string]Operation)
		p.items[path] = ops
		p.order = append(p.order, path)
	}
	ops[method] = op
}

// Keys lists the path templates in insertion order.
func (p Paths) Keys() []string { return p.order }

// Get returns the operations of path, nil when unknown.
func (p Paths) Get(path string) map[string]Operation { return p.items[path] }

func (p Paths) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, path := range p.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(path)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.items[path])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p Paths) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, path := range p.order {
		var v yaml.Node
		if err := v.Encode(p.items[path]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: path},
			&v)
	}
	return node, nil
}

type Operation struct {
	OperationID string              `json:"operationId,omitempty" yaml:"operationId,omitempty"`
	Summary     string              `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters  []Parameter         `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Responses   map[string]Response `json:"responses" yaml:"responses"`
}

type Parameter struct {
	Name     string         `json:"name" yaml:"name"`
	In       string         `json:"in" yaml:"in"`
	Required bool           `json:"required" yaml:"required"`
	Schema   map[string]any `json:"schema" yaml:"schema"`
}

type Response struct {
	Description string               `json:"description" yaml:"description"`
	Content     map[string]MediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

type MediaType struct {
	Schema  map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
	Example any            `json:"example,omitempty" yaml:"example,omitempty"`
}

// {name} or {name:regexp}, the chi path parameter syntax.
var pathParam = regexp.MustCompile(`\{([^}:]+)(?::[^}]*)?\}`)

// Build turns route entries into a document. Entries are read once and keep
// their order; routes without declared responses get a bare 200.
func Build(info Info, entries iter.Seq[routes.Entry]) Document {
	doc := Document{
		OpenAPI: openAPIVersion,
		Info:    info,
	}

	for e := range entries {
		path := pathParam.ReplaceAllString(e.Path, "{$1}")
		doc.Paths.add(path, strings.ToLower(e.Method), operation(e))
	}
	return doc
}

func operation(e routes.Entry) Operation {
	op := Operation{
		OperationID: e.Meta.OperationID,
		Summary:     e.Meta.Summary,
		Description: e.Meta.Description,
		Tags:        e.Meta.Tags,
		Responses:   make(map[string]Response),
	}

	for _, m := range pathParam.FindAllStringSubmatch(e.Path, -1) {
		op.Parameters = append(op.Parameters, Parameter{
			Name:     m[1],
			In:       "path",
			Required: true,
			Schema:   map[string]any{"type": "string"},
		})
	}

	for _, r := range e.Meta.Responses {
		resp := Response{Description: r.Description}
		if resp.Description == "" {
			resp.Description = http.StatusText(r.Status)
		}
		if r.Schema != nil || r.Example != nil {
			ct := r.ContentType
			if ct == "" {
				ct = "application/json"
			}
			resp.Content = map[string]MediaType{ct: {Schema: r.Schema, Example: r.Example}}
		}
		op.Responses[strconv.Itoa(r.Status)] = resp
	}
	if len(op.Responses) == 0 {
		op.Responses["200"] = Response{Description: http.StatusText(http.StatusOK)}
	}
	return op
}
