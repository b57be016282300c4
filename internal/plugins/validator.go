package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/ggonzalez94/swagcli/internal/hooks"
	"github.com/ggonzalez94/swagcli/internal/model"
	"gopkg.in/yaml.v3"
)

// Validator checks request and response documents against JSON schemas.
// Schemas are keyed by file stem and selected by the last URL segment.
type Validator struct {
	schemas map[string]*openapi3.Schema
}

func NewValidator(schemas map[string]*openapi3.Schema) *Validator {
	if schemas == nil {
		schemas = map[string]*openapi3.Schema{}
	}
	return &Validator{schemas: schemas}
}

// LoadValidator reads every .json, .yaml and .yml schema in dir. A missing
// directory yields an empty validator.
func LoadValidator(dir string) (*Validator, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return NewValidator(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	schemas := map[string]*openapi3.Schema{}
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".json" && ext != ".yaml" && ext != ".yml") {
			continue
		}
		schema, err := LoadSchema(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		schemas[strings.TrimSuffix(entry.Name(), ext)] = schema
	}
	return NewValidator(schemas), nil
}

// LoadSchema parses a JSON or YAML schema file.
func LoadSchema(path string) (*openapi3.Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", filepath.Base(path), err)
		}
		if raw, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("convert schema %s: %w", filepath.Base(path), err)
		}
	}
	schema := &openapi3.Schema{}
	if err := schema.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", filepath.Base(path), err)
	}
	return schema, nil
}

func (v *Validator) Names() []string {
	names := make([]string, 0, len(v.schemas))
	for name := range v.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks data against the named schema. Unknown names pass.
func (v *Validator) Validate(name string, data any) error {
	schema, ok := v.schemas[name]
	if !ok {
		return nil
	}
	details, err := ValidateDocument(schema, data)
	if err != nil {
		return err
	}
	if len(details) > 0 {
		return &hooks.ValidationError{Message: fmt.Sprintf("document does not match schema %q", name), Details: details}
	}
	return nil
}

// ValidateDocument returns one line per schema violation.
func ValidateDocument(schema *openapi3.Schema, data any) ([]string, error) {
	normalized, err := plainJSON(data)
	if err != nil {
		return nil, err
	}
	err = schema.VisitJSON(normalized, openapi3.MultiErrors())
	if err == nil {
		return nil, nil
	}
	var multi openapi3.MultiError
	if !errors.As(err, &multi) {
		return []string{describe(err)}, nil
	}
	details := make([]string, 0, len(multi))
	for _, e := range multi {
		details = append(details, describe(e))
	}
	return details, nil
}

func describe(err error) string {
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		return "/" + strings.Join(se.JSONPointer(), "/") + ": " + se.Reason
	}
	return err.Error()
}

// plainJSON round-trips data so the schema visitor only sees the types
// encoding/json produces.
func plainJSON(data any) (any, error) {
	buf, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func (v *Validator) Register(reg *hooks.Registry) {
	reg.OnRequest("validator", v.onRequest)
	reg.OnResponse("validator", v.onResponse)
}

func (v *Validator) onRequest(_ context.Context, req *hooks.Request) (*hooks.Supplement, error) {
	if req.Body == nil {
		return nil, nil
	}
	return nil, v.Validate(SchemaName(req.URL), req.Body)
}

// onResponse reports mismatches as hook failures; the response is kept.
func (v *Validator) onResponse(_ context.Context, _ *hooks.Request, resp *model.Response) (*model.Response, error) {
	if !resp.OK() || len(resp.Body) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, nil
	}
	return nil, v.Validate(SchemaName(resp.URL), doc)
}

// SchemaName is the last path segment of rawURL, ignoring the query.
func SchemaName(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
