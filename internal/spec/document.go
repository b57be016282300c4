// Package spec parses Swagger 2.0 documents into a typed, normalized form.
//
// Only the parts needed to generate commands are modelled: host and base
// path, the path map, operations and their parameters and responses.
// Unknown keys and vendor extensions are ignored.
package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"gopkg.in/yaml.v3"
)

// Methods are the operation keys recognised inside a path item, in the
// order they are reported.
var Methods = []string{"get", "put", "post", "delete", "options", "head", "patch"}

type Document struct {
	Swagger    string               `json:"swagger"`
	Info       Info                 `json:"info"`
	Host       string               `json:"host"`
	BasePath   string               `json:"basePath"`
	Schemes    []string             `json:"schemes"`
	Consumes   []string             `json:"consumes"`
	Produces   []string             `json:"produces"`
	Paths      map[string]*PathItem `json:"paths"`
	Parameters map[string]Parameter `json:"parameters"`

	problems []string
}

type Info struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

type PathItem struct {
	Operations map[string]*Operation
	Parameters []Parameter
	Problems   []string
}

type Operation struct {
	OperationID string              `json:"operationId"`
	Summary     string              `json:"summary"`
	Description string              `json:"description"`
	Tags        []string            `json:"tags"`
	Consumes    []string            `json:"consumes"`
	Produces    []string            `json:"produces"`
	Deprecated  bool                `json:"deprecated"`
	Parameters  []Parameter         `json:"parameters"`
	Responses   map[string]Response `json:"responses"`
	Problems    []string            `json:"-"`
}

type Response struct {
	Description string `json:"description"`
}

// Parameter is a Swagger 2.0 parameter object. Schema is kept opaque; body
// payloads are passed through as supplied.
type Parameter struct {
	Ref              string         `json:"$ref,omitempty"`
	Name             string         `json:"name"`
	In               string         `json:"in"`
	Description      string         `json:"description,omitempty"`
	Required         bool           `json:"required,omitempty"`
	Type             string         `json:"type,omitempty"`
	Format           string         `json:"format,omitempty"`
	Enum             Values         `json:"enum,omitempty"`
	Default          any            `json:"default,omitempty"`
	Items            *Items         `json:"items,omitempty"`
	CollectionFormat string         `json:"collectionFormat,omitempty"`
	Schema           map[string]any `json:"schema,omitempty"`
}

type Items struct {
	Type             string `json:"type,omitempty"`
	Format           string `json:"format,omitempty"`
	Description      string `json:"description,omitempty"`
	Enum             Values `json:"enum,omitempty"`
	Default          any    `json:"default,omitempty"`
	CollectionFormat string `json:"collectionFormat,omitempty"`
	Items            *Items `json:"items,omitempty"`
}

// UnmarshalJSON never fails: a malformed path item or operation is kept
// with whatever could be decoded and the problem is recorded in Problems.
func (p *PathItem) UnmarshalJSON(data []byte) error {
	p.Operations = map[string]*Operation{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		p.Problems = append(p.Problems, fmt.Sprintf("path item: %v", err))
		return nil
	}
	for key, value := range raw {
		lower := strings.ToLower(key)
		switch {
		case lower == "parameters":
			params, problems := decodeParameters(value)
			p.Parameters = params
			for _, problem := range problems {
				p.Problems = append(p.Problems, "path parameters: "+problem)
			}
		case isMethod(lower):
			var op Operation
			_ = json.Unmarshal(value, &op)
			p.Operations[lower] = &op
		}
	}
	return nil
}

// UnmarshalJSON decodes an operation field by field so that one malformed
// field does not discard the rest. Parameters that fail to decode are
// dropped; responses that are plain strings become their description.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		o.Problems = append(o.Problems, fmt.Sprintf("operation: %v", err))
		return nil
	}
	fields := map[string]any{
		"operationId": &o.OperationID,
		"summary":     &o.Summary,
		"description": &o.Description,
		"tags":        &o.Tags,
		"consumes":    &o.Consumes,
		"produces":    &o.Produces,
		"deprecated":  &o.Deprecated,
	}
	for key, dst := range fields {
		value, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, dst); err != nil {
			o.Problems = append(o.Problems, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if value, ok := raw["parameters"]; ok {
		params, problems := decodeParameters(value)
		o.Parameters = params
		for _, problem := range problems {
			o.Problems = append(o.Problems, "parameters: "+problem)
		}
	}
	if value, ok := raw["responses"]; ok {
		o.Responses = map[string]Response{}
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(value, &entries); err != nil {
			o.Problems = append(o.Problems, fmt.Sprintf("responses: %v", err))
		}
		for code, entry := range entries {
			var resp Response
			if err := json.Unmarshal(entry, &resp); err != nil {
				var text string
				if json.Unmarshal(entry, &text) != nil {
					o.Problems = append(o.Problems, fmt.Sprintf("response %s: %v", code, err))
				}
				resp.Description = text
			}
			o.Responses[code] = resp
		}
	}
	return nil
}

// decodeParameters decodes a parameter list element by element.
func decodeParameters(data json.RawMessage) ([]Parameter, []string) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, []string{err.Error()}
	}
	var (
		out      []Parameter
		problems []string
	)
	for i, item := range items {
		var p Parameter
		if err := json.Unmarshal(item, &p); err != nil {
			problems = append(problems, fmt.Sprintf("#%d: %v", i, err))
			continue
		}
		out = append(out, p)
	}
	return out, problems
}

// Values is a list that also accepts a single scalar, as some documents
// write a one-element enum without brackets.
type Values []any

func (v *Values) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*v = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []any
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*v = list
		return nil
	}
	var single any
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	*v = Values{single}
	return nil
}

// MethodNames returns the operation methods of the item in sorted order.
func (p *PathItem) MethodNames() []string {
	names := make([]string, 0, len(p.Operations))
	for m := range p.Operations {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

func isMethod(key string) bool {
	for _, m := range Methods {
		if m == key {
			return true
		}
	}
	return false
}

// Parse decodes a JSON or YAML document and normalizes it: required keys are
// checked, defaults applied, path-level parameters merged into operations and
// local parameter references resolved.
func Parse(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, clierr.Wrap(clierr.CodeSpec, "decode spec document", err)
	}
	top, ok := stringKeys(raw).(map[string]any)
	if !ok {
		return nil, clierr.New(clierr.CodeSpec, "spec document must be an object")
	}
	for _, key := range []string{"paths", "host"} {
		if _, ok := top[key]; !ok {
			return nil, clierr.New(clierr.CodeSpec, fmt.Sprintf("required key %q not found", key))
		}
	}

	buf, err := json.Marshal(top)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSpec, "normalize spec document", err)
	}
	var doc Document
	fields := struct {
		*Document
		Parameters map[string]json.RawMessage `json:"parameters"`
	}{Document: &doc}
	if err := json.Unmarshal(buf, &fields); err != nil {
		return nil, clierr.Wrap(clierr.CodeSpec, "decode spec document", err)
	}
	doc.Parameters = make(map[string]Parameter, len(fields.Parameters))
	for name, value := range fields.Parameters {
		var param Parameter
		if err := json.Unmarshal(value, &param); err != nil {
			doc.problems = append(doc.problems, fmt.Sprintf("parameters/%s: %v", name, err))
			continue
		}
		doc.Parameters[name] = param
	}
	if strings.TrimSpace(doc.Host) == "" {
		return nil, clierr.New(clierr.CodeSpec, `required key "host" is empty`)
	}
	if len(doc.Schemes) == 0 {
		doc.Schemes = []string{"https"}
	}
	if doc.Paths == nil {
		doc.Paths = map[string]*PathItem{}
	}
	doc.normalizeOperations()
	return &doc, nil
}

func (d *Document) normalizeOperations() {
	for _, item := range d.Paths {
		if item == nil {
			continue
		}
		shared := d.resolveAll(item.Parameters)
		for _, op := range item.Operations {
			own := d.resolveAll(op.Parameters)
			op.Parameters = mergeParameters(shared, own)
			if op.Responses == nil {
				op.Responses = map[string]Response{}
			}
		}
	}
}

func (d *Document) resolveAll(params []Parameter) []Parameter {
	out := make([]Parameter, 0, len(params))
	for _, p := range params {
		if p.Ref != "" {
			name := strings.TrimPrefix(p.Ref, "#/parameters/")
			target, ok := d.Parameters[name]
			if !ok || name == p.Ref {
				continue
			}
			p = target
		}
		if p.Name == "" || p.In == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// mergeParameters keeps path-level parameters unless an operation parameter
// with the same name and location overrides them.
func mergeParameters(shared, own []Parameter) []Parameter {
	if len(shared) == 0 {
		return own
	}
	seen := make(map[string]bool, len(own))
	for _, p := range own {
		seen[p.In+"|"+p.Name] = true
	}
	out := make([]Parameter, 0, len(shared)+len(own))
	for _, p := range shared {
		if !seen[p.In+"|"+p.Name] {
			out = append(out, p)
		}
	}
	return append(out, own...)
}

// Problems lists the parts of the document that were malformed and dropped
// or defaulted while decoding, sorted.
func (d *Document) Problems() []string {
	out := append([]string(nil), d.problems...)
	for path, item := range d.Paths {
		if item == nil {
			continue
		}
		for _, problem := range item.Problems {
			out = append(out, path+": "+problem)
		}
		for method, op := range item.Operations {
			for _, problem := range op.Problems {
				out = append(out, strings.ToUpper(method)+" "+path+": "+problem)
			}
		}
	}
	sort.Strings(out)
	return out
}

// BaseURL joins the first scheme, host and base path.
func (d *Document) BaseURL() string {
	scheme := "https"
	if len(d.Schemes) > 0 && d.Schemes[0] != "" {
		scheme = d.Schemes[0]
	}
	return scheme + "://" + d.Host + d.BasePath
}

// PathNames returns the document's paths in sorted order.
func (d *Document) PathNames() []string {
	names := make([]string, 0, len(d.Paths))
	for p := range d.Paths {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

// stringKeys converts YAML maps with non-string keys (for example unquoted
// response codes) into JSON-compatible maps.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = stringKeys(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = stringKeys(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = stringKeys(item)
		}
		return t
	default:
		return v
	}
}
