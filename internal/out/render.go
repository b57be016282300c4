package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ggonzalez94/swagcli/internal/config"
	"github.com/ggonzalez94/swagcli/internal/model"
	"gopkg.in/yaml.v3"
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	switch settings.OutputMode {
	case "table":
		if env.Error != nil {
			return renderTable(w, normalizeValue(env.Error))
		}
		return renderTable(w, data)
	case "yaml":
		if settings.ResultsOnly {
			return renderYAML(w, data)
		}
		env.Data = data
		return renderYAML(w, env)
	case "plain":
		if settings.ResultsOnly {
			return renderPlain(w, data)
		}
		plain := map[string]any{
			"success": env.Success,
			"data":    data,
			"meta":    plainMeta(env.Meta),
		}
		if len(env.Warnings) > 0 {
			plain["warnings"] = env.Warnings
		}
		if env.Error != nil {
			plain["error"] = env.Error
		}
		return renderPlain(w, plain)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if settings.ResultsOnly {
		return enc.Encode(data)
	}
	env.Data = data
	return enc.Encode(env)
}

// plainMeta flattens the envelope meta into short key=value pairs.
func plainMeta(meta model.EnvelopeMeta) map[string]any {
	out := map[string]any{
		"request_id": meta.RequestID,
		"command":    meta.Command,
		"cache":      meta.Cache.Status,
	}
	if meta.HTTP != nil {
		out["status"] = meta.HTTP.Status
		out["size"] = humanize.Bytes(uint64(meta.HTTP.Bytes))
		out["elapsed_ms"] = meta.HTTP.ElapsedMS
	}
	return out
}

func renderYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(normalizeValue(data)); err != nil {
		return err
	}
	return enc.Close()
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			item := normalizeValue(v.Index(i).Interface())
			line, err := toLine(item)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, cell(t[k])))
		}
		return strings.Join(parts, " "), nil
	case string:
		return t, nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}

// cell formats a value for a single plain or table cell. Nested values are
// written as compact JSON.
func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		buf, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(buf)
	default:
		return fmt.Sprint(t)
	}
}
