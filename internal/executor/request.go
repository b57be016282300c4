package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ggonzalez94/swagcli/internal/binder"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/hooks"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

func normalizeMethod(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return "GET"
	}
	return m
}

// ResolveURL substitutes every {name} placeholder with the matching path
// binding. Names match case-insensitively and values are path-escaped.
func ResolveURL(template string, path []binder.Binding) (string, error) {
	var missing []string
	resolved := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		for _, b := range path {
			if strings.EqualFold(b.Name, name) && b.Value != nil {
				return url.PathEscape(scalarString(b.Value))
			}
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("missing value for path argument(s): %s", strings.Join(missing, ", ")))
	}
	return resolved, nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case []any, []string, []int:
		items, _ := toStrings(v)
		return strings.Join(items, ",")
	default:
		return fmt.Sprint(v)
	}
}

func toStrings(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []int:
		out := make([]string, len(t))
		for i, n := range t {
			out[i] = strconv.Itoa(n)
		}
		return out, true
	case []any:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = scalarString(item)
		}
		return out, true
	default:
		return nil, false
	}
}

// withQuery appends query values in slot order, followed by any keys added
// by hooks. Arrays are serialized according to their collection format.
func withQuery(rawURL string, slot []binder.Binding, values map[string]any) (string, error) {
	if len(values) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "parse request url", err)
	}
	q := u.Query()
	seen := map[string]bool{}
	formats := map[string]string{}
	var order []string
	for _, b := range slot {
		formats[b.Name] = b.CollectionFormat
		if _, ok := values[b.Name]; ok {
			order = append(order, b.Name)
			seen[b.Name] = true
		}
	}
	var extra []string
	for name := range values {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)

	for _, name := range append(order, extra...) {
		v := values[name]
		items, isList := toStrings(v)
		if !isList {
			q.Set(name, scalarString(v))
			continue
		}
		switch formats[name] {
		case "multi":
			q.Del(name)
			for _, item := range items {
				q.Add(name, item)
			}
		case "ssv":
			q.Set(name, strings.Join(items, " "))
		case "tsv":
			q.Set(name, strings.Join(items, "\t"))
		case "pipes":
			q.Set(name, strings.Join(items, "|"))
		default:
			q.Set(name, strings.Join(items, ","))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// bodyValue builds the request document from the body slot. A single body
// parameter is the document itself; several are keyed by name. String
// values of the form @path or - are read from a file or stdin, and JSON
// text is decoded.
func bodyValue(slot []binder.Binding, stdin io.Reader) (any, error) {
	var set []binder.Binding
	for _, b := range slot {
		if b.Value != nil {
			set = append(set, b)
		}
	}
	switch len(set) {
	case 0:
		return nil, nil
	case 1:
		return decodeBodyArg(set[0].Value, stdin)
	}
	out := make(map[string]any, len(set))
	for _, b := range set {
		v, err := decodeBodyArg(b.Value, stdin)
		if err != nil {
			return nil, err
		}
		out[b.Name] = v
	}
	return out, nil
}

func decodeBodyArg(v any, stdin io.Reader) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	raw := []byte(s)
	switch {
	case s == "-":
		if stdin == nil {
			stdin = os.Stdin
		}
		buf, err := io.ReadAll(stdin)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "read body from stdin", err)
		}
		raw = buf
	case strings.HasPrefix(s, "@"):
		buf, err := os.ReadFile(strings.TrimPrefix(s, "@"))
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "read body file", err)
		}
		raw = buf
	}
	trimmed := bytes.TrimSpace(raw)
	if json.Valid(trimmed) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err == nil {
			return doc, nil
		}
	}
	return string(raw), nil
}

type encodedBody struct {
	data        []byte
	contentType string
}

// encodeBody picks multipart when hooks supplied files, urlencoded for form
// data, and JSON for a body document.
func encodeBody(req *hooks.Request, files []hooks.File) (encodedBody, error) {
	if len(files) > 0 {
		return encodeMultipart(req.Form, files)
	}
	if len(req.Form) > 0 {
		form := url.Values{}
		for name, v := range req.Form {
			if items, ok := toStrings(v); ok {
				for _, item := range items {
					form.Add(name, item)
				}
				continue
			}
			form.Set(name, scalarString(v))
		}
		return encodedBody{data: []byte(form.Encode()), contentType: "application/x-www-form-urlencoded"}, nil
	}
	if req.Body == nil {
		return encodedBody{}, nil
	}
	buf, err := json.Marshal(req.Body)
	if err != nil {
		return encodedBody{}, clierr.Wrap(clierr.CodeUsage, "encode request body", err)
	}
	return encodedBody{data: buf, contentType: "application/json"}, nil
}

func encodeMultipart(form map[string]any, files []hooks.File) (encodedBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.WriteField(name, scalarString(form[name])); err != nil {
			return encodedBody{}, clierr.Wrap(clierr.CodeInternal, "write form field", err)
		}
	}
	for _, f := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Filename))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return encodedBody{}, clierr.Wrap(clierr.CodeInternal, "create file part", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return encodedBody{}, clierr.Wrap(clierr.CodeInternal, "write file part", err)
		}
	}
	if err := w.Close(); err != nil {
		return encodedBody{}, clierr.Wrap(clierr.CodeInternal, "close multipart body", err)
	}
	return encodedBody{data: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}
