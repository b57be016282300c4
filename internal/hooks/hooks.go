// Package hooks holds the extension points invoked around request
// execution. A Registry is created per process and passed explicitly to the
// components that run hooks.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/logging"
	"github.com/ggonzalez94/swagcli/internal/model"
)

// Request is the view of an outgoing request handed to hooks. Hooks may
// mutate Header, Query, Body and Form in place.
type Request struct {
	Method string
	URL    string
	Query  map[string]any
	Header http.Header
	Body   any
	Form   map[string]any
}

// File is a multipart part supplied by a request hook.
type File struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Supplement is auxiliary data returned by request hooks. Any files switch
// the body encoding to multipart.
type Supplement struct {
	Files []File
}

// ValidationError aborts the request when returned by a request hook.
type ValidationError struct {
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

type RequestHook func(ctx context.Context, req *Request) (*Supplement, error)

// ResponseHook may return a replacement response; nil keeps the current one.
type ResponseHook func(ctx context.Context, req *Request, resp *model.Response) (*model.Response, error)

type namedRequestHook struct {
	name string
	fn   RequestHook
}

type namedResponseHook struct {
	name string
	fn   ResponseHook
}

type Registry struct {
	mu          sync.RWMutex
	onRequest   []namedRequestHook
	onResponse  []namedResponseHook
	pathPrehook func(string) string
	urlPrehook  func(string) string
	respPrehook func(any) any
	logger      *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{logger: logger}
}

func (r *Registry) OnRequest(name string, fn RequestHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRequest = append(r.onRequest, namedRequestHook{name: name, fn: fn})
}

func (r *Registry) OnResponse(name string, fn ResponseHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResponse = append(r.onResponse, namedResponseHook{name: name, fn: fn})
}

func (r *Registry) SetPathPrehook(fn func(string) string) {
	r.mu.Lock()
	r.pathPrehook = fn
	r.mu.Unlock()
}

func (r *Registry) SetURLPrehook(fn func(string) string) {
	r.mu.Lock()
	r.urlPrehook = fn
	r.mu.Unlock()
}

func (r *Registry) SetResponsePrehook(fn func(any) any) {
	r.mu.Lock()
	r.respPrehook = fn
	r.mu.Unlock()
}

// Names lists registered request and response hooks.
func (r *Registry) Names() (request, response []string) {
	if r == nil {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.onRequest {
		request = append(request, h.name)
	}
	for _, h := range r.onResponse {
		response = append(response, h.name)
	}
	return request, response
}

// RunRequest invokes request hooks in registration order and merges their
// supplements. A ValidationError aborts; any other failure is logged and the
// hook skipped.
func (r *Registry) RunRequest(ctx context.Context, req *Request) (Supplement, error) {
	var merged Supplement
	if r == nil {
		return merged, nil
	}
	r.mu.RLock()
	hooks := append([]namedRequestHook(nil), r.onRequest...)
	r.mu.RUnlock()

	for _, h := range hooks {
		sup, err := callRequest(ctx, h.fn, req)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return Supplement{}, clierr.Wrap(clierr.CodeValidation, verr.Message, err).WithDetail(verr.Details)
			}
			r.logger.Warn("request hook failed", "hook", h.name, "err", err)
			continue
		}
		if sup != nil {
			merged.Files = append(merged.Files, sup.Files...)
		}
	}
	return merged, nil
}

// RunResponse invokes response hooks. Failures are logged and ignored.
func (r *Registry) RunResponse(ctx context.Context, req *Request, resp *model.Response) *model.Response {
	if r == nil {
		return resp
	}
	r.mu.RLock()
	hooks := append([]namedResponseHook(nil), r.onResponse...)
	r.mu.RUnlock()

	for _, h := range hooks {
		next, err := callResponse(ctx, h.fn, req, resp)
		if err != nil {
			r.logger.Warn("response hook failed", "hook", h.name, "err", err)
			continue
		}
		if next != nil {
			resp = next
		}
	}
	return resp
}

func (r *Registry) PrehookPath(path string) string {
	if r == nil {
		return path
	}
	r.mu.RLock()
	fn := r.pathPrehook
	r.mu.RUnlock()
	return r.applyString("path", fn, path)
}

func (r *Registry) PrehookURL(rawURL string) string {
	if r == nil {
		return rawURL
	}
	r.mu.RLock()
	fn := r.urlPrehook
	r.mu.RUnlock()
	return r.applyString("url", fn, rawURL)
}

func (r *Registry) PrehookResponse(data any) (out any) {
	if r == nil {
		return data
	}
	r.mu.RLock()
	fn := r.respPrehook
	r.mu.RUnlock()
	if fn == nil {
		return data
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("response prehook panicked", "panic", rec)
			out = data
		}
	}()
	return fn(data)
}

func (r *Registry) applyString(slot string, fn func(string) string, in string) (out string) {
	if fn == nil {
		return in
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("prehook panicked", "slot", slot, "panic", rec)
			out = in
		}
	}()
	return fn(in)
}

func callRequest(ctx context.Context, fn RequestHook, req *Request) (sup *Supplement, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = clierr.New(clierr.CodeHook, fmt.Sprintf("hook panicked: %v", rec))
		}
	}()
	return fn(ctx, req)
}

func callResponse(ctx context.Context, fn ResponseHook, req *Request, resp *model.Response) (next *model.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = clierr.New(clierr.CodeHook, fmt.Sprintf("hook panicked: %v", rec))
		}
	}()
	return fn(ctx, req, resp)
}
