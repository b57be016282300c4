// Package executor turns a bound slot assignment into an HTTP request and
// runs it through the cache, the authenticator, the hook registry and the
// retrying transport.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggonzalez94/swagcli/internal/auth"
	"github.com/ggonzalez94/swagcli/internal/binder"
	"github.com/ggonzalez94/swagcli/internal/cache"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/hooks"
	"github.com/ggonzalez94/swagcli/internal/httpx"
	"github.com/ggonzalez94/swagcli/internal/logging"
	"github.com/ggonzalez94/swagcli/internal/model"
)

// Doer sends a request with retries. *httpx.Client implements it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*httpx.Response, error)
}

type Request struct {
	Method      string
	URLTemplate string
	Slots       binder.Slots
	NoCache     bool
}

type Options struct {
	HTTP      Doer
	Cache     cache.Store
	CacheTTL  time.Duration
	Auth      auth.Authenticator
	Hooks     *hooks.Registry
	Headers   map[string]string
	UserAgent string
	Stdin     io.Reader
	Logger    *slog.Logger
	Now       func() time.Time
}

type Executor struct {
	opts Options
}

func New(opts Options) *Executor {
	if opts.Auth == nil {
		opts.Auth = auth.None{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 300 * time.Second
	}
	return &Executor{opts: opts}
}

// Execute resolves and sends req. Non-2xx responses are returned as
// responses; only transport failures, hook validation failures and binding
// errors are returned as errors.
func (e *Executor) Execute(ctx context.Context, req Request) (*model.Response, error) {
	method := normalizeMethod(req.Method)

	rawURL, err := ResolveURL(req.URLTemplate, req.Slots[binder.SlotPath])
	if err != nil {
		return nil, err
	}
	rawURL = e.opts.Hooks.PrehookURL(rawURL)

	hreq := &hooks.Request{
		Method: method,
		URL:    rawURL,
		Query:  req.Slots.Values(binder.SlotQuery),
		Header: http.Header{},
		Form:   req.Slots.Values(binder.SlotFormData),
	}
	for name, v := range req.Slots.Values(binder.SlotHeader) {
		hreq.Header.Set(name, scalarString(v))
	}
	body, err := bodyValue(req.Slots[binder.SlotBody], e.opts.Stdin)
	if err != nil {
		return nil, err
	}
	hreq.Body = body

	supplement, err := e.opts.Hooks.RunRequest(ctx, hreq)
	if err != nil {
		return nil, err
	}

	cacheable := method == http.MethodGet && e.opts.Cache != nil && !req.NoCache
	key := ""
	if cacheable {
		key = cache.Key(method, hreq.URL, hreq.Query, hreq.Body)
		if resp, ok := e.cached(key); ok {
			return resp, nil
		}
	}

	fullURL, err := withQuery(hreq.URL, req.Slots[binder.SlotQuery], hreq.Query)
	if err != nil {
		return nil, err
	}
	payload, err := encodeBody(hreq, supplement.Files)
	if err != nil {
		return nil, err
	}

	header, err := e.headers(ctx, method, fullURL, hreq.Header, payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload.data))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "build request", err)
	}
	if len(payload.data) == 0 {
		httpReq.Body = http.NoBody
		httpReq.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
		httpReq.ContentLength = 0
	}
	httpReq.Header = header

	e.opts.Logger.Debug("sending request", "method", method, "url", httpReq.URL.Redacted())
	res, err := e.opts.HTTP.Do(ctx, httpReq)
	if err != nil {
		return nil, err
	}

	resp := &model.Response{
		Method:     method,
		URL:        fullURL,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       res.Body,
		Elapsed:    res.Elapsed,
		Timestamp:  e.opts.Now().UTC(),
		Attempts:   res.Attempts,
	}
	if cacheable && resp.OK() {
		e.store(key, resp)
	}
	return e.opts.Hooks.RunResponse(ctx, hreq, resp), nil
}

func (e *Executor) cached(key string) (*model.Response, bool) {
	entry, ok, err := e.opts.Cache.Get(key)
	if err != nil {
		e.opts.Logger.Warn("cache read failed", "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var resp model.Response
	if err := json.Unmarshal(entry.Value, &resp); err != nil {
		e.opts.Logger.Warn("discarding undecodable cache entry", "err", err)
		_ = e.opts.Cache.Delete(key)
		return nil, false
	}
	resp.CacheHit = true
	resp.CacheAge = entry.Age
	return &resp, true
}

func (e *Executor) store(key string, resp *model.Response) {
	buf, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := e.opts.Cache.Set(key, buf, e.opts.CacheTTL); err != nil {
		e.opts.Logger.Warn("cache write failed", "err", err)
	}
}

// headers layers defaults, configured headers, authenticator headers and
// finally the request's own header slot.
func (e *Executor) headers(ctx context.Context, method, fullURL string, slot http.Header, payload encodedBody) (http.Header, error) {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if e.opts.UserAgent != "" {
		h.Set("User-Agent", e.opts.UserAgent)
	}
	for k, v := range e.opts.Headers {
		h.Set(k, v)
	}
	if payload.contentType != "" {
		h.Set("Content-Type", payload.contentType)
	}

	authHeader, err := e.opts.Auth.Headers(ctx, auth.Request{Method: method, URL: fullURL, Header: h.Clone(), Body: payload.data})
	if err != nil {
		if _, ok := clierr.As(err); ok {
			return nil, err
		}
		return nil, clierr.Wrap(clierr.CodeAuth, "compute auth headers", err)
	}
	for k, vs := range authHeader {
		h[k] = vs
	}
	for k, vs := range slot {
		h[k] = vs
	}
	return h, nil
}
