package httpx

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/logging"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = time.Second
)

// Response is a fully-read HTTP response. Non-2xx statuses are returned as
// responses, never as errors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
	Attempts   int
}

type Client struct {
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	userAgent   string
	logger      *slog.Logger
}

type Option func(*Client)

// WithBackoffBase sets the unit of the 2^attempt backoff schedule.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.httpClient.Transport = rt }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		if !skip {
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		c.httpClient.Transport = transport
	}
}

// New builds a client that tries each request at most maxAttempts times.
func New(timeout time.Duration, maxAttempts int, opts ...Option) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		backoffBase: DefaultBackoffBase,
		userAgent:   "swagcli/1.0",
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) MaxAttempts() int { return c.maxAttempts }

func (c *Client) UserAgent() string { return c.userAgent }

// HTTPClient exposes the underlying client for libraries that drive their
// own requests, such as OAuth2 token exchanges.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// Do sends req, retrying transport failures with exponential backoff. The
// final failure is returned as a typed error (timeout, connection or http).
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := Backoff(c.backoffBase, attempt-1)
			c.logger.Debug("retrying request", "url", req.URL.Redacted(), "attempt", attempt+1, "wait", wait)
			select {
			case <-ctx.Done():
				return nil, contextError(ctx.Err())
			case <-time.After(wait):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			c.logger.Debug("request attempt failed", "url", req.URL.Redacted(), "attempt", attempt+1, "err", err)
			continue
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = mapNetError(readErr)
			continue
		}

		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       buf,
			Elapsed:    time.Since(start),
			Attempts:   attempt + 1,
		}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeHTTP, "unable to process your request")
}

// Get is a convenience wrapper used for fetching documents.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "build request", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Do(ctx, req)
}

// Backoff returns base * 2^n for the n-th failed attempt (zero-based).
func Backoff(base time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 16 {
		n = 16
	}
	return base * time.Duration(1<<uint(n))
}

// contextError maps the end of a caller's context: an expired deadline is a
// timeout, an explicit cancellation is an interrupted request.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return clierr.Wrap(clierr.CodeTimeout, "request timed out", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "request interrupted", err)
}

func mapNetError(err error) error {
	if errors.Is(err, context.Canceled) {
		return contextError(err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeTimeout, "request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return clierr.Wrap(clierr.CodeTimeout, "request timed out", err)
	}
	if isConnectionError(err) {
		return clierr.Wrap(clierr.CodeConnection, "unable to connect to the server", err)
	}
	return clierr.Wrap(clierr.CodeHTTP, "unable to process your request", err)
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && errors.Is(urlErr.Err, io.EOF) {
		return true
	}
	return false
}
