package spec

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/swagcli/internal/cache"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/httpx"
)

// Fetcher retrieves remote documents.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*httpx.Response, error)
}

// Loader reads a document from a URL or a local file. Remote documents are
// cached when a store is configured.
type Loader struct {
	Fetcher Fetcher
	Cache   cache.Store
	TTL     time.Duration
	Header  http.Header
	Logger  *slog.Logger
}

func (l *Loader) Load(ctx context.Context, source string) (*Document, error) {
	data, err := l.read(ctx, strings.TrimSpace(source))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, error) {
	if source == "" {
		return nil, clierr.New(clierr.CodeSpec, "no spec source configured")
	}
	if !isRemote(source) {
		buf, err := os.ReadFile(source)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSpec, "read spec file", err)
		}
		return buf, nil
	}

	key := cache.Key(http.MethodGet, "spec|"+source, nil, nil)
	if l.Cache != nil && l.TTL > 0 {
		if entry, ok, err := l.Cache.Get(key); err == nil && ok {
			l.logger().Debug("spec served from cache", "source", source, "age", entry.Age)
			return entry.Value, nil
		}
	}
	if l.Fetcher == nil {
		return nil, clierr.New(clierr.CodeInternal, "spec fetcher not configured")
	}
	resp, err := l.Fetcher.Get(ctx, source, l.Header)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSpec, "fetch spec", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, clierr.New(clierr.CodeSpec, fmt.Sprintf("fetch spec: unexpected status %d", resp.StatusCode))
	}
	if l.Cache != nil && l.TTL > 0 {
		if err := l.Cache.Set(key, resp.Body, l.TTL); err != nil {
			l.logger().Warn("spec cache write failed", "err", err)
		}
	}
	return resp.Body, nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func isRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
