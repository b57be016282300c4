package plugins

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ggonzalez94/swagcli/internal/hooks"
	"github.com/ggonzalez94/swagcli/internal/model"
)

// RequestLogger appends one JSON line per request and per response.
type RequestLogger struct {
	logger *slog.Logger
	closer io.Closer
}

func OpenRequestLogger(path string) (*RequestLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create request log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open request log: %w", err)
	}
	l := NewRequestLogger(f)
	l.closer = f
	return l, nil
}

func NewRequestLogger(w io.Writer) *RequestLogger {
	return &RequestLogger{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

func (l *RequestLogger) Register(reg *hooks.Registry) {
	reg.OnRequest("request_logger", l.onRequest)
	reg.OnResponse("request_logger", l.onResponse)
}

func (l *RequestLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *RequestLogger) onRequest(ctx context.Context, req *hooks.Request) (*hooks.Supplement, error) {
	l.logger.InfoContext(ctx, "request",
		"method", req.Method,
		"url", req.URL,
		"query", req.Query,
		"has_body", req.Body != nil || len(req.Form) > 0,
	)
	return nil, nil
}

func (l *RequestLogger) onResponse(ctx context.Context, req *hooks.Request, resp *model.Response) (*model.Response, error) {
	l.logger.InfoContext(ctx, "response",
		"method", req.Method,
		"url", resp.URL,
		"status", resp.StatusCode,
		"elapsed_ms", resp.Elapsed.Milliseconds(),
		"bytes", len(resp.Body),
		"attempts", resp.Attempts,
	)
	return nil, nil
}
