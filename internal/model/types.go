package model

import (
	"net/http"
	"time"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Command   string      `json:"command"`
	HTTP      *HTTPStatus `json:"http,omitempty"`
	Cache     CacheStatus `json:"cache"`
}

// HTTPStatus summarizes the request behind a command result.
type HTTPStatus struct {
	Method    string `json:"method"`
	URL       string `json:"url"`
	Status    int    `json:"status"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Attempts  int    `json:"attempts,omitempty"`
	Bytes     int    `json:"bytes"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
}

// Response is the outcome of one executed operation. It is also the shape
// persisted in the response cache.
type Response struct {
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	StatusCode int           `json:"status"`
	Header     http.Header   `json:"headers"`
	Body       []byte        `json:"body"`
	Elapsed    time.Duration `json:"elapsed"`
	Timestamp  time.Time     `json:"timestamp"`
	Attempts   int           `json:"attempts,omitempty"`
	CacheHit   bool          `json:"-"`
	CacheAge   time.Duration `json:"-"`
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) HTTPStatus() *HTTPStatus {
	if r == nil {
		return nil
	}
	return &HTTPStatus{
		Method:    r.Method,
		URL:       r.URL,
		Status:    r.StatusCode,
		ElapsedMS: r.Elapsed.Milliseconds(),
		Attempts:  r.Attempts,
		Bytes:     len(r.Body),
	}
}

func (r *Response) CacheStatus() CacheStatus {
	if r == nil {
		return CacheStatus{Status: "bypass"}
	}
	if r.CacheHit {
		return CacheStatus{Status: "hit", AgeMS: r.CacheAge.Milliseconds()}
	}
	return CacheStatus{Status: "miss"}
}
