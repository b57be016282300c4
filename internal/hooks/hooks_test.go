package hooks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/model"
)

func TestRunRequestMergesSupplementsAndSkipsFailures(t *testing.T) {
	var logs bytes.Buffer
	reg := NewRegistry(slog.New(slog.NewTextHandler(&logs, nil)))
	reg.OnRequest("broken", func(ctx context.Context, req *Request) (*Supplement, error) {
		return nil, errors.New("disk full")
	})
	reg.OnRequest("panicky", func(ctx context.Context, req *Request) (*Supplement, error) {
		panic("boom")
	})
	reg.OnRequest("files", func(ctx context.Context, req *Request) (*Supplement, error) {
		req.Header.Set("X-Hooked", "1")
		return &Supplement{Files: []File{{Field: "file", Filename: "a.txt", Data: []byte("a")}}}, nil
	})

	req := &Request{Method: "POST", URL: "https://h/upload", Header: map[string][]string{}}
	sup, err := reg.RunRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("run request hooks: %v", err)
	}
	if len(sup.Files) != 1 {
		t.Fatalf("expected one supplemental file, got %#v", sup.Files)
	}
	if req.Header.Get("X-Hooked") != "1" {
		t.Fatal("expected hook to mutate the request header")
	}
	for _, want := range []string{"disk full", "hook panicked"} {
		if !strings.Contains(logs.String(), want) {
			t.Fatalf("expected %q in logs: %s", want, logs.String())
		}
	}
}

func TestRunRequestValidationAborts(t *testing.T) {
	reg := NewRegistry(nil)
	called := false
	reg.OnRequest("validator", func(ctx context.Context, req *Request) (*Supplement, error) {
		return nil, &ValidationError{Message: "body does not match schema Pet", Details: []string{`property "name" is missing`}}
	})
	reg.OnRequest("after", func(ctx context.Context, req *Request) (*Supplement, error) {
		called = true
		return nil, nil
	})

	_, err := reg.RunRequest(context.Background(), &Request{})
	if !clierr.Is(err, clierr.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if called {
		t.Fatal("hooks after a validation failure must not run")
	}
	cErr, _ := clierr.As(err)
	if !reflect.DeepEqual(cErr.Detail, []string{`property "name" is missing`}) {
		t.Fatalf("unexpected detail: %#v", cErr.Detail)
	}
}

func TestRunResponseReplacesAndIgnoresErrors(t *testing.T) {
	reg := NewRegistry(nil)
	reg.OnResponse("fail", func(ctx context.Context, req *Request, resp *model.Response) (*model.Response, error) {
		return nil, errors.New("nope")
	})
	reg.OnResponse("rewrite", func(ctx context.Context, req *Request, resp *model.Response) (*model.Response, error) {
		out := *resp
		out.Body = []byte(strings.ToUpper(string(resp.Body)))
		return &out, nil
	})
	reg.OnResponse("keep", func(ctx context.Context, req *Request, resp *model.Response) (*model.Response, error) {
		return nil, nil
	})

	got := reg.RunResponse(context.Background(), &Request{}, &model.Response{StatusCode: 200, Body: []byte("ok")})
	if string(got.Body) != "OK" {
		t.Fatalf("unexpected body: %s", got.Body)
	}
}

func TestPrehooksDefaultToIdentityAndRecover(t *testing.T) {
	var nilReg *Registry
	if nilReg.PrehookPath("/a") != "/a" || nilReg.PrehookResponse(1) != 1 {
		t.Fatal("nil registry must pass values through")
	}

	reg := NewRegistry(nil)
	if got := reg.PrehookURL("https://h/a"); got != "https://h/a" {
		t.Fatalf("unexpected url: %s", got)
	}

	reg.SetPathPrehook(func(p string) string { return strings.TrimPrefix(p, "/api") })
	reg.SetURLPrehook(func(string) string { panic("bad") })
	reg.SetResponsePrehook(func(v any) any { return map[string]any{"wrapped": v} })

	if got := reg.PrehookPath("/api/pets"); got != "/pets" {
		t.Fatalf("unexpected path: %s", got)
	}
	if got := reg.PrehookURL("https://h/a"); got != "https://h/a" {
		t.Fatalf("panicking prehook must fall back to the input, got %s", got)
	}
	if got := reg.PrehookResponse(1); !reflect.DeepEqual(got, map[string]any{"wrapped": 1}) {
		t.Fatalf("unexpected response: %#v", got)
	}
}

func TestRegistryConcurrentUse(t *testing.T) {
	reg := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.OnRequest("noop", func(ctx context.Context, req *Request) (*Supplement, error) { return nil, nil })
		}()
		go func() {
			defer wg.Done()
			_, _ = reg.RunRequest(context.Background(), &Request{})
		}()
	}
	wg.Wait()
	reqNames, _ := reg.Names()
	if len(reqNames) != 8 {
		t.Fatalf("expected 8 request hooks, got %d", len(reqNames))
	}
}
