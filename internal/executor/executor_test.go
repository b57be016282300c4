package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggonzalez94/swagcli/internal/auth"
	"github.com/ggonzalez94/swagcli/internal/binder"
	"github.com/ggonzalez94/swagcli/internal/cache"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/hooks"
	"github.com/ggonzalez94/swagcli/internal/httpx"
	"github.com/ggonzalez94/swagcli/internal/model"
)

type recorded struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   []byte
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func petServer(t *testing.T, status int, payload string) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.calls = append(rec.calls, recorded{method: r.Method, path: r.URL.Path, query: r.URL.Query(), header: r.Header.Clone(), body: body})
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func mustExecute(t *testing.T, ex *Executor, req Request) *model.Response {
	t.Helper()
	resp, err := ex.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute %s %s: %v", req.Method, req.URLTemplate, err)
	}
	return resp
}

func assertJSONEqual(t *testing.T, want, got string) {
	t.Helper()
	var w, g any
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("decode expected json: %v", err)
	}
	if err := json.Unmarshal([]byte(got), &g); err != nil {
		t.Fatalf("decode json %q: %v", got, err)
	}
	if !reflect.DeepEqual(w, g) {
		t.Fatalf("json mismatch:\nwant %s\ngot  %s", want, got)
	}
}

func slots(kind string, pairs ...any) binder.Slots {
	s := binder.Slots{}
	for i := 0; i+1 < len(pairs); i += 2 {
		s[kind] = append(s[kind], binder.Binding{Name: pairs[i].(string), Value: pairs[i+1]})
	}
	return s
}

func TestExecuteResolvesPathArgument(t *testing.T) {
	srv, calls := petServer(t, http.StatusOK, `{"id":7,"name":"rex"}`)
	ex := New(Options{HTTP: httpx.New(5*time.Second, 1)})

	resp := mustExecute(t, ex, Request{
		Method:      "get",
		URLTemplate: srv.URL + "/v2/pet/{petId}",
		Slots:       slots(binder.SlotPath, "petId", 7),
	})
	if resp.StatusCode != http.StatusOK || resp.Method != http.MethodGet {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, resp.Method)
	}
	assertJSONEqual(t, `{"id":7,"name":"rex"}`, string(resp.Body))
	all := calls.all()
	if len(all) != 1 {
		t.Fatalf("expected one call, got %d", len(all))
	}
	if all[0].path != "/v2/pet/7" {
		t.Fatalf("unexpected path: %s", all[0].path)
	}
	if got := all[0].header.Get("Accept"); got != "application/json" {
		t.Fatalf("unexpected accept header: %s", got)
	}
}

func TestExecuteMissingPathArgument(t *testing.T) {
	ex := New(Options{HTTP: httpx.New(time.Second, 1)})
	_, err := ex.Execute(context.Background(), Request{
		Method:      "GET",
		URLTemplate: "https://petstore.example.com/v2/pet/{petId}",
		Slots:       binder.Slots{binder.SlotPath: {{Name: "petId"}}},
	})
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "petId") {
		t.Fatalf("expected the argument name in %v", err)
	}
}

func TestExecuteCachesSuccessfulGets(t *testing.T) {
	srv, calls := petServer(t, http.StatusOK, `[{"id":1}]`)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := cache.NewMemory(10, clock)
	ex := New(Options{HTTP: httpx.New(5*time.Second, 1), Cache: store, CacheTTL: time.Minute, Now: clock})

	req := Request{
		Method:      http.MethodGet,
		URLTemplate: srv.URL + "/v2/pet/findByStatus",
		Slots:       slots(binder.SlotQuery, "status", []any{"available"}),
	}
	first := mustExecute(t, ex, req)
	if first.CacheHit {
		t.Fatal("first request must miss the cache")
	}

	now = now.Add(10 * time.Second)
	second := mustExecute(t, ex, req)
	if !second.CacheHit || second.CacheAge != 10*time.Second {
		t.Fatalf("expected a 10s old cache hit, got hit=%v age=%s", second.CacheHit, second.CacheAge)
	}
	if string(first.Body) != string(second.Body) || second.CacheStatus().Status != "hit" {
		t.Fatalf("unexpected cached response: %s %s", second.Body, second.CacheStatus().Status)
	}
	if n := len(calls.all()); n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}

	now = now.Add(2 * time.Minute)
	if third := mustExecute(t, ex, req); third.CacheHit {
		t.Fatal("expired entry must not be served")
	}
	if n := len(calls.all()); n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}

	req.NoCache = true
	mustExecute(t, ex, req)
	if n := len(calls.all()); n != 3 {
		t.Fatalf("expected 3 calls, got %d", n)
	}
}

func TestExecuteDoesNotCacheFailuresOrWrites(t *testing.T) {
	srv, calls := petServer(t, http.StatusNotFound, `{"message":"not found"}`)
	store := cache.NewMemory(10, nil)
	ex := New(Options{HTTP: httpx.New(5*time.Second, 1), Cache: store})

	for i := 0; i < 2; i++ {
		resp := mustExecute(t, ex, Request{Method: "GET", URLTemplate: srv.URL + "/v2/pet/{petId}", Slots: slots(binder.SlotPath, "petId", 404)})
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("unexpected status: %d", resp.StatusCode)
		}
	}
	n, err := store.Len()
	if err != nil || n != 0 {
		t.Fatalf("expected an empty cache, got %d err=%v", n, err)
	}
	if got := len(calls.all()); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestExecuteRetriesUpToMaxAttempts(t *testing.T) {
	var attempts int32
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})
	client := httpx.New(time.Second, 3, httpx.WithTransport(rt), httpx.WithBackoffBase(time.Millisecond))
	ex := New(Options{HTTP: client})

	_, err := ex.Execute(context.Background(), Request{Method: "GET", URLTemplate: "http://petstore.invalid/v2/store/inventory"})
	if !clierr.Is(err, clierr.CodeConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestExecuteHeaderPrecedence(t *testing.T) {
	srv, calls := petServer(t, http.StatusOK, `{}`)
	ex := New(Options{
		HTTP:      httpx.New(5*time.Second, 1),
		Auth:      auth.APIKey{Header: "api_key", Key: "from-auth"},
		Headers:   map[string]string{"api_key": "from-config", "X-Trace": "cfg"},
		UserAgent: "swagcli-test",
	})

	mustExecute(t, ex, Request{
		Method:      http.MethodDelete,
		URLTemplate: srv.URL + "/v2/pet/{petId}",
		Slots: binder.Slots{
			binder.SlotPath:   {{Name: "petId", Value: 3}},
			binder.SlotHeader: {{Name: "X-Trace", Value: "slot"}},
		},
	})
	all := calls.all()
	if len(all) != 1 || all[0].method != http.MethodDelete {
		t.Fatalf("expected one DELETE, got %#v", all)
	}
	h := all[0].header
	if h.Get("api_key") != "from-auth" || h.Get("X-Trace") != "slot" || h.Get("User-Agent") != "swagcli-test" {
		t.Fatalf("unexpected header precedence: %v", h)
	}
}

func TestExecuteSendsJSONBody(t *testing.T) {
	srv, calls := petServer(t, http.StatusOK, `{"id":1}`)
	ex := New(Options{HTTP: httpx.New(5*time.Second, 1)})

	mustExecute(t, ex, Request{
		Method:      http.MethodPost,
		URLTemplate: srv.URL + "/v2/pet",
		Slots:       slots(binder.SlotBody, "body", `{"name":"rex","tags":[1,2]}`),
	})
	all := calls.all()
	if len(all) != 1 {
		t.Fatalf("expected one call, got %d", len(all))
	}
	if got := all[0].header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type: %s", got)
	}
	assertJSONEqual(t, `{"name":"rex","tags":[1,2]}`, string(all[0].body))
}

func TestExecuteReadsBodyFromStdin(t *testing.T) {
	srv, calls := petServer(t, http.StatusOK, `{}`)
	ex := New(Options{HTTP: httpx.New(5*time.Second, 1), Stdin: strings.NewReader(`{"name":"stdin"}`)})

	mustExecute(t, ex, Request{Method: "PUT", URLTemplate: srv.URL + "/v2/pet", Slots: slots(binder.SlotBody, "body", "-")})
	assertJSONEqual(t, `{"name":"stdin"}`, string(calls.all()[0].body))
}

func TestExecuteQueryCollectionFormats(t *testing.T) {
	srv, calls := petServer(t, http.StatusOK, `[]`)
	ex := New(Options{HTTP: httpx.New(5*time.Second, 1)})

	mustExecute(t, ex, Request{
		Method:      http.MethodGet,
		URLTemplate: srv.URL + "/v2/pet/findByStatus",
		Slots: binder.Slots{binder.SlotQuery: {
			{Name: "status", Value: []any{"available", "sold"}, CollectionFormat: "multi"},
			{Name: "tags", Value: []any{"a", "b"}, CollectionFormat: "csv"},
			{Name: "ids", Value: []any{1, 2}, CollectionFormat: "pipes"},
			{Name: "unset"},
		}},
	})
	q := calls.all()[0].query
	if !reflect.DeepEqual(q["status"], []string{"available", "sold"}) {
		t.Fatalf("unexpected multi values: %v", q["status"])
	}
	if q.Get("tags") != "a,b" || q.Get("ids") != "1|2" {
		t.Fatalf("unexpected joined values: tags=%s ids=%s", q.Get("tags"), q.Get("ids"))
	}
	if _, present := q["unset"]; present {
		t.Fatal("unset parameter must be omitted")
	}
}

func TestExecuteHookFilesSwitchToMultipart(t *testing.T) {
	srv, calls := petServer(t, http.StatusOK, `{}`)
	reg := hooks.NewRegistry(nil)
	reg.OnRequest("upload", func(_ context.Context, req *hooks.Request) (*hooks.Supplement, error) {
		delete(req.Form, "file")
		return &hooks.Supplement{Files: []hooks.File{{Field: "file", Filename: "rex.png", ContentType: "image/png", Data: []byte("png")}}}, nil
	})
	ex := New(Options{HTTP: httpx.New(5*time.Second, 1), Hooks: reg})

	mustExecute(t, ex, Request{
		Method:      http.MethodPost,
		URLTemplate: srv.URL + "/v2/pet/{petId}/uploadImage",
		Slots: binder.Slots{
			binder.SlotPath:     {{Name: "petId", Value: 1}},
			binder.SlotFormData: {{Name: "additionalMetadata", Value: "cute"}, {Name: "file", Value: "@rex.png"}},
		},
	})
	call := calls.all()[0]
	mediaType, params, err := mime.ParseMediaType(call.header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("expected multipart body, got %q err=%v", mediaType, err)
	}

	form, err := multipart.NewReader(strings.NewReader(string(call.body)), params["boundary"]).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("read multipart form: %v", err)
	}
	if !reflect.DeepEqual(form.Value["additionalMetadata"], []string{"cute"}) {
		t.Fatalf("unexpected form values: %v", form.Value)
	}
	if files := form.File["file"]; len(files) != 1 || files[0].Filename != "rex.png" {
		t.Fatalf("unexpected form files: %#v", form.File)
	}
}

func TestExecuteFormDataIsURLEncoded(t *testing.T) {
	srv, calls := petServer(t, http.StatusOK, `{}`)
	ex := New(Options{HTTP: httpx.New(5*time.Second, 1)})

	mustExecute(t, ex, Request{Method: "POST", URLTemplate: srv.URL + "/v2/pet/{petId}", Slots: binder.Slots{
		binder.SlotPath:     {{Name: "petId", Value: 9}},
		binder.SlotFormData: {{Name: "name", Value: "rex"}, {Name: "status", Value: "sold"}},
	}})
	call := calls.all()[0]
	if got := call.header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type: %s", got)
	}
	values, err := url.ParseQuery(string(call.body))
	if err != nil {
		t.Fatalf("parse form body: %v", err)
	}
	if values.Get("name") != "rex" || values.Get("status") != "sold" {
		t.Fatalf("unexpected form values: %v", values)
	}
}

func TestExecuteValidationHookAborts(t *testing.T) {
	srv, calls := petServer(t, http.StatusOK, `{}`)
	reg := hooks.NewRegistry(nil)
	reg.OnRequest("validator", func(context.Context, *hooks.Request) (*hooks.Supplement, error) {
		return nil, &hooks.ValidationError{Message: "request body is invalid", Details: []string{"name is required"}}
	})
	ex := New(Options{HTTP: httpx.New(5*time.Second, 1), Hooks: reg})

	_, err := ex.Execute(context.Background(), Request{Method: "POST", URLTemplate: srv.URL + "/v2/pet", Slots: slots(binder.SlotBody, "body", `{}`)})
	if !clierr.Is(err, clierr.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := len(calls.all()); n != 0 {
		t.Fatalf("expected no request to be sent, got %d", n)
	}
}

func TestExecuteURLPrehookAndResponseHook(t *testing.T) {
	srv, calls := petServer(t, http.StatusOK, `{"id":1}`)
	reg := hooks.NewRegistry(nil)
	reg.SetURLPrehook(func(u string) string { return strings.Replace(u, "/v1/", "/v2/", 1) })
	reg.OnResponse("tag", func(_ context.Context, _ *hooks.Request, resp *model.Response) (*model.Response, error) {
		var doc map[string]any
		if err := json.Unmarshal(resp.Body, &doc); err != nil {
			return nil, err
		}
		doc["tagged"] = true
		out := *resp
		out.Body, _ = json.Marshal(doc)
		return &out, nil
	})
	ex := New(Options{HTTP: httpx.New(5*time.Second, 1), Hooks: reg})

	resp := mustExecute(t, ex, Request{Method: "GET", URLTemplate: srv.URL + "/v1/store/inventory"})
	if got := calls.all()[0].path; got != "/v2/store/inventory" {
		t.Fatalf("unexpected path: %s", got)
	}
	assertJSONEqual(t, `{"id":1,"tagged":true}`, string(resp.Body))
}

func TestResolveURLEscapesValues(t *testing.T) {
	got, err := ResolveURL("https://api.example.com/user/{username}", []binder.Binding{{Name: "USERNAME", Value: "a b/c"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://api.example.com/user/a%20b%2Fc" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestResolveURLArgumentsInsideSegments(t *testing.T) {
	got, err := ResolveURL("https://api.example.com/v{version}/files/{name}.json", []binder.Binding{
		{Name: "version", Value: 2},
		{Name: "name", Value: "report"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://api.example.com/v2/files/report.json" {
		t.Fatalf("unexpected url: %s", got)
	}
}
