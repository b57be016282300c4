package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggonzalez94/swagcli/internal/config"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/golang-jwt/jwt/v5"
)

func headersFor(t *testing.T, a Authenticator) http.Header {
	t.Helper()
	h, err := a.Headers(context.Background(), Request{Method: http.MethodGet, URL: "https://api.example.com/v1/pets?limit=2", Header: http.Header{}})
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	return h
}

func mustNew(t *testing.T, settings config.AuthSettings, client *http.Client) Authenticator {
	t.Helper()
	a, err := New(settings, client)
	if err != nil {
		t.Fatalf("new %s authenticator: %v", settings.Type, err)
	}
	return a
}

func TestNewStaticVariants(t *testing.T) {
	cases := []struct {
		settings config.AuthSettings
		header   string
		want     string
	}{
		{config.AuthSettings{Type: "api_key", APIKey: "k", APIKeyHeader: "api_key"}, "api_key", "k"},
		{config.AuthSettings{Type: "api_key", APIKey: "k"}, "X-API-Key", "k"},
		{config.AuthSettings{Type: "basic", Username: "user", Password: "pass"}, "Authorization", "Basic dXNlcjpwYXNz"},
		{config.AuthSettings{Type: "oauth2", Token: "tok"}, "Authorization", "Bearer tok"},
	}
	for _, tc := range cases {
		if got := headersFor(t, mustNew(t, tc.settings, nil)).Get(tc.header); got != tc.want {
			t.Fatalf("%s: expected %s=%q, got %q", tc.settings.Type, tc.header, tc.want, got)
		}
	}

	if h := headersFor(t, mustNew(t, config.AuthSettings{}, nil)); len(h) != 0 {
		t.Fatalf("expected no headers, got %v", h)
	}
}

func TestNewRejectsIncompleteSettings(t *testing.T) {
	cases := []config.AuthSettings{
		{Type: "api_key"},
		{Type: "bearer"},
		{Type: "jwt"},
		{Type: "aws_sigv4", AWS: config.AWSSettings{AccessKey: "a"}},
		{Type: "client_credentials", ClientID: "id"},
		{Type: "azure_ad", ClientID: "id"},
	}
	for _, settings := range cases {
		_, err := New(settings, nil)
		if !clierr.Is(err, clierr.CodeAuth) {
			t.Fatalf("%s: expected auth error, got %v", settings.Type, err)
		}
	}
	if _, err := New(config.AuthSettings{Type: "kerberos"}, nil); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for unknown type, got %v", err)
	}
}

func TestJWTSignsVerifiableToken(t *testing.T) {
	j, err := NewJWT(config.JWTSettings{Secret: "s3cret", Issuer: "swagcli", Audience: "petstore", Subject: "alice", TTL: time.Minute})
	if err != nil {
		t.Fatalf("new jwt: %v", err)
	}

	raw := strings.TrimPrefix(headersFor(t, j).Get("Authorization"), "Bearer ")
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte("s3cret"), nil },
		jwt.WithValidMethods([]string{"HS256"}), jwt.WithAudience("petstore"), jwt.WithIssuer("swagcli"))
	if err != nil || !tok.Valid {
		t.Fatalf("expected a valid token, got %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}

	if _, err := NewJWT(config.JWTSettings{Secret: "x", Algorithm: "RS256"}); err == nil {
		t.Fatal("expected unsupported algorithm to fail")
	}
}

func TestSigV4SignsRequest(t *testing.T) {
	s, err := NewSigV4(config.AWSSettings{AccessKey: "AKIDEXAMPLE", SecretKey: "secret", Region: "us-east-1", SessionToken: "session"})
	if err != nil {
		t.Fatalf("new sigv4: %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	h, err := s.Headers(context.Background(), Request{Method: http.MethodPost, URL: "https://abc.execute-api.us-east-1.amazonaws.com/prod/pets", Body: []byte(`{"name":"rex"}`)})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := h.Get("Authorization"); !strings.HasPrefix(got, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240102/us-east-1/execute-api/aws4_request") {
		t.Fatalf("unexpected authorization: %s", got)
	}
	if got := h.Get("X-Amz-Date"); got != "20240102T030405Z" {
		t.Fatalf("unexpected date: %s", got)
	}
	if got := h.Get("X-Amz-Security-Token"); got != "session" {
		t.Fatalf("unexpected session token: %s", got)
	}
	if got := h.Get("X-Amz-Content-Sha256"); len(got) != 64 {
		t.Fatalf("unexpected payload hash: %s", got)
	}
}

func tokenServer(t *testing.T, check func(form url.Values)) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if check != nil {
			check(r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"issued","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClientCredentialsReusesToken(t *testing.T) {
	var grant atomic.Value
	srv, hits := tokenServer(t, func(form url.Values) {
		grant.Store(form.Get("grant_type"))
	})
	a := mustNew(t, config.AuthSettings{Type: "oauth2_client_credentials", ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}, srv.Client())

	for i := 0; i < 2; i++ {
		if got := headersFor(t, a).Get("Authorization"); got != "Bearer issued" {
			t.Fatalf("call %d: unexpected authorization: %s", i, got)
		}
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Fatalf("expected a single token request, got %d", got)
	}
	if grant.Load() != "client_credentials" {
		t.Fatalf("unexpected grant type: %v", grant.Load())
	}
}

func TestAzureADDerivesTokenURLFromTenant(t *testing.T) {
	resolved, err := azureADSettings(config.AuthSettings{Type: "azure_ad", ClientID: "id", Tenant: "contoso.onmicrosoft.com"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := "https://login.microsoftonline.com/contoso.onmicrosoft.com/oauth2/v2.0/token"; resolved.TokenURL != want {
		t.Fatalf("unexpected token url: %s", resolved.TokenURL)
	}

	var scope atomic.Value
	srv, _ := tokenServer(t, func(form url.Values) {
		scope.Store(form.Get("scope"))
	})
	a := mustNew(t, config.AuthSettings{
		Type:     "azure_ad",
		ClientID: "id",
		Tenant:   "contoso.onmicrosoft.com",
		TokenURL: srv.URL,
		Scopes:   []string{"api://petstore/.default"},
	}, srv.Client())
	if got := headersFor(t, a).Get("Authorization"); got != "Bearer issued" {
		t.Fatalf("unexpected authorization: %s", got)
	}
	if scope.Load() != "api://petstore/.default" {
		t.Fatalf("unexpected scope: %v", scope.Load())
	}
}

func TestPKCEFlow(t *testing.T) {
	var verifierSent, codeSent atomic.Value
	srv, _ := tokenServer(t, func(form url.Values) {
		verifierSent.Store(form.Get("code_verifier"))
		codeSent.Store(form.Get("code"))
	})
	p, err := NewPKCE(config.AuthSettings{ClientID: "id", AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token", RedirectURL: "http://localhost/cb"}, srv.Client())
	if err != nil {
		t.Fatalf("new pkce: %v", err)
	}

	authURL, verifier := p.AuthCodeURL("state-1")
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := parsed.Query()
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" || q.Get("state") != "state-1" {
		t.Fatalf("unexpected auth url query: %s", parsed.RawQuery)
	}

	tok, err := p.Exchange(context.Background(), "the-code", verifier)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tok.AccessToken != "issued" {
		t.Fatalf("unexpected token: %s", tok.AccessToken)
	}
	if verifierSent.Load() != verifier || codeSent.Load() != "the-code" {
		t.Fatalf("unexpected exchange form: verifier=%v code=%v", verifierSent.Load(), codeSent.Load())
	}
}
