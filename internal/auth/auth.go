// Package auth provides the request authenticators. Each variant computes
// the headers for one resolved request; the executor merges them over the
// default headers.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/ggonzalez94/swagcli/internal/config"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
)

// Request is the fully resolved request an authenticator may inspect.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Authenticator interface {
	Headers(ctx context.Context, req Request) (http.Header, error)
}

// None adds no headers.
type None struct{}

func (None) Headers(context.Context, Request) (http.Header, error) { return http.Header{}, nil }

type APIKey struct {
	Header string
	Key    string
}

func (a APIKey) Headers(context.Context, Request) (http.Header, error) {
	name := a.Header
	if name == "" {
		name = "X-API-Key"
	}
	h := http.Header{}
	h.Set(name, a.Key)
	return h, nil
}

type Basic struct {
	Username string
	Password string
}

func (b Basic) Headers(context.Context, Request) (http.Header, error) {
	token := base64.StdEncoding.EncodeToString([]byte(b.Username + ":" + b.Password))
	h := http.Header{}
	h.Set("Authorization", "Basic "+token)
	return h, nil
}

type Bearer struct {
	Token string
}

func (b Bearer) Headers(context.Context, Request) (http.Header, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+b.Token)
	return h, nil
}

// New selects the authenticator configured by settings.Type.
func New(settings config.AuthSettings, client *http.Client) (Authenticator, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Type)) {
	case "", "none":
		return None{}, nil
	case "api_key", "apikey":
		if settings.APIKey == "" {
			return nil, missing("api_key")
		}
		return APIKey{Header: settings.APIKeyHeader, Key: settings.APIKey}, nil
	case "basic":
		if settings.Username == "" {
			return nil, missing("username")
		}
		return Basic{Username: settings.Username, Password: settings.Password}, nil
	case "bearer", "oauth2":
		if settings.Token == "" {
			return nil, missing("token")
		}
		return Bearer{Token: settings.Token}, nil
	case "oauth2_client_credentials", "client_credentials":
		cc, err := NewClientCredentials(settings, client)
		if err != nil {
			return nil, err
		}
		return cc, nil
	case "azure_ad", "azure":
		cc, err := NewAzureAD(settings, client)
		if err != nil {
			return nil, err
		}
		return cc, nil
	case "jwt":
		j, err := NewJWT(settings.JWT)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "aws_sigv4", "sigv4":
		s, err := NewSigV4(settings.AWS)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported auth type %q", settings.Type))
	}
}

func missing(key string) error {
	return clierr.New(clierr.CodeAuth, fmt.Sprintf("auth: %s is required", key))
}
