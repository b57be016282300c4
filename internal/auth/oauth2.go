package auth

import (
	"context"
	"net/http"

	"github.com/ggonzalez94/swagcli/internal/config"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

// ClientCredentials fetches and reuses an OAuth2 token from the token
// endpoint.
type ClientCredentials struct {
	source oauth2.TokenSource
}

func NewClientCredentials(settings config.AuthSettings, client *http.Client) (*ClientCredentials, error) {
	if settings.ClientID == "" {
		return nil, missing("client_id")
	}
	if settings.TokenURL == "" {
		return nil, missing("token_url")
	}
	cfg := clientcredentials.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		TokenURL:     settings.TokenURL,
		Scopes:       settings.Scopes,
	}
	return &ClientCredentials{source: cfg.TokenSource(clientContext(context.Background(), client))}, nil
}

// NewAzureAD is the client-credentials flow against the Microsoft identity
// platform. The token endpoint comes from the tenant unless token_url is set.
func NewAzureAD(settings config.AuthSettings, client *http.Client) (*ClientCredentials, error) {
	resolved, err := azureADSettings(settings)
	if err != nil {
		return nil, err
	}
	return NewClientCredentials(resolved, client)
}

func azureADSettings(settings config.AuthSettings) (config.AuthSettings, error) {
	if settings.TokenURL != "" {
		return settings, nil
	}
	if settings.Tenant == "" {
		return settings, missing("tenant")
	}
	settings.TokenURL = microsoft.AzureADEndpoint(settings.Tenant).TokenURL
	return settings, nil
}

func (c *ClientCredentials) Headers(context.Context, Request) (http.Header, error) {
	tok, err := c.source.Token()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeAuth, "fetch oauth2 token", err)
	}
	h := http.Header{}
	tok.SetAuthHeader(&http.Request{Header: h})
	return h, nil
}

// PKCE drives an authorization-code flow with a S256 code challenge.
type PKCE struct {
	cfg    oauth2.Config
	client *http.Client
}

func NewPKCE(settings config.AuthSettings, client *http.Client) (*PKCE, error) {
	if settings.ClientID == "" {
		return nil, missing("client_id")
	}
	if settings.AuthURL == "" || settings.TokenURL == "" {
		return nil, missing("auth_url and token_url")
	}
	return &PKCE{
		cfg: oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			RedirectURL:  settings.RedirectURL,
			Scopes:       settings.Scopes,
			Endpoint:     oauth2.Endpoint{AuthURL: settings.AuthURL, TokenURL: settings.TokenURL},
		},
		client: client,
	}, nil
}

// AuthCodeURL returns the URL to visit and the verifier to keep for the
// exchange.
func (p *PKCE) AuthCodeURL(state string) (string, string) {
	verifier := oauth2.GenerateVerifier()
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)), verifier
}

func (p *PKCE) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	tok, err := p.cfg.Exchange(clientContext(ctx, p.client), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeAuth, "exchange authorization code", err)
	}
	return tok, nil
}

func clientContext(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}
