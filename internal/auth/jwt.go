package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ggonzalez94/swagcli/internal/config"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/golang-jwt/jwt/v5"
)

// JWT signs a short-lived HMAC token for every request.
type JWT struct {
	secret   []byte
	method   jwt.SigningMethod
	issuer   string
	audience string
	subject  string
	ttl      time.Duration
	now      func() time.Time
}

func NewJWT(settings config.JWTSettings) (*JWT, error) {
	if settings.Secret == "" {
		return nil, missing("jwt.secret")
	}
	alg := settings.Algorithm
	if alg == "" {
		alg = "HS256"
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported jwt algorithm %q", alg))
	}
	ttl := settings.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWT{
		secret:   []byte(settings.Secret),
		method:   method,
		issuer:   settings.Issuer,
		audience: settings.Audience,
		subject:  settings.Subject,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

func (j *JWT) Headers(context.Context, Request) (http.Header, error) {
	now := j.now()
	claims := jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   j.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}
	signed, err := jwt.NewWithClaims(j.method, claims).SignedString(j.secret)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeAuth, "sign jwt", err)
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+signed)
	return h, nil
}
