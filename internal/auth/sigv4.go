package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/ggonzalez94/swagcli/internal/config"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
)

// SigV4 signs requests for AWS-hosted APIs such as API Gateway.
type SigV4 struct {
	creds   aws.Credentials
	region  string
	service string
	signer  *v4.Signer
	now     func() time.Time
}

func NewSigV4(settings config.AWSSettings) (*SigV4, error) {
	if settings.AccessKey == "" || settings.SecretKey == "" {
		return nil, missing("aws.access_key and aws.secret_key")
	}
	if settings.Region == "" {
		return nil, missing("aws.region")
	}
	service := settings.Service
	if service == "" {
		service = "execute-api"
	}
	return &SigV4{
		creds: aws.Credentials{
			AccessKeyID:     settings.AccessKey,
			SecretAccessKey: settings.SecretKey,
			SessionToken:    settings.SessionToken,
		},
		region:  settings.Region,
		service: service,
		signer:  v4.NewSigner(),
		now:     time.Now,
	}, nil
}

func (s *SigV4) Headers(ctx context.Context, req Request) (http.Header, error) {
	signReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeAuth, "build request for signing", err)
	}
	for k, vs := range req.Header {
		signReq.Header[k] = append([]string(nil), vs...)
	}
	sum := sha256.Sum256(req.Body)
	payloadHash := hex.EncodeToString(sum[:])
	signReq.Header.Set("X-Amz-Content-Sha256", payloadHash)

	if err := s.signer.SignHTTP(ctx, s.creds, signReq, payloadHash, s.service, s.region, s.now().UTC()); err != nil {
		return nil, clierr.Wrap(clierr.CodeAuth, "sign request", err)
	}

	h := http.Header{}
	for _, key := range []string{"Authorization", "X-Amz-Date", "X-Amz-Security-Token", "X-Amz-Content-Sha256"} {
		if v := signReq.Header.Get(key); v != "" {
			h.Set(key, v)
		}
	}
	return h, nil
}
