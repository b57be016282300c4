package plugins

import (
	"context"

	"github.com/ggonzalez94/swagcli/internal/hooks"
	"golang.org/x/time/rate"
)

// RateLimiter delays outgoing requests to at most rps per second.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimiter) Register(reg *hooks.Registry) {
	reg.OnRequest("rate_limiter", r.wait)
}

func (r *RateLimiter) wait(ctx context.Context, _ *hooks.Request) (*hooks.Supplement, error) {
	return nil, r.limiter.Wait(ctx)
}
