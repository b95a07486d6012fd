package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimitedClient struct {
	base    Client
	limiter *rate.Limiter
}

// NewRateLimited bounds the oracle call rate. A non-positive rps disables limiting.
func NewRateLimited(base Client, rps float64, burst int) Client {
	if base == nil || rps <= 0 {
		return base
	}
	if burst <= 0 {
		burst = 1
	}
	return rateLimitedClient{base: base, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (c rateLimitedClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit wait: %w", err)
	}
	return c.base.Generate(ctx, req)
}
