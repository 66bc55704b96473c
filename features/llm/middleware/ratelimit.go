// Package middleware provides llm.Gateway decorators.
package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/agentexhq/agentex/runtime/llm"
)

// RateLimited wraps a gateway with a token-bucket limiter. Complete blocks
// until a token is available or the context is done, which keeps bursty
// decision loops inside the provider's request budget.
type RateLimited struct {
	next    llm.Gateway
	limiter *rate.Limiter
}

// NewRateLimited builds a rate-limited gateway allowing rps requests per
// second with the given burst.
func NewRateLimited(next llm.Gateway, rps float64, burst int) (*RateLimited, error) {
	if next == nil {
		return nil, fmt.Errorf("rate limit middleware: gateway is required")
	}
	if rps <= 0 {
		return nil, fmt.Errorf("rate limit middleware: rps must be positive, got %v", rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}, nil
}

// Complete implements llm.Gateway.
func (g *RateLimited) Complete(ctx context.Context, cfg *llm.Config) (*llm.Completion, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return g.next.Complete(ctx, cfg)
}
