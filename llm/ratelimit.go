package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider wraps a Provider with a token-bucket limiter so a
// single knowledge base's traffic can't starve every other tenant sharing
// the same upstream API key.
type RateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider caps p to rps requests per second with the given
// burst allowance.
func NewRateLimitedProvider(p Provider, rps float64, burst int) *RateLimitedProvider {
	return &RateLimitedProvider{Provider: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (p *RateLimitedProvider) Generate(ctx context.Context, model string, messages []Message) (string, Usage, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", Usage{}, fmt.Errorf("llm: rate limit wait: %w", err)
	}
	return p.Provider.Generate(ctx, model, messages)
}

func (p *RateLimitedProvider) Stream(ctx context.Context, model string, messages []Message) (<-chan Chunk, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm: rate limit wait: %w", err)
	}
	return p.Provider.Stream(ctx, model, messages)
}

// RateLimitedEmbedder applies the same token-bucket discipline to an
// Embedder backend.
type RateLimitedEmbedder struct {
	Embedder
	limiter *rate.Limiter
}

func NewRateLimitedEmbedder(e Embedder, rps float64, burst int) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{Embedder: e, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (e *RateLimitedEmbedder) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm: rate limit wait: %w", err)
	}
	return e.Embedder.Embed(ctx, model, text)
}
