package providers

import (
	"context"

	"golang.org/x/time/rate"
)

// ThrottledEmbedder limits how often the wrapped embedder is called.
type ThrottledEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

func NewThrottledEmbedder(inner Embedder, rps float64, burst int) *ThrottledEmbedder {
	if burst < 1 {
		burst = 1
	}
	return &ThrottledEmbedder{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *ThrottledEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.Embed(ctx, texts)
}
