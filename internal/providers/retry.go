package providers

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig controls exponential backoff for failed model calls.
type RetryConfig struct {
	MaxRetries int           // 0 disables retrying
	BaseDelay  time.Duration // first backoff, default 1s
	MaxDelay   time.Duration // backoff cap, default 20s
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 20 * time.Second
	}
	return c
}

// retry runs fn until it succeeds, returns a permanent error, or retries
// run out. Context errors and count mismatches are permanent.
func retry[T any](ctx context.Context, cfg RetryConfig, op string, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var (
		out T
		err error
	)
	for attempt := 0; ; attempt++ {
		out, err = fn()
		if err == nil || attempt >= cfg.MaxRetries || permanent(err) {
			return out, err
		}
		delay := backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt)
		slog.Debug("model call failed, retrying", "op", op, "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return out, err
		case <-timer.C:
		}
	}
}

func permanent(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrEmbeddingMismatch) ||
		errors.Is(err, ErrNotConfigured)
}

// backoffWithJitter is min(base * 2^attempt, max) plus up to ±25% jitter.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	if quarter := delay / 4; quarter > 0 {
		delay += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
	}
	return delay
}

// RetryingEmbedder retries transient embedding failures.
type RetryingEmbedder struct {
	inner Embedder
	cfg   RetryConfig
}

func NewRetryingEmbedder(inner Embedder, cfg RetryConfig) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, cfg: cfg}
}

func (r *RetryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return retry(ctx, r.cfg, "embed", func() ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

// RetryingGenerator retries transient generation failures.
type RetryingGenerator struct {
	inner Generator
	cfg   RetryConfig
}

func NewRetryingGenerator(inner Generator, cfg RetryConfig) *RetryingGenerator {
	return &RetryingGenerator{inner: inner, cfg: cfg}
}

func (r *RetryingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return retry(ctx, r.cfg, "generate", func() (string, error) {
		return r.inner.Generate(ctx, prompt)
	})
}
