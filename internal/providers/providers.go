// Package providers adapts model services to the small interfaces the
// pipeline needs: text generation and text embedding.
package providers

import (
	"context"
	"errors"
)

// Generator produces a completion for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder turns texts into vectors, one per text and in the same order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	// ErrNotConfigured is returned when a model service is used without credentials.
	ErrNotConfigured = errors.New("model provider not configured")

	// ErrEmbeddingMismatch is returned when an embedder returns a different
	// number of vectors than it was given texts.
	ErrEmbeddingMismatch = errors.New("embedding count does not match chunk count")
)

// Config selects and tunes a model service.
type Config struct {
	Provider       string  `json:"provider,omitempty"` // openai, dashscope, ollama
	APIKey         string  `json:"-"`
	APIBase        string  `json:"api_base,omitempty"`
	ChatModel      string  `json:"chat_model,omitempty"`
	EmbeddingModel string  `json:"embedding_model,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	EmbedBatchSize int     `json:"embed_batch_size,omitempty"`
	EmbedRPS       float64 `json:"embed_rps,omitempty"` // 0 disables throttling
	EmbedBurst     int     `json:"embed_burst,omitempty"`
	CacheSize      int     `json:"cache_size,omitempty"` // 0 disables the query cache
	Retries        int     `json:"retries,omitempty"`    // retries per model call, 0 disables
}

func (c Config) retryConfig() RetryConfig {
	return RetryConfig{MaxRetries: c.Retries}
}
