package providers

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainGenerator generates text through a langchaingo model.
type LangchainGenerator struct {
	llm         llms.Model
	temperature float64
}

func NewLangchainGenerator(llm llms.Model, temperature float64) *LangchainGenerator {
	return &LangchainGenerator{llm: llm, temperature: temperature}
}

func (g *LangchainGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var opts []llms.CallOption
	if g.temperature > 0 {
		opts = append(opts, llms.WithTemperature(g.temperature))
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out, nil
}

// LangchainEmbedder embeds texts through a langchaingo embedder.
type LangchainEmbedder struct {
	e embeddings.Embedder
}

func NewLangchainEmbedder(e embeddings.Embedder) *LangchainEmbedder {
	return &LangchainEmbedder{e: e}
}

func (e *LangchainEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.e.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	return vecs, nil
}

func newOpenAIClient(cfg Config, model string) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(model),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.APIBase != "" {
		opts = append(opts, openai.WithBaseURL(cfg.APIBase))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}
	return llm, nil
}

// NewGenerator builds the configured generator.
func NewGenerator(cfg Config) (Generator, error) {
	cfg, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	llm, err := newOpenAIClient(cfg, cfg.ChatModel)
	if err != nil {
		return nil, err
	}
	var gen Generator = NewLangchainGenerator(llm, cfg.Temperature)
	if cfg.Retries > 0 {
		gen = NewRetryingGenerator(gen, cfg.retryConfig())
	}
	return gen, nil
}

// NewEmbedder builds the configured embedder, wrapped with retries,
// throttling and a query cache when the config asks for them.
func NewEmbedder(cfg Config) (Embedder, error) {
	cfg, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	llm, err := newOpenAIClient(cfg, cfg.ChatModel)
	if err != nil {
		return nil, err
	}
	e, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(cfg.EmbedBatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	var out Embedder = NewLangchainEmbedder(e)
	if cfg.Retries > 0 {
		out = NewRetryingEmbedder(out, cfg.retryConfig())
	}
	if cfg.EmbedRPS > 0 {
		out = NewThrottledEmbedder(out, cfg.EmbedRPS, cfg.EmbedBurst)
	}
	if cfg.CacheSize > 0 {
		cached, err := NewCachedEmbedder(out, cfg.EmbeddingModel, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		out = cached
	}
	return out, nil
}
