package tone

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/chatclone/internal/normalize"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
)

// Builder turns sampled messages into a stored guide.
type Builder struct {
	gen         providers.Generator
	store       *FileStore
	model       string
	tokenBudget int
	countTokens TokenCounter
	now         func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTokenBudget caps the sample text sent to the model.
func WithTokenBudget(n int, count TokenCounter) BuilderOption {
	return func(b *Builder) {
		b.tokenBudget = n
		if count != nil {
			b.countTokens = count
		}
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(gen providers.Generator, store *FileStore, model string, opts ...BuilderOption) *Builder {
	b := &Builder{
		gen:         gen,
		store:       store,
		model:       model,
		tokenBudget: DefaultTokenBudget,
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	if b.countTokens == nil {
		b.countTokens = DefaultTokenCounter()
	}
	return b
}

// Build asks the model for a guide over samples and saves it.
func (b *Builder) Build(ctx context.Context, sessionID string, samples []normalize.Message) (*Guide, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if b.gen == nil {
		return nil, providers.ErrNotConfigured
	}

	texts := make([]string, len(samples))
	for i, m := range samples {
		texts[i] = m.Content
	}
	prompt, kept := BuildPrompt(texts, b.tokenBudget, b.countTokens)
	if kept < len(texts) {
		slog.Debug("tone samples trimmed to budget", "session", sessionID, "kept", kept, "sampled", len(texts))
	}

	resp, err := b.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate tone guide: %w", err)
	}

	g := ParseGuide(sessionID, b.model, kept, resp, b.now())
	if err := b.store.Save(g); err != nil {
		return nil, err
	}
	slog.Info("tone guide generated", "session", sessionID, "samples", kept, "structured", g.Details != nil)
	return g, nil
}
