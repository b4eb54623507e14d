package providers

import (
	"fmt"
	"strings"
)

const (
	dashscopeDefaultBase = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
	ollamaDefaultBase    = "http://localhost:11434/v1"
)

type preset struct {
	apiBase        string
	chatModel      string
	embeddingModel string
	needsKey       bool
}

// All presets speak the OpenAI-compatible API; they differ in endpoint and defaults.
var presets = map[string]preset{
	"openai": {
		chatModel:      "gpt-4o-mini",
		embeddingModel: "text-embedding-3-small",
		needsKey:       true,
	},
	"dashscope": {
		apiBase:        dashscopeDefaultBase,
		chatModel:      "qwen3-max",
		embeddingModel: "text-embedding-v3",
		needsKey:       true,
	},
	"ollama": {
		apiBase:        ollamaDefaultBase,
		chatModel:      "qwen2.5",
		embeddingModel: "nomic-embed-text",
	},
}

// Resolve fills unset fields from the provider preset and checks credentials.
func (c Config) Resolve() (Config, error) {
	name := strings.ToLower(strings.TrimSpace(c.Provider))
	if name == "" {
		name = "openai"
	}
	p, ok := presets[name]
	if !ok {
		return c, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, c.Provider)
	}
	c.Provider = name
	if c.APIBase == "" {
		c.APIBase = p.apiBase
	}
	if c.ChatModel == "" {
		c.ChatModel = p.chatModel
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = p.embeddingModel
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 64
	}
	if p.needsKey && c.APIKey == "" {
		return c, fmt.Errorf("%w: %s requires an API key", ErrNotConfigured, name)
	}
	if !p.needsKey && c.APIKey == "" {
		// The OpenAI client refuses an empty token even for keyless servers.
		c.APIKey = "unused"
	}
	return c, nil
}
