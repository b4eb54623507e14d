package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry manages tool registration and execution. Tool output is always
// scrubbed of secrets before it reaches a prompt.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a tool by name. Session and topK, when set, are placed in ctx
// for the tool to read.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, sessionID string, topK int) *Result {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return ErrorResult("unknown tool: " + name)
	}

	if sessionID != "" {
		ctx = WithToolSession(ctx, sessionID)
	}
	if topK > 0 {
		ctx = WithToolTopK(ctx, topK)
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	duration := time.Since(start)

	if result.ForLLM != "" {
		result.ForLLM = ScrubSecrets(result.ForLLM)
	}

	slog.Debug("tool executed",
		"tool", name,
		"session", sessionID,
		"duration_ms", duration.Milliseconds(),
		"is_error", result.IsError,
	)

	return result
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders one line per tool for inclusion in a prompt, with the
// tool's parameter names in parentheses.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.List() {
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		if params := paramNames(t.Parameters()); len(params) > 0 {
			fmt.Fprintf(&b, "- %s(%s): %s\n", name, strings.Join(params, ", "), t.Description())
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", name, t.Description())
		}
	}
	return b.String()
}

func paramNames(schema map[string]any) []string {
	props, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
