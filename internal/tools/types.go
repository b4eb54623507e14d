// Package tools holds the tools the chat agent may call and the registry
// that executes them.
package tools

import "context"

// Tool is the interface all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Tool names the agent understands.
const (
	NameQueryChatHistory = "query_chat_history"
	NameGetToneGuide     = "get_tone_guide"
	NameNone             = "none"
)
