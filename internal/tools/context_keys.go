package tools

import "context"

type toolContextKey string

const (
	ctxSessionID toolContextKey = "tool_session_id"
	ctxTopK      toolContextKey = "tool_top_k"
)

// WithToolSession sets the chat session a tool call acts on.
func WithToolSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxSessionID, sessionID)
}

func ToolSessionFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionID).(string)
	return v
}

// WithToolTopK sets the result count for retrieval tools.
func WithToolTopK(ctx context.Context, topK int) context.Context {
	return context.WithValue(ctx, ctxTopK, topK)
}

func ToolTopKFromCtx(ctx context.Context) int {
	v, _ := ctx.Value(ctxTopK).(int)
	return v
}
