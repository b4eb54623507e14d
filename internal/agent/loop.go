package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/chatclone/internal/llmjson"
	"github.com/nextlevelbuilder/chatclone/internal/metrics"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
	"github.com/nextlevelbuilder/chatclone/internal/tone"
	"github.com/nextlevelbuilder/chatclone/internal/tools"
)

// Decision is the model's choice in the first turn.
type Decision struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Response   string         `json:"response,omitempty"`
}

// ParseDecision reads the first JSON object in raw as a decision.
func ParseDecision(raw string) (Decision, bool) {
	var d Decision
	if err := llmjson.Decode(raw, &d); err != nil {
		return Decision{}, false
	}
	return d, true
}

// Keyword returns the string "keyword" parameter, trimmed.
func (d Decision) Keyword() string {
	k, _ := d.Parameters["keyword"].(string)
	return strings.TrimSpace(k)
}

// Request is one chat turn.
type Request struct {
	SessionID string
	Message   string
	Guide     *tone.Guide // nil when the session has none
	TopK      int
}

// Loop runs chat turns. It is safe for concurrent use.
type Loop struct {
	gen         providers.Generator
	tools       *tools.Registry
	guard       *InputGuard
	guardAction string
	metrics     *metrics.Metrics
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	Generator   providers.Generator
	Tools       *tools.Registry
	GuardAction string // log, warn, block or off
	Metrics     *metrics.Metrics
}

func NewLoop(cfg LoopConfig) *Loop {
	return &Loop{
		gen:         cfg.Generator,
		tools:       cfg.Tools,
		guard:       NewInputGuard(),
		guardAction: NormalizeGuardAction(cfg.GuardAction),
		metrics:     cfg.Metrics,
	}
}

// Run answers one message. The model first decides whether to call a tool;
// an unreadable decision is returned to the user as is.
func (l *Loop) Run(ctx context.Context, req Request) (string, error) {
	if l.gen == nil {
		return "", providers.ErrNotConfigured
	}
	if err := l.checkInput(req); err != nil {
		return "", err
	}

	toneText := req.Guide.PromptText()
	raw, err := l.gen.Generate(ctx, decidePrompt(l.tools.Describe(), toneText, req.Message))
	if err != nil {
		return "", fmt.Errorf("decide: %w", err)
	}

	d, ok := ParseDecision(raw)
	if !ok {
		l.metrics.RecordTool("unparsed")
		slog.Debug("agent decision unparsed", "session", req.SessionID)
		return raw, nil
	}
	l.metrics.RecordTool(d.Tool)

	switch d.Tool {
	case tools.NameNone:
		if d.Response != "" {
			return d.Response, nil
		}
		return raw, nil

	case tools.NameQueryChatHistory:
		keyword := d.Keyword()
		if keyword == "" {
			return raw, nil
		}
		res := l.tools.Execute(ctx, d.Tool, map[string]any{"keyword": keyword}, req.SessionID, req.TopK)
		if res.IsError {
			slog.Warn("agent tool failed", "tool", d.Tool, "session", req.SessionID, "error", res.ForLLM)
		}
		return l.respond(ctx, answerWithMemoryPrompt(toneText, req.Message, res.ForLLM))

	case tools.NameGetToneGuide:
		res := l.tools.Execute(ctx, d.Tool, nil, req.SessionID, 0)
		if !res.IsError {
			toneText = res.ForLLM
		}
		return l.respond(ctx, answerInCharacterPrompt(toneText, req.Message))

	default:
		return raw, nil
	}
}

func (l *Loop) respond(ctx context.Context, prompt string) (string, error) {
	out, err := l.gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("respond: %w", err)
	}
	return out, nil
}

func (l *Loop) checkInput(req Request) error {
	if l.guardAction == GuardOff {
		return nil
	}
	matches := l.guard.Scan(req.Message)
	if len(matches) == 0 {
		return nil
	}
	switch l.guardAction {
	case GuardBlock:
		slog.Warn("agent input blocked", "session", req.SessionID, "patterns", matches)
		return fmt.Errorf("%w: %s", ErrInjectionBlocked, strings.Join(matches, ","))
	case GuardLog:
		slog.Info("agent input matched guard", "session", req.SessionID, "patterns", matches)
	default:
		slog.Warn("agent input matched guard", "session", req.SessionID, "patterns", matches)
	}
	return nil
}

// IsBlocked reports whether err came from the input guard.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrInjectionBlocked)
}
