package tools

import (
	"context"
	"errors"

	"github.com/nextlevelbuilder/chatclone/internal/tone"
)

// GuideLoader returns a session's stored tone guide.
type GuideLoader func(sessionID string) (*tone.Guide, error)

// ToneGuideTool returns the counterpart's tone guide.
type ToneGuideTool struct {
	load GuideLoader
}

func NewToneGuideTool(load GuideLoader) *ToneGuideTool {
	return &ToneGuideTool{load: load}
}

func (t *ToneGuideTool) Name() string { return NameGetToneGuide }

func (t *ToneGuideTool) Description() string {
	return "读取该好友的性格说明书，用于只需模仿语气、不需查询事实的回复。"
}

func (t *ToneGuideTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *ToneGuideTool) Execute(ctx context.Context, _ map[string]any) *Result {
	g, err := t.load(ToolSessionFromCtx(ctx))
	if errors.Is(err, tone.ErrNoGuide) {
		return NewResult(tone.MissingGuideText)
	}
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(g.PromptText())
}
