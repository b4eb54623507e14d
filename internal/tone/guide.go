package tone

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nextlevelbuilder/chatclone/internal/llmjson"
)

// DefaultSampleSize is the number of messages sampled for a guide.
const DefaultSampleSize = 500

var (
	// ErrNoSamples is returned when the session has no counterpart messages.
	ErrNoSamples = errors.New("no counterpart messages to sample")

	// ErrNoGuide is returned when a session has no stored tone guide.
	ErrNoGuide = errors.New("no tone guide for session")
)

// Guide describes how the counterpart talks.
type Guide struct {
	SessionID  string         `json:"sessionId" yaml:"sessionId"`
	CreatedAt  time.Time      `json:"createdAt" yaml:"createdAt"`
	Model      string         `json:"model" yaml:"model"`
	SampleSize int            `json:"sampleSize" yaml:"sampleSize"`
	Summary    string         `json:"summary" yaml:"summary"`
	Details    map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// PromptText renders the guide for inclusion in a prompt.
func (g *Guide) PromptText() string {
	if g == nil {
		return MissingGuideText
	}
	b, err := json.Marshal(g)
	if err != nil {
		return g.Summary
	}
	return string(b)
}

// ParseGuide reads a model response into a guide. A response without a
// readable JSON object becomes the summary verbatim.
func ParseGuide(sessionID, model string, sampleSize int, response string, now time.Time) *Guide {
	g := &Guide{
		SessionID:  sessionID,
		CreatedAt:  now.UTC(),
		Model:      model,
		SampleSize: sampleSize,
		Summary:    response,
	}

	var parsed struct {
		Summary string         `json:"summary"`
		Details map[string]any `json:"details"`
		Data    map[string]any `json:"data"`
	}
	if err := llmjson.Decode(response, &parsed); err != nil {
		return g
	}
	if s := strings.TrimSpace(parsed.Summary); s != "" {
		g.Summary = s
	}
	g.Details = parsed.Details
	if g.Details == nil {
		g.Details = parsed.Data
	}
	return g
}
