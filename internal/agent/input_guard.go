// Package agent runs the clone's chat turn: decide whether to consult
// memory, run the chosen tool, and answer in character.
package agent

import (
	"errors"
	"regexp"
	"strings"
)

// Guard actions.
const (
	GuardLog   = "log"
	GuardWarn  = "warn"
	GuardBlock = "block"
	GuardOff   = "off"
)

// ErrInjectionBlocked is returned when the guard blocks a message.
var ErrInjectionBlocked = errors.New("message blocked by input guard")

// guardPattern pairs a human-readable name with a compiled regex.
type guardPattern struct {
	name    string
	pattern *regexp.Regexp
}

// InputGuard scans user messages for prompt injection patterns.
type InputGuard struct {
	patterns []guardPattern
}

// NewInputGuard creates an InputGuard with the default patterns.
func NewInputGuard() *InputGuard {
	return &InputGuard{
		patterns: defaultGuardPatterns(),
	}
}

// Scan returns the names of the patterns message matches.
func (g *InputGuard) Scan(message string) []string {
	if message == "" {
		return nil
	}
	var matches []string
	for _, gp := range g.patterns {
		if gp.pattern.MatchString(message) {
			matches = append(matches, gp.name)
		}
	}
	return matches
}

// NormalizeGuardAction maps unknown or empty actions to "warn".
func NormalizeGuardAction(action string) string {
	switch a := strings.ToLower(strings.TrimSpace(action)); a {
	case GuardLog, GuardWarn, GuardBlock, GuardOff:
		return a
	default:
		return GuardWarn
	}
}

func defaultGuardPatterns() []guardPattern {
	return []guardPattern{
		{
			name:    "ignore_instructions",
			pattern: regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier|preceding)\s+(instructions?|rules?|prompts?|directives?|guidelines?)`),
		},
		{
			name:    "ignore_instructions_zh",
			pattern: regexp.MustCompile(`(忽略|无视|忘记|忘掉)(之前|前面|上面|以上|所有)(的)?(所有)?(指令|指示|规则|设定|提示)`),
		},
		{
			name:    "role_override",
			pattern: regexp.MustCompile(`(?i)(you are now|from now on you are|pretend you are|act as if you are)\s+`),
		},
		{
			name:    "role_override_zh",
			pattern: regexp.MustCompile(`(从现在(起|开始)你(是|扮演)|你现在(是|扮演)一个|假装你是)`),
		},
		{
			name:    "system_tags",
			pattern: regexp.MustCompile(`(?i)</?system>|\[SYSTEM\]|\[INST\]|<<SYS>>|<\|im_start\|>system`),
		},
		{
			name:    "prompt_leak",
			pattern: regexp.MustCompile(`(?i)(system prompt|性格说明书|系统提示词?)\s*(是什么|内容|原文|发给我|repeat|reveal|print)`),
		},
		{
			name:    "tool_forgery",
			pattern: regexp.MustCompile(`"tool"\s*:\s*"`),
		},
		{
			name:    "null_bytes",
			pattern: regexp.MustCompile(`\x00`),
		},
	}
}
