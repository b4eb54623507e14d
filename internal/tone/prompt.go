package tone

import (
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultTokenBudget bounds the sample text sent to the model.
const DefaultTokenBudget = 6000

// MissingGuideText stands in for the guide when a session has none.
const MissingGuideText = "未找到说明书"

const guidePromptHeader = "你是对话风格分析助手，请根据聊天样本总结性格说明书。\n" +
	`输出 JSON：{"summary":"一句话概括","details":{"口癖":[],"情绪价值":"","回复速度":"","表情偏好":"","风格要点":[]}}` + "\n" +
	"以下是聊天样本（仅该好友的发言）："

// TokenCounter counts tokens in text.
type TokenCounter func(text string) int

var (
	defaultCounterOnce sync.Once
	defaultCounter     TokenCounter
)

// DefaultTokenCounter uses the cl100k_base encoding, or a rune count when
// the encoding cannot be loaded.
func DefaultTokenCounter() TokenCounter {
	defaultCounterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken unavailable, counting runes", "error", err)
			defaultCounter = utf8.RuneCountInString
			return
		}
		defaultCounter = func(text string) int {
			return len(enc.Encode(text, nil, nil))
		}
	})
	return defaultCounter
}

// BuildPrompt lists samples under the guide instructions, keeping as many
// samples as fit in budget tokens. It returns the prompt and the number of
// samples kept.
func BuildPrompt(samples []string, budget int, count TokenCounter) (string, int) {
	if count == nil {
		count = utf8.RuneCountInString
	}
	if budget <= 0 {
		budget = DefaultTokenBudget
	}

	var b strings.Builder
	b.WriteString(guidePromptHeader)
	used, kept := 0, 0
	for _, s := range samples {
		n := count(s) + 1
		if kept > 0 && used+n > budget {
			break
		}
		used += n
		kept++
		b.WriteByte('\n')
		b.WriteString(s)
	}
	return b.String(), kept
}
