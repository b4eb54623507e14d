package tools

import "regexp"

// Secret patterns scrubbed from chat history before it reaches the model.
var secretPatterns = []*regexp.Regexp{
	// OpenAI
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	// Anthropic
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`),
	// GitHub tokens
	regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36}`),
	// AWS
	regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
	// Generic key=value patterns (case-insensitive)
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|bearer|authorization)\s*[:=]\s*["']?\S{8,}["']?`),
	// Passwords and verification codes shared in chat
	regexp.MustCompile(`(密码|验证码|支付密码)\s*(是|为|[:：])?\s*[0-9A-Za-z!@#$%^&*._-]{4,}`),
	// Mainland resident ID numbers
	regexp.MustCompile(`\b\d{17}[\dXx]\b`),
	// Bank card numbers
	regexp.MustCompile(`\b(62|4\d|5[1-5])\d{14,17}\b`),
}

const redactedPlaceholder = "[REDACTED]"

// ScrubSecrets replaces known secret patterns in text with [REDACTED].
func ScrubSecrets(text string) string {
	for _, pat := range secretPatterns {
		text = pat.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
