// Package llmjson pulls JSON objects out of free-form model output.
package llmjson

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoObject is returned when the text holds no balanced JSON object.
var ErrNoObject = errors.New("no JSON object in text")

// Extract returns the first balanced {...} span of raw. Braces inside JSON
// strings are ignored, so prose after the object is never swallowed.
func Extract(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	for start >= 0 {
		if end := matchBrace(raw, start); end > start {
			return raw[start : end+1], true
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at open, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	inString, escaped := false, false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Decode extracts the first object from raw and unmarshals it into v.
func Decode(raw string, v any) error {
	span, ok := Extract(raw)
	if !ok {
		return ErrNoObject
	}
	return json.Unmarshal([]byte(span), v)
}
