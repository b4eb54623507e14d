package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
)

// Role says who sent a message.
type Role string

const (
	RoleTarget Role = "target" // the counterpart being cloned
	RoleMe     Role = "me"     // the archive owner
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTarget || r == RoleMe
}

// Message is a memory-eligible chat message.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	CreateTime int64  `json:"createTime"`
}

// Message type codes.
const (
	TypeText      = 1
	TypeImage     = 3
	TypeVoice     = 34
	TypeVideo     = 43
	TypeSticker   = 47
	TypeShare     = 49
	TypeShortClip = 62
	TypeSystem    = 10000
)

// TypeLabels maps non-text type codes to the placeholder stored instead of
// their payload.
var TypeLabels = map[int]string{
	TypeImage:     "[图片]",
	TypeVoice:     "[语音]",
	TypeVideo:     "[视频]",
	TypeSticker:   "[表情]",
	TypeShare:     "[分享]",
	TypeShortClip: "[小视频]",
	TypeSystem:    "[系统消息]",
}

// mediaLabels are placeholders that carry no memory value.
var mediaLabels = map[string]bool{
	"[图片]": true,
	"[语音]": true,
	"[视频]": true,
	"[表情]": true,
	"[分享]": true,
}

// ShouldSkipContent reports whether text is not worth remembering.
func ShouldSkipContent(text string) bool {
	return text == "" || mediaLabels[text]
}

// maxPrefixRunes bounds how far into a message a "sender:\n" prefix may end.
const maxPrefixRunes = 64

// Normalizer maps rows to messages for one archive owner.
type Normalizer struct {
	ext      *Extractor
	identity string
}

// New returns a Normalizer using DefaultAliases.
func New(identity string) *Normalizer {
	return NewWithAliases(identity, DefaultAliases)
}

// NewWithAliases returns a Normalizer using a custom alias table.
func NewWithAliases(identity string, aliases AliasTable) *Normalizer {
	return &Normalizer{ext: aliases.Compile(), identity: identity}
}

// Map converts a row. It returns nil when the row is not a memory-eligible
// message; callers drop those rows without counting them.
func (n *Normalizer) Map(row chatstore.RawRow) *Message {
	raw, ok := n.ext.Content.Lookup(row)
	if !ok {
		raw, _ = n.ext.Compressed.Lookup(row)
	}
	content := decodeContent(raw)

	localType := n.lookupInt(n.ext.LocalType, row, TypeText)
	createTime := n.lookupInt(n.ext.CreateTime, row, 0)

	isSend := -1 // unknown
	if v, ok := n.ext.IsSend.Lookup(row); ok {
		if parsed, ok := toInt(v); ok {
			isSend = int(parsed)
		} else {
			isSend = 0
		}
	} else if sender, ok := n.ext.Sender.Lookup(row); ok && n.identity != "" {
		if strings.EqualFold(decodeContent(sender), n.identity) {
			isSend = 1
		} else {
			isSend = 0
		}
	}

	text := ParseContent(content, int(localType))
	if text == "" {
		return nil
	}

	role := RoleTarget
	if isSend == 1 {
		role = RoleMe
	}
	return &Message{Role: role, Content: text, CreateTime: createTime}
}

// ParseContent renders decoded content for a type code: text loses any
// sender prefix, known non-text types become their label, and unknown
// types keep their content.
func ParseContent(content string, localType int) string {
	if content == "" {
		return TypeLabels[localType]
	}
	if localType == TypeText {
		return stripSenderPrefix(content)
	}
	if label, ok := TypeLabels[localType]; ok {
		return label
	}
	return content
}

func stripSenderPrefix(content string) string {
	trimmed := strings.TrimSpace(content)
	idx := strings.Index(trimmed, ":\n")
	if idx > 0 && utf8.RuneCountInString(trimmed[:idx]) < maxPrefixRunes {
		return strings.TrimSpace(trimmed[idx+2:])
	}
	return trimmed
}

func decodeContent(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return strings.ToValidUTF8(string(s), "�")
	default:
		return fmt.Sprint(s)
	}
}

func (n *Normalizer) lookupInt(c Chain, row chatstore.RawRow, fallback int64) int64 {
	v, ok := c.Lookup(row)
	if !ok {
		return fallback
	}
	if parsed, ok := toInt(v); ok {
		return parsed
	}
	return fallback
}

// toInt parses numbers and numeric strings, keeping the leading integer
// part of strings like "12.5" or "7abc".
func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case float64:
		return int64(x), true
	case float32:
		return int64(x), true
	case bool:
		return 0, false
	case []byte:
		return parseLeadingInt(string(x))
	case string:
		return parseLeadingInt(x)
	}
	return 0, false
}

func parseLeadingInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
