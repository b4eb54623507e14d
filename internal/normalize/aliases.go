// Package normalize turns raw chat store rows into role-tagged messages.
//
// Store schemas differ between client versions, so every field is looked up
// through an ordered list of candidate column names; the first present,
// non-nil value wins.
package normalize

import (
	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
)

// AliasTable lists candidate column names per logical field.
type AliasTable struct {
	Version    int
	Content    []string
	Compressed []string
	LocalType  []string
	IsSend     []string
	Sender     []string
	CreateTime []string
}

// DefaultAliases covers the snake_case, camelCase and WCDB_CT_ prefixed
// column names seen across store versions.
var DefaultAliases = AliasTable{
	Version: 1,
	Content: []string{
		"message_content",
		"messageContent",
		"content",
		"msg_content",
		"msgContent",
		"WCDB_CT_message_content",
		"WCDB_CT_messageContent",
	},
	Compressed: []string{
		"compress_content",
		"compressContent",
		"compressed_content",
		"WCDB_CT_compress_content",
		"WCDB_CT_compressContent",
	},
	LocalType: []string{"local_type", "localType", "type", "msg_type", "msgType", "WCDB_CT_local_type"},
	IsSend:    []string{"computed_is_send", "computedIsSend", "is_send", "isSend", "WCDB_CT_is_send"},
	Sender:    []string{"sender_username", "senderUsername", "sender", "WCDB_CT_sender_username"},
	CreateTime: []string{
		"create_time",
		"createTime",
		"createtime",
		"msg_create_time",
		"msgCreateTime",
		"msg_time",
		"msgTime",
		"time",
		"WCDB_CT_create_time",
	},
}

// Accessor extracts one value from a row.
type Accessor func(chatstore.RawRow) (any, bool)

// Field returns an accessor for a single column.
func Field(name string) Accessor {
	return func(row chatstore.RawRow) (any, bool) {
		v, ok := row[name]
		if !ok || v == nil {
			return nil, false
		}
		return v, true
	}
}

// Chain tries accessors in order and returns the first hit.
type Chain []Accessor

// FieldChain builds a chain from column names.
func FieldChain(names ...string) Chain {
	c := make(Chain, len(names))
	for i, n := range names {
		c[i] = Field(n)
	}
	return c
}

// Lookup returns the first value any accessor finds.
func (c Chain) Lookup(row chatstore.RawRow) (any, bool) {
	for _, get := range c {
		if v, ok := get(row); ok {
			return v, true
		}
	}
	return nil, false
}

// Extractor holds the compiled chains for one alias table.
type Extractor struct {
	Version    int
	Content    Chain
	Compressed Chain
	LocalType  Chain
	IsSend     Chain
	Sender     Chain
	CreateTime Chain
}

// Compile builds an Extractor from the table.
func (t AliasTable) Compile() *Extractor {
	return &Extractor{
		Version:    t.Version,
		Content:    FieldChain(t.Content...),
		Compressed: FieldChain(t.Compressed...),
		LocalType:  FieldChain(t.LocalType...),
		IsSend:     FieldChain(t.IsSend...),
		Sender:     FieldChain(t.Sender...),
		CreateTime: FieldChain(t.CreateTime...),
	}
}
