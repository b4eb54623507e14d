// Package memory is the long-term memory of a private chat: it segments a
// message stream into chunks, embeds them into one vector collection per
// session, and answers similarity queries with a substring fallback.
package memory

import (
	"context"
	"errors"

	"github.com/nextlevelbuilder/chatclone/internal/normalize"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
	"github.com/nextlevelbuilder/chatclone/pkg/protocol"
)

// Chunk is a merged run of same-role messages, the unit of embedding.
type Chunk struct {
	Role         normalize.Role `json:"role"`
	Content      string         `json:"content"`
	TsStart      int64          `json:"tsStart"`
	TsEnd        int64          `json:"tsEnd"`
	MessageCount int            `json:"messageCount"`
}

// Row is a chunk as stored in a session collection.
type Row struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Seq       int64     `json:"-"`
	Embedding []float32 `json:"-"`
	Score     float64   `json:"score,omitempty"`
	Chunk
}

// Wire converts a row to its protocol form, dropping the embedding.
func (r Row) Wire() protocol.MemoryRow {
	return protocol.MemoryRow{
		ID:           r.ID,
		SessionID:    r.SessionID,
		Role:         string(r.Role),
		Content:      r.Content,
		TsStart:      r.TsStart,
		TsEnd:        r.TsEnd,
		MessageCount: r.MessageCount,
		Score:        r.Score,
	}
}

// WireRows converts rows to their protocol form.
func WireRows(rows []Row) []protocol.MemoryRow {
	out := make([]protocol.MemoryRow, len(rows))
	for i, r := range rows {
		out[i] = r.Wire()
	}
	return out
}

// Embedder turns texts into vectors, one per text and in the same order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	// ErrNoMemory is returned when a session has no indexed collection.
	ErrNoMemory = errors.New("no memory indexed for session")

	// ErrEmbeddingMismatch is returned when an embedder returns a different
	// number of vectors than it was given texts.
	ErrEmbeddingMismatch = providers.ErrEmbeddingMismatch
)
