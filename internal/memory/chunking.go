package memory

import (
	"unicode/utf8"

	"github.com/nextlevelbuilder/chatclone/internal/normalize"
)

// ChunkConfig bounds how messages merge into a chunk.
type ChunkConfig struct {
	GapSeconds  int64 // max gap between consecutive merged messages
	MaxChars    int   // max merged content length, in code points
	MaxMessages int   // max messages per chunk
}

// DefaultChunkConfig returns the default thresholds.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		GapSeconds:  600,
		MaxChars:    400,
		MaxMessages: 20,
	}
}

// WithDefaults replaces unset (non-positive) thresholds with defaults. Zero
// is never a live threshold: GapSeconds 0 becomes the 600 second default.
func (c ChunkConfig) WithDefaults() ChunkConfig {
	d := DefaultChunkConfig()
	if c.GapSeconds <= 0 {
		c.GapSeconds = d.GapSeconds
	}
	if c.MaxChars <= 0 {
		c.MaxChars = d.MaxChars
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = d.MaxMessages
	}
	return c
}

// Chunker merges an ordered message stream into chunks in one pass. Its only
// state is the open chunk, so feeding a stream in any batching yields the
// same chunks as feeding it whole.
type Chunker struct {
	cfg       ChunkConfig
	open      *Chunk
	openRunes int
}

// NewChunker returns a chunker; unset thresholds take defaults.
func NewChunker(cfg ChunkConfig) *Chunker {
	return &Chunker{cfg: cfg.WithDefaults()}
}

// Push adds a message and returns the chunk it closed, if any.
func (c *Chunker) Push(msg normalize.Message) []Chunk {
	if normalize.ShouldSkipContent(msg.Content) {
		return nil
	}

	msgRunes := utf8.RuneCountInString(msg.Content)
	if c.open == nil {
		c.start(msg, msgRunes)
		return nil
	}

	gap := msg.CreateTime - c.open.TsEnd
	mergedRunes := c.openRunes + 1 + msgRunes
	if msg.Role != c.open.Role ||
		gap > c.cfg.GapSeconds ||
		mergedRunes > c.cfg.MaxChars ||
		c.open.MessageCount >= c.cfg.MaxMessages {
		closed := *c.open
		c.start(msg, msgRunes)
		return []Chunk{closed}
	}

	c.open.Content += "\n" + msg.Content
	c.open.TsEnd = msg.CreateTime
	c.open.MessageCount++
	c.openRunes = mergedRunes
	return nil
}

// Flush closes and returns the open chunk, if any.
func (c *Chunker) Flush() []Chunk {
	if c.open == nil {
		return nil
	}
	closed := *c.open
	c.open = nil
	c.openRunes = 0
	return []Chunk{closed}
}

func (c *Chunker) start(msg normalize.Message, runes int) {
	c.open = &Chunk{
		Role:         msg.Role,
		Content:      msg.Content,
		TsStart:      msg.CreateTime,
		TsEnd:        msg.CreateTime,
		MessageCount: 1,
	}
	c.openRunes = runes
}

// ChunkMessages chunks a complete message sequence.
func ChunkMessages(msgs []normalize.Message, cfg ChunkConfig) []Chunk {
	c := NewChunker(cfg)
	var out []Chunk
	for _, m := range msgs {
		out = append(out, c.Push(m)...)
	}
	return append(out, c.Flush()...)
}
