package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
	"github.com/nextlevelbuilder/chatclone/internal/metrics"
	"github.com/nextlevelbuilder/chatclone/internal/normalize"
)

const (
	indexSampleSize = 3
	querySampleSize = 2
)

// ErrNoEmbedder is returned when indexing or querying without an embedder.
var ErrNoEmbedder = errors.New("no embedder configured")

// Manager indexes chat history into session collections and queries them.
type Manager struct {
	store    *Store
	embedder Embedder
	metrics  *metrics.Metrics
}

// NewManager creates a manager. m may be nil.
func NewManager(store *Store, embedder Embedder, m *metrics.Metrics) *Manager {
	return &Manager{store: store, embedder: embedder, metrics: m}
}

// Store returns the underlying collection store.
func (m *Manager) Store() *Store { return m.store }

// IndexRequest describes one index run.
type IndexRequest struct {
	SessionID string
	Identity  string // account id used to decide message ownership
	BatchSize int
	Chunk     ChunkConfig
	Reset     bool
}

// Progress is reported after every consumed batch.
type Progress struct {
	TotalMessages int
	TotalChunks   int
	HasMore       bool
}

// IndexResult summarizes a committed index run.
type IndexResult struct {
	TotalMessages int
	TotalChunks   int
	RowCount      int
	Sample        []Row
}

// Index streams the session out of src, chunks and embeds it, and writes the
// rows in one transaction. On any failure, cancellation included, nothing is
// committed. The chat store cursor is closed on every path.
func (m *Manager) Index(ctx context.Context, src chatstore.Store, req IndexRequest, progress func(Progress)) (res IndexResult, err error) {
	if m.embedder == nil {
		return res, ErrNoEmbedder
	}
	start := time.Now()
	defer func() {
		status := "success"
		switch {
		case errors.Is(err, context.Canceled):
			status = "cancelled"
		case err != nil:
			status = "error"
		}
		m.metrics.RecordIndex(status, res.TotalMessages, res.TotalChunks, time.Since(start))
	}()

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = chatstore.DefaultIndexBatchSize
	}

	col, err := m.store.OpenOrCreate(ctx, req.SessionID)
	if err != nil {
		return res, err
	}
	defer col.Close()

	// Writes ignore cancellation; it is observed between batches and ends in Rollback.
	writeCtx := context.WithoutCancel(ctx)
	w, err := col.Begin(writeCtx, req.Reset)
	if err != nil {
		return res, err
	}
	defer w.Rollback()

	norm := normalize.New(req.Identity)
	chunker := NewChunker(req.Chunk)

	err = chatstore.Consume(ctx, src, req.SessionID, chatstore.CursorOptions{
		BatchSize: batchSize,
		Ascending: true,
	}, func(b chatstore.Batch) error {
		res.TotalMessages += len(b.Rows)

		var closed []Chunk
		for _, row := range b.Rows {
			if msg := norm.Map(row); msg != nil {
				closed = append(closed, chunker.Push(*msg)...)
			}
		}
		if !b.HasMore {
			closed = append(closed, chunker.Flush()...)
		}

		if len(closed) > 0 {
			vecs, err := m.embed(writeCtx, chunkTexts(closed))
			if err != nil {
				return err
			}
			if _, err := w.Add(writeCtx, closed, vecs); err != nil {
				return err
			}
			res.TotalChunks += len(closed)
		}

		slog.Debug("memory batch indexed",
			"session", req.SessionID,
			"messages", res.TotalMessages,
			"chunks", res.TotalChunks,
			"hasMore", b.HasMore)
		if progress != nil {
			progress(Progress{
				TotalMessages: res.TotalMessages,
				TotalChunks:   res.TotalChunks,
				HasMore:       b.HasMore,
			})
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if err := w.Commit(); err != nil {
		return res, err
	}

	if res.RowCount, err = col.Count(ctx); err != nil {
		return res, err
	}
	if res.Sample, err = col.Sample(ctx, indexSampleSize); err != nil {
		return res, err
	}
	for i := range res.Sample {
		res.Sample[i].Embedding = nil
	}

	slog.Info("memory indexed",
		"session", req.SessionID,
		"messages", res.TotalMessages,
		"chunks", res.TotalChunks,
		"rows", res.RowCount,
		"reset", req.Reset)
	return res, nil
}

// QueryRequest describes one similarity query.
type QueryRequest struct {
	SessionID string
	Keyword   string
	TopK      int
	Role      normalize.Role // empty means any role
}

// QueryResult carries the returned rows and how they were found.
type QueryResult struct {
	Rows         []Row
	RowsFound    int
	UsedFallback bool
	Sample       []Row
}

// Query embeds the keyword and returns the topK nearest rows. When the vector
// search returns nothing, a case-insensitive substring scan over all rows is
// used instead. The scan never fails the query.
func (m *Manager) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	var res QueryResult
	if m.embedder == nil {
		return res, ErrNoEmbedder
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	col, err := m.store.Open(ctx, req.SessionID)
	if err != nil {
		m.metrics.RecordQuery("error")
		return res, err
	}
	defer col.Close()

	vecs, err := m.embed(ctx, []string{req.Keyword})
	if err != nil {
		m.metrics.RecordQuery("error")
		return res, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		m.metrics.RecordQuery("error")
		return res, fmt.Errorf("%w: empty query embedding", ErrEmbeddingMismatch)
	}

	rows, err := col.Search(ctx, vecs[0], topK, req.Role)
	if err != nil {
		m.metrics.RecordQuery("error")
		return res, err
	}

	if len(rows) == 0 {
		res.UsedFallback = true
		rows, err = col.SubstringSearch(ctx, req.Keyword, topK)
		if err != nil {
			slog.Warn("memory fallback scan failed", "session", req.SessionID, "error", err)
			rows = nil
		}
		m.metrics.RecordQuery("fallback")
	} else {
		m.metrics.RecordQuery("vector")
	}

	res.Rows = rows
	res.RowsFound = len(rows)
	res.Sample = rows[:min(len(rows), querySampleSize)]
	return res, nil
}

func (m *Manager) embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := m.embedder.Embed(ctx, texts)
	m.metrics.ObserveEmbed(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vecs, nil
}

func chunkTexts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}
