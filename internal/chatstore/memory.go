package chatstore

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrInjected is returned by MemoryStore.FetchBatch when FailFetchAt trips.
var ErrInjected = errors.New("injected fetch failure")

type memCursor struct {
	session string
	rows    []RawRow
	pos     int
	size    int
}

// MemoryStore is an in-process Store over fixed rows, keyed by session.
// Rows are served in insertion order (reversed when not ascending); the
// time range is applied to the "create_time" field.
type MemoryStore struct {
	// FailFetchAt makes the n-th FetchBatch call (1-based, across all
	// cursors) fail. Zero disables it.
	FailFetchAt int

	mu      sync.Mutex
	rows    map[string][]RawRow
	cursors map[CursorID]*memCursor
	nextID  CursorID
	fetches int
	opened  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:    make(map[string][]RawRow),
		cursors: make(map[CursorID]*memCursor),
	}
}

// Append adds rows to a session.
func (m *MemoryStore) Append(sessionID string, rows ...RawRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[sessionID] = append(m.rows[sessionID], rows...)
}

func (m *MemoryStore) OpenCursor(_ context.Context, sessionID string, opts CursorOptions) (CursorID, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultIndexBatchSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var selected []RawRow
	for _, r := range m.rows[sessionID] {
		t := rowTime(r)
		if opts.Begin > 0 && t < opts.Begin {
			continue
		}
		if opts.End > 0 && t > opts.End {
			continue
		}
		selected = append(selected, r)
	}
	if !opts.Ascending {
		for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
			selected[i], selected[j] = selected[j], selected[i]
		}
	}

	m.nextID++
	m.opened++
	m.cursors[m.nextID] = &memCursor{session: sessionID, rows: selected, size: opts.BatchSize}
	return m.nextID, nil
}

func (m *MemoryStore) FetchBatch(_ context.Context, id CursorID) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches++
	if m.FailFetchAt > 0 && m.fetches == m.FailFetchAt {
		return Batch{}, ErrInjected
	}

	cur, ok := m.cursors[id]
	if !ok {
		return Batch{}, ErrCursorNotFound
	}

	end := cur.pos + cur.size
	if end > len(cur.rows) {
		end = len(cur.rows)
	}
	batch := Batch{
		Rows:    cur.rows[cur.pos:end],
		HasMore: end < len(cur.rows),
	}
	cur.pos = end
	return batch, nil
}

func (m *MemoryStore) CloseCursor(_ context.Context, id CursorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cursors[id]; !ok {
		return ErrCursorNotFound
	}
	delete(m.cursors, id)
	return nil
}

// OpenCursors returns how many cursors are open for a session.
func (m *MemoryStore) OpenCursors(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.cursors {
		if c.session == sessionID {
			n++
		}
	}
	return n
}

// CursorsOpened returns how many cursors were ever opened.
func (m *MemoryStore) CursorsOpened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *MemoryStore) Sessions(_ context.Context) ([]SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionInfo, 0, len(m.rows))
	for id, rows := range m.rows {
		info := SessionInfo{ID: id, MessageCount: len(rows)}
		for _, r := range rows {
			if t := rowTime(r); t > info.LastTime {
				info.LastTime = t
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastTime != out[j].LastTime {
			return out[i].LastTime > out[j].LastTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func rowTime(r RawRow) int64 {
	switch v := r["create_time"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
