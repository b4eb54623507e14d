package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/chatclone/internal/config"
	"github.com/nextlevelbuilder/chatclone/internal/normalize"
)

const tableName = "messages"

// Store locates per-session collections under a base directory.
type Store struct {
	baseDir string
}

// NewStore returns a store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// SessionDir returns the directory holding a session's persisted state.
func (s *Store) SessionDir(sessionID string) string {
	return config.SessionDir(s.baseDir, sessionID)
}

func (s *Store) dbPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), config.MemoryDBFile)
}

// Open opens an existing collection without creating it.
// Returns ErrNoMemory when the session was never indexed.
func (s *Store) Open(ctx context.Context, sessionID string) (*Collection, error) {
	path := s.dbPath(sessionID)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoMemory
	}

	c, err := openCollection(ctx, path, sessionID)
	if err != nil {
		return nil, err
	}
	ok, err := c.hasTable(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	if !ok {
		c.Close()
		return nil, ErrNoMemory
	}
	return c, nil
}

// OpenOrCreate opens a collection, creating its directory and file as needed.
// The table itself is created by the first writer.
func (s *Store) OpenOrCreate(ctx context.Context, sessionID string) (*Collection, error) {
	if err := os.MkdirAll(s.SessionDir(sessionID), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return openCollection(ctx, s.dbPath(sessionID), sessionID)
}

// Drop removes the session's whole directory. Missing directories are not an error.
func (s *Store) Drop(sessionID string) error {
	dir := s.SessionDir(sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	slog.Info("memory dropped", "session", sessionID, "dir", dir)
	return nil
}

// Collection is one session's table of indexed rows.
type Collection struct {
	db        *sql.DB
	path      string
	sessionID string
}

func openCollection(ctx context.Context, path, sessionID string) (*Collection, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Collection{db: db, path: path, sessionID: sessionID}, nil
}

func (c *Collection) hasTable(ctx context.Context) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", tableName).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect collection: %w", err)
	}
	return n > 0, nil
}

// Close closes the collection file.
func (c *Collection) Close() error {
	return c.db.Close()
}

// Writer appends rows inside one transaction. Nothing is visible to readers
// until Commit; Rollback discards every Add, including a reset.
type Writer struct {
	tx        *sql.Tx
	sessionID string
	nextSeq   int64
}

// Begin starts a write. With reset the table is dropped and recreated first.
func (c *Collection) Begin(ctx context.Context, reset bool) (*Writer, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + tableName + ` (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			ts_start INTEGER NOT NULL,
			ts_end INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			embedding TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_role ON ` + tableName + `(role)`,
	}
	if reset {
		stmts = append([]string{`DROP TABLE IF EXISTS ` + tableName}, stmts...)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("prepare collection: %w", err)
		}
	}

	var next int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq) + 1, 0) FROM "+tableName).Scan(&next); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("read next seq: %w", err)
	}

	return &Writer{tx: tx, sessionID: c.sessionID, nextSeq: next}, nil
}

// Add appends chunks with their embeddings, in order, and returns the rows.
func (w *Writer) Add(ctx context.Context, chunks []Chunk, embeddings [][]float32) ([]Row, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d chunks, %d embeddings", ErrEmbeddingMismatch, len(chunks), len(embeddings))
	}

	stmt, err := w.tx.PrepareContext(ctx, `INSERT INTO `+tableName+`
		(id, seq, session_id, role, content, ts_start, ts_end, message_count, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	rows := make([]Row, len(chunks))
	for i, ch := range chunks {
		embJSON, err := json.Marshal(embeddings[i])
		if err != nil {
			return nil, fmt.Errorf("marshal embedding: %w", err)
		}
		r := Row{
			ID:        RowID(w.sessionID, w.nextSeq),
			SessionID: w.sessionID,
			Seq:       w.nextSeq,
			Embedding: embeddings[i],
			Chunk:     ch,
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Seq, r.SessionID, string(r.Role), r.Content,
			r.TsStart, r.TsEnd, r.MessageCount, string(embJSON)); err != nil {
			return nil, fmt.Errorf("insert row: %w", err)
		}
		rows[i] = r
		w.nextSeq++
	}
	return rows, nil
}


// Commit makes all added rows visible.
func (w *Writer) Commit() error {
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the write. It is safe to call after Commit.
func (w *Writer) Rollback() error {
	err := w.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// RowID formats a row id as {sessionId}-{seq}.
func RowID(sessionID string, seq int64) string {
	return fmt.Sprintf("%s-%d", sessionID, seq)
}

const selectColumns = "id, seq, session_id, role, content, ts_start, ts_end, message_count, embedding"

func scanRow(rows *sql.Rows) (Row, error) {
	var r Row
	var role, embJSON string
	if err := rows.Scan(&r.ID, &r.Seq, &r.SessionID, &role, &r.Content,
		&r.TsStart, &r.TsEnd, &r.MessageCount, &embJSON); err != nil {
		return Row{}, err
	}
	r.Role = normalize.Role(role)
	if err := json.Unmarshal([]byte(embJSON), &r.Embedding); err != nil {
		slog.Debug("memory row has unreadable embedding", "id", r.ID, "error", err)
		r.Embedding = nil
	}
	return r, nil
}

// Each calls fn for every row in seq order until fn returns false.
// A non-empty role restricts the visit to rows of that role.
func (c *Collection) Each(ctx context.Context, role normalize.Role, fn func(Row) bool) error {
	q := "SELECT " + selectColumns + " FROM " + tableName
	var args []any
	if role != "" {
		q += " WHERE role = ?"
		args = append(args, string(role))
	}
	q += " ORDER BY seq"

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("scan collection: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if !fn(r) {
			break
		}
	}
	return rows.Err()
}

// Sample returns up to n rows in seq order.
func (c *Collection) Sample(ctx context.Context, n int) ([]Row, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM "+tableName+" ORDER BY seq LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("sample collection: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of committed rows.
func (c *Collection) Count(ctx context.Context) (int, error) {
	ok, err := c.hasTable(ctx)
	if err != nil || !ok {
		return 0, err
	}
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableName).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}
