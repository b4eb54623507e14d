package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteSchema names the table and columns SQLiteStore reads from. All other
// columns are passed through untouched in each RawRow.
type SQLiteSchema struct {
	Table         string
	SessionColumn string
	TimeColumn    string
}

// DefaultSQLiteSchema matches a decrypted message export.
func DefaultSQLiteSchema() SQLiteSchema {
	return SQLiteSchema{
		Table:         "messages",
		SessionColumn: "session_id",
		TimeColumn:    "create_time",
	}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (s SQLiteSchema) validate() error {
	for _, ident := range []string{s.Table, s.SessionColumn, s.TimeColumn} {
		if !identRe.MatchString(ident) {
			return fmt.Errorf("invalid identifier %q", ident)
		}
	}
	return nil
}

type sqliteCursor struct {
	session string
	opts    CursorOptions
	lastTS  int64
	lastRow int64
	started bool
	done    bool
}

// SQLiteStore reads messages from a SQLite database in read-only mode.
// Cursors are keyset-paginated on (time, rowid), so no statement stays open
// between fetches and pages come back in time order even when rows were
// inserted out of order. The store only tracks each cursor's position.
type SQLiteStore struct {
	db     *sql.DB
	schema SQLiteSchema

	mu      sync.Mutex
	nextID  CursorID
	cursors map[CursorID]*sqliteCursor
}

// OpenSQLiteStore opens the archive described by conn. The key is applied
// with PRAGMA key, which builds without a cipher extension ignore.
func OpenSQLiteStore(ctx context.Context, conn Conn, schema SQLiteSchema) (*SQLiteStore, error) {
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	if err := schema.validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Add("mode", "ro")
	q.Add("_pragma", fmt.Sprintf("key('%s')", strings.ReplaceAll(conn.Key, "'", "''")))
	q.Add("_pragma", "busy_timeout(5000)")

	db, err := sql.Open("sqlite", "file:"+conn.Path+"?"+q.Encode())
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StoreError{Op: "open", Err: err}
	}

	slog.Debug("chat store opened", "path", conn.Path)
	return &SQLiteStore{
		db:      db,
		schema:  schema,
		cursors: make(map[CursorID]*sqliteCursor),
	}, nil
}

// OpenCursor starts a scan of one session.
func (s *SQLiteStore) OpenCursor(_ context.Context, sessionID string, opts CursorOptions) (CursorID, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultIndexBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.cursors[s.nextID] = &sqliteCursor{session: sessionID, opts: opts}
	return s.nextID, nil
}

// FetchBatch returns the next page of the scan.
func (s *SQLiteStore) FetchBatch(ctx context.Context, id CursorID) (Batch, error) {
	s.mu.Lock()
	cur, ok := s.cursors[id]
	s.mu.Unlock()
	if !ok {
		return Batch{}, ErrCursorNotFound
	}
	if cur.done {
		return Batch{}, nil
	}

	query, args := s.pageQuery(cur)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Batch{}, fmt.Errorf("query page: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Batch{}, err
	}

	type position struct{ ts, row int64 }
	var out []RawRow
	var keys []position
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Batch{}, fmt.Errorf("scan row: %w", err)
		}

		rowID, _ := vals[0].(int64)
		ts, _ := vals[1].(int64)
		row := make(RawRow, len(cols)-2)
		for i := 2; i < len(cols); i++ {
			row[cols[i]] = vals[i]
		}
		out = append(out, row)
		keys = append(keys, position{ts: ts, row: rowID})
	}
	if err := rows.Err(); err != nil {
		return Batch{}, fmt.Errorf("rows iteration error: %w", err)
	}

	// One extra row is fetched to learn whether another page exists.
	hasMore := len(out) > cur.opts.BatchSize
	if hasMore {
		out = out[:cur.opts.BatchSize]
		keys = keys[:cur.opts.BatchSize]
	}

	s.mu.Lock()
	cur.started = true
	if len(keys) > 0 {
		last := keys[len(keys)-1]
		cur.lastTS, cur.lastRow = last.ts, last.row
	}
	cur.done = !hasMore
	s.mu.Unlock()

	return Batch{Rows: out, HasMore: hasMore}, nil
}

func (s *SQLiteStore) pageQuery(cur *sqliteCursor) (string, []any) {
	var where []string
	var args []any

	ts := "COALESCE(" + s.schema.TimeColumn + ", 0)"
	cmp, order := ">", "ASC"
	if !cur.opts.Ascending {
		cmp, order = "<", "DESC"
	}

	where = append(where, s.schema.SessionColumn+" = ?")
	args = append(args, cur.session)

	if cur.started {
		where = append(where, fmt.Sprintf("(%s %s ? OR (%s = ? AND rowid %s ?))", ts, cmp, ts, cmp))
		args = append(args, cur.lastTS, cur.lastTS, cur.lastRow)
	}
	if cur.opts.Begin > 0 {
		where = append(where, s.schema.TimeColumn+" >= ?")
		args = append(args, cur.opts.Begin)
	}
	if cur.opts.End > 0 {
		where = append(where, s.schema.TimeColumn+" <= ?")
		args = append(args, cur.opts.End)
	}

	q := fmt.Sprintf("SELECT rowid AS __rowid, %s AS __ts, * FROM %s WHERE %s ORDER BY %s %s, rowid %s LIMIT ?",
		ts, s.schema.Table, strings.Join(where, " AND "), ts, order, order)
	args = append(args, cur.opts.BatchSize+1)
	return q, args
}

// CloseCursor releases a cursor. Closing an unknown cursor is an error.
func (s *SQLiteStore) CloseCursor(_ context.Context, id CursorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cursors[id]; !ok {
		return ErrCursorNotFound
	}
	delete(s.cursors, id)
	return nil
}

// OpenCursors returns how many cursors are open for a session.
func (s *SQLiteStore) OpenCursors(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.cursors {
		if c.session == sessionID {
			n++
		}
	}
	return n
}

// Sessions lists sessions by most recent message.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	q := fmt.Sprintf(`SELECT %[1]s, COUNT(*), COALESCE(MAX(%[2]s), 0) FROM %[3]s
		GROUP BY %[1]s ORDER BY MAX(%[2]s) DESC`,
		s.schema.SessionColumn, s.schema.TimeColumn, s.schema.Table)

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &StoreError{Op: "list sessions", Err: err}
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.MessageCount, &info.LastTime); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
