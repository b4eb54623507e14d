// Package chatstore is the read side of the chat archive: a cursor-based batch
// reader over one session's messages and a directory of sessions.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RawRow is one message record as the store returns it. Field names vary
// between store schema versions; see package normalize.
type RawRow map[string]any

// CursorID identifies an open scan.
type CursorID int64

// CursorOptions configures a scan. Begin and End are epoch seconds; zero
// leaves that side of the range open.
type CursorOptions struct {
	BatchSize int
	Ascending bool
	Begin     int64
	End       int64
}

// Batch is one page of a scan.
type Batch struct {
	Rows    []RawRow
	HasMore bool
}

// Store is a cursor-based batch reader. Every cursor returned by OpenCursor
// must be released with CloseCursor by the same caller.
type Store interface {
	OpenCursor(ctx context.Context, sessionID string, opts CursorOptions) (CursorID, error)
	FetchBatch(ctx context.Context, id CursorID) (Batch, error)
	CloseCursor(ctx context.Context, id CursorID) error
}

// SessionInfo describes one conversation in the archive.
type SessionInfo struct {
	ID           string `json:"id"`
	MessageCount int    `json:"message_count"`
	LastTime     int64  `json:"last_time"`
}

// Directory lists the sessions in the archive.
type Directory interface {
	Sessions(ctx context.Context) ([]SessionInfo, error)
}

// Conn holds what is needed to open the archive.
type Conn struct {
	Path     string // database file
	Key      string // decryption key
	Identity string // the archive owner's own id
}

// ErrIncompleteConn is returned when a Conn lacks a path, key or identity.
var ErrIncompleteConn = errors.New("chat store connection is incomplete")

// ErrCursorNotFound is returned for unknown or already closed cursors.
var ErrCursorNotFound = errors.New("cursor not found")

// Validate reports which connection fields are missing.
func (c Conn) Validate() error {
	var missing []string
	if c.Path == "" {
		missing = append(missing, "path")
	}
	if c.Key == "" {
		missing = append(missing, "key")
	}
	if c.Identity == "" {
		missing = append(missing, "identity")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteConn, strings.Join(missing, ", "))
	}
	return nil
}

// StoreError wraps a failure of a store operation.
type StoreError struct {
	Op      string // "open cursor", "fetch batch", "close cursor", "open"
	Session string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("chat store: %s [%s]: %v", e.Op, e.Session, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsGroupSession reports whether a session id denotes a group conversation.
func IsGroupSession(sessionID string) bool {
	return strings.Contains(sessionID, "@chatroom")
}
