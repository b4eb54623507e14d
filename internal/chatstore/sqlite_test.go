package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
)

func createArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE messages (
		local_id INTEGER PRIMARY KEY,
		session_id TEXT NOT NULL,
		local_type INTEGER,
		message_content BLOB,
		sender_username TEXT,
		create_time INTEGER
	)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 7; i++ {
		if _, err := db.Exec(`INSERT INTO messages (session_id, local_type, message_content, sender_username, create_time)
			VALUES (?, 1, ?, 'wxid_friend', ?)`, "wxid_friend", []byte("hello"), 100+i); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := db.Exec(`INSERT INTO messages (session_id, local_type, message_content, sender_username, create_time)
		VALUES ('other', 1, 'x', 'other', 50)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return path
}

func openArchive(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(context.Background(), Conn{Path: createArchive(t), Key: "00ff", Identity: "wxid_me"}, DefaultSQLiteSchema())
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Pagination(t *testing.T) {
	s := openArchive(t)
	ctx := context.Background()

	var sizes []int
	var times []int64
	err := Consume(ctx, s, "wxid_friend", CursorOptions{BatchSize: 3, Ascending: true}, func(b Batch) error {
		sizes = append(sizes, len(b.Rows))
		for _, r := range b.Rows {
			times = append(times, r["create_time"].(int64))
			if _, ok := r["__rowid"]; ok {
				t.Error("internal rowid column leaked into row")
			}
			if _, ok := r["__ts"]; ok {
				t.Error("internal time column leaked into row")
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Errorf("batch sizes = %v, want [3 3 1]", sizes)
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			t.Fatalf("times not ascending: %v", times)
		}
	}
	if n := s.OpenCursors("wxid_friend"); n != 0 {
		t.Errorf("open cursors = %d, want 0", n)
	}
}

func TestSQLiteStore_DescendingWithRange(t *testing.T) {
	s := openArchive(t)

	var times []int64
	err := Consume(context.Background(), s, "wxid_friend", CursorOptions{BatchSize: 2, Begin: 102, End: 105}, func(b Batch) error {
		for _, r := range b.Rows {
			times = append(times, r["create_time"].(int64))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	want := []int64{105, 104, 103, 102}
	if len(times) != len(want) {
		t.Fatalf("times = %v, want %v", times, want)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Fatalf("times = %v, want %v", times, want)
		}
	}
}

func TestSQLiteStore_BlobContentPassedThrough(t *testing.T) {
	s := openArchive(t)
	ctx := context.Background()

	id, err := s.OpenCursor(ctx, "wxid_friend", CursorOptions{BatchSize: 1, Ascending: true})
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	if n := s.OpenCursors("wxid_friend"); n != 1 {
		t.Errorf("open cursors = %d, want 1", n)
	}
	b, err := s.FetchBatch(ctx, id)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if !b.HasMore {
		t.Error("HasMore = false, want true")
	}
	if content, ok := b.Rows[0]["message_content"].([]byte); !ok || string(content) != "hello" {
		t.Errorf("message_content = %#v", b.Rows[0]["message_content"])
	}
	if err := s.CloseCursor(ctx, id); err != nil {
		t.Fatalf("CloseCursor: %v", err)
	}
	if err := s.CloseCursor(ctx, id); err != ErrCursorNotFound {
		t.Errorf("second close err = %v, want ErrCursorNotFound", err)
	}
}

func TestSQLiteStore_Sessions(t *testing.T) {
	s := openArchive(t)
	infos, err := s.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("sessions = %d, want 2", len(infos))
	}
	if infos[0].ID != "wxid_friend" || infos[0].MessageCount != 7 || infos[0].LastTime != 106 {
		t.Errorf("first session = %+v", infos[0])
	}
}

func TestOpenSQLiteStore_IncompleteConn(t *testing.T) {
	_, err := OpenSQLiteStore(context.Background(), Conn{Path: "x.db"}, DefaultSQLiteSchema())
	if err == nil {
		t.Fatal("expected error for incomplete conn")
	}
}

func TestSQLiteStore_OutOfOrderInserts(t *testing.T) {
	path := createArchive(t)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Insert order differs from time order, with a tie at 200.
	for _, ts := range []int64{300, 100, 200, 500, 200, 400} {
		if _, err := db.Exec(`INSERT INTO messages (session_id, local_type, message_content, sender_username, create_time)
			VALUES ('wxid_late', 1, ?, 'wxid_late', ?)`, fmt.Sprint(ts), ts); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	db.Close()

	s, err := OpenSQLiteStore(context.Background(), Conn{Path: path, Key: "00ff", Identity: "wxid_me"}, DefaultSQLiteSchema())
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer s.Close()

	tests := []struct {
		name      string
		ascending bool
		want      []int64
		wantIDs   []int64
	}{
		{"ascending", true, []int64{100, 200, 200, 300, 400, 500}, []int64{10, 11, 13, 9, 14, 12}},
		{"descending", false, []int64{500, 400, 300, 200, 200, 100}, []int64{12, 14, 9, 13, 11, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var times, ids []int64
			err := Consume(context.Background(), s, "wxid_late", CursorOptions{BatchSize: 2, Ascending: tt.ascending}, func(b Batch) error {
				for _, r := range b.Rows {
					times = append(times, r["create_time"].(int64))
					ids = append(ids, r["local_id"].(int64))
				}
				return nil
			})
			if err != nil {
				t.Fatalf("Consume: %v", err)
			}
			if fmt.Sprint(times) != fmt.Sprint(tt.want) {
				t.Errorf("times = %v, want %v", times, tt.want)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.wantIDs) {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}
