package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
	"github.com/nextlevelbuilder/chatclone/internal/config"
	"github.com/nextlevelbuilder/chatclone/internal/memory"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
	"github.com/nextlevelbuilder/chatclone/pkg/protocol"
)

type keywordEmbedder struct{ kw string }

func (e keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, e.kw) {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func raw(content string, t int64, isSend int) chatstore.RawRow {
	return chatstore.RawRow{"content": content, "create_time": t, "is_send": isSend, "local_type": 1}
}

func testDeps(t *testing.T, src chatstore.Store) Deps {
	t.Helper()
	return Deps{
		BaseDir: t.TempDir(),
		NewEmbedder: func() (memory.Embedder, error) {
			return keywordEmbedder{kw: "火锅"}, nil
		},
		OpenChatStore: func(context.Context, chatstore.Conn) (chatstore.Store, error) {
			return src, nil
		},
	}
}

func startUnit(t *testing.T, deps Deps) *Unit {
	t.Helper()
	u := Start(deps)
	t.Cleanup(u.Stop)
	return u
}

var nextID uint64

func request(t *testing.T, method string, params any) *protocol.RequestFrame {
	t.Helper()
	nextID++
	f, err := protocol.NewRequest(nextID, method, params)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return f
}

// await reads the unit's output until the response for id arrives.
func await(t *testing.T, u *Unit, id string) (*protocol.ResponseFrame, []*protocol.EventFrame) {
	t.Helper()
	var events []*protocol.EventFrame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-u.Out():
			if msg.Event != nil {
				events = append(events, msg.Event)
				continue
			}
			if msg.Response.ID == id {
				return msg.Response, events
			}
		case <-timeout:
			t.Fatalf("no response for %s", id)
		}
	}
}

func call(t *testing.T, u *Unit, method string, params any) (*protocol.ResponseFrame, []*protocol.EventFrame) {
	t.Helper()
	f := request(t, method, params)
	if err := u.Send(context.Background(), Inbound{Request: f}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	return await(t, u, f.ID)
}

func indexParams(session string) protocol.IndexParams {
	return protocol.IndexParams{
		SessionID:  session,
		DBPath:     "chat.db",
		DecryptKey: "k",
		Identity:   "me",
		BatchSize:  1,
	}
}

func TestUnit_IndexThenQuery(t *testing.T) {
	src := chatstore.NewMemoryStore()
	src.Append("wxid_a",
		raw("今晚吃火锅吗", 0, 0),
		raw("好啊", 5, 1),
		raw("几点", 2000, 0),
	)
	u := startUnit(t, testDeps(t, src))

	resp, events := call(t, u, protocol.MethodIndex, indexParams("wxid_a"))
	if !resp.OK {
		t.Fatalf("index failed: %+v", resp.Error)
	}
	var ir protocol.IndexResult
	if err := json.Unmarshal(resp.Payload, &ir); err != nil {
		t.Fatal(err)
	}
	if !ir.Success || ir.TotalMessages != 3 || ir.TotalChunks != 3 || ir.Debug.RowCount != 3 {
		t.Errorf("index result = %+v", ir)
	}
	if len(events) != 3 {
		t.Fatalf("progress events = %d, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Event != protocol.EventIndexProgress || ev.Seq != int64(i+1) {
			t.Errorf("event %d = %s seq %d", i, ev.Event, ev.Seq)
		}
		var p protocol.IndexProgress
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			t.Fatal(err)
		}
		if p.RequestID != resp.ID || p.TotalMessages != i+1 {
			t.Errorf("progress %d = %+v", i, p)
		}
		if p.HasMore != (i < 2) {
			t.Errorf("progress %d hasMore = %v", i, p.HasMore)
		}
	}
	if n := src.OpenCursors("wxid_a"); n != 0 {
		t.Errorf("open cursors = %d", n)
	}

	resp, _ = call(t, u, protocol.MethodQuery, protocol.QueryParams{SessionID: "wxid_a", Keyword: "火锅", TopK: 1})
	if !resp.OK {
		t.Fatalf("query failed: %+v", resp.Error)
	}
	var qr protocol.QueryResult
	if err := json.Unmarshal(resp.Payload, &qr); err != nil {
		t.Fatal(err)
	}
	if len(qr.Results) != 1 || qr.Results[0].Content != "今晚吃火锅吗" || qr.Debug.UsedFallback {
		t.Errorf("query result = %+v", qr)
	}
	if qr.Results[0].ID != "wxid_a-0" || qr.Results[0].Role != "target" {
		t.Errorf("row = %+v", qr.Results[0])
	}
}

func TestUnit_ErrorCodes(t *testing.T) {
	u := startUnit(t, testDeps(t, chatstore.NewMemoryStore()))

	noKey := indexParams("wxid_a")
	noKey.DecryptKey = ""

	tests := []struct {
		name   string
		method string
		params any
		want   string
	}{
		{"group session", protocol.MethodIndex, indexParams("123@chatroom"), protocol.ErrInvalidRequest},
		{"empty session", protocol.MethodQuery, protocol.QueryParams{Keyword: "x"}, protocol.ErrInvalidRequest},
		{"bad role", protocol.MethodQuery, protocol.QueryParams{SessionID: "wxid_a", RoleFilter: "them"}, protocol.ErrInvalidRequest},
		{"unknown method", "memory.nope", struct{}{}, protocol.ErrInvalidRequest},
		{"incomplete conn", protocol.MethodIndex, noKey, protocol.ErrFailedPrecondition},
		{"no memory", protocol.MethodQuery, protocol.QueryParams{SessionID: "wxid_b", Keyword: "x"}, protocol.ErrNotFound},
		{"drop group session", protocol.MethodDrop, protocol.DropParams{SessionID: "1@chatroom"}, protocol.ErrInvalidRequest},
		{"drop without session", protocol.MethodDrop, protocol.DropParams{}, protocol.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := call(t, u, tt.method, tt.params)
			if resp.OK {
				t.Fatal("expected failure")
			}
			if resp.Error.Code != tt.want {
				t.Errorf("code = %s, want %s (%s)", resp.Error.Code, tt.want, resp.Error.Message)
			}
		})
	}
}

func TestUnit_EmbedderInitFailure(t *testing.T) {
	deps := testDeps(t, chatstore.NewMemoryStore())
	deps.NewEmbedder = func() (memory.Embedder, error) {
		return nil, fmt.Errorf("%w: no api key", providers.ErrNotConfigured)
	}
	u := startUnit(t, deps)
	resp, _ := call(t, u, protocol.MethodQuery, protocol.QueryParams{SessionID: "wxid_a", Keyword: "x"})
	if resp.OK || resp.Error.Code != protocol.ErrFailedPrecondition {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestUnit_CancelRunningRequest(t *testing.T) {
	deps := testDeps(t, chatstore.NewMemoryStore())
	started := make(chan struct{})
	deps.OpenChatStore = func(ctx context.Context, _ chatstore.Conn) (chatstore.Store, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	u := startUnit(t, deps)

	f := request(t, protocol.MethodIndex, indexParams("wxid_a"))
	if err := u.Send(context.Background(), Inbound{Request: f}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := u.Send(context.Background(), Inbound{CancelID: f.ID}); err != nil {
		t.Fatal(err)
	}
	resp, _ := await(t, u, f.ID)
	if resp.OK || resp.Error.Code != protocol.ErrCancelled {
		t.Fatalf("resp = %+v", resp)
	}

	// The unit keeps serving after a cancellation.
	resp, _ = call(t, u, protocol.MethodQuery, protocol.QueryParams{SessionID: "wxid_a", Keyword: "x"})
	if resp.Error == nil || resp.Error.Code != protocol.ErrNotFound {
		t.Fatalf("follow-up resp = %+v", resp)
	}
}

func TestUnit_DropRunsAfterQueuedIndex(t *testing.T) {
	src := chatstore.NewMemoryStore()
	src.Append("wxid_a", raw("今晚吃火锅吗", 0, 0), raw("好啊", 5, 1))
	deps := testDeps(t, src)
	started, release := make(chan struct{}), make(chan struct{})
	deps.OpenChatStore = func(ctx context.Context, _ chatstore.Conn) (chatstore.Store, error) {
		close(started)
		select {
		case <-release:
			return src, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	u := startUnit(t, deps)

	index := request(t, protocol.MethodIndex, indexParams("wxid_a"))
	drop := request(t, protocol.MethodDrop, protocol.DropParams{SessionID: "wxid_a"})
	if err := u.Send(context.Background(), Inbound{Request: index}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := u.Send(context.Background(), Inbound{Request: drop}); err != nil {
		t.Fatal(err)
	}
	close(release)

	var order []string
	timeout := time.After(5 * time.Second)
	for len(order) < 2 {
		select {
		case msg := <-u.Out():
			if msg.Response == nil {
				continue
			}
			if !msg.Response.OK {
				t.Fatalf("%s failed: %+v", msg.Response.ID, msg.Response.Error)
			}
			order = append(order, msg.Response.ID)
		case <-timeout:
			t.Fatalf("responses so far: %v", order)
		}
	}
	if order[0] != index.ID || order[1] != drop.ID {
		t.Errorf("response order = %v, want [%s %s]", order, index.ID, drop.ID)
	}

	resp, _ := call(t, u, protocol.MethodQuery, protocol.QueryParams{SessionID: "wxid_a", Keyword: "火锅"})
	if resp.OK || resp.Error.Code != protocol.ErrNotFound {
		t.Fatalf("query after drop = %+v", resp)
	}
}

func TestUnit_DropWithoutEmbedder(t *testing.T) {
	deps := testDeps(t, chatstore.NewMemoryStore())
	deps.NewEmbedder = nil
	dir := config.SessionDir(deps.BaseDir, "wxid_a")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	u := startUnit(t, deps)

	resp, _ := call(t, u, protocol.MethodDrop, protocol.DropParams{SessionID: "wxid_a"})
	if !resp.OK {
		t.Fatalf("drop failed: %+v", resp.Error)
	}
	var dr protocol.DropResult
	if err := json.Unmarshal(resp.Payload, &dr); err != nil || !dr.Success {
		t.Fatalf("drop result = %+v, %v", dr, err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("session dir still exists: %v", err)
	}
}

func TestUnit_PanicEndsUnit(t *testing.T) {
	deps := testDeps(t, chatstore.NewMemoryStore())
	deps.OpenChatStore = func(context.Context, chatstore.Conn) (chatstore.Store, error) {
		panic("boom")
	}
	u := startUnit(t, deps)
	f := request(t, protocol.MethodIndex, indexParams("wxid_a"))
	if err := u.Send(context.Background(), Inbound{Request: f}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-u.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("unit did not exit")
	}
	if u.Err() == nil || !strings.Contains(u.Err().Error(), "boom") {
		t.Errorf("Err = %v", u.Err())
	}
	if err := u.Send(context.Background(), Inbound{Request: request(t, protocol.MethodQuery, nil)}); !errors.Is(err, ErrUnitExited) {
		t.Errorf("Send after exit = %v", err)
	}
}

func TestUnit_StopIsClean(t *testing.T) {
	u := Start(testDeps(t, chatstore.NewMemoryStore()))
	u.Stop()
	u.Stop()
	select {
	case <-u.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("unit did not stop")
	}
	if u.Err() != nil {
		t.Errorf("Err = %v", u.Err())
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.Canceled, protocol.ErrCancelled},
		{fmt.Errorf("wrap: %w", memory.ErrNoMemory), protocol.ErrNotFound},
		{memory.ErrNoEmbedder, protocol.ErrFailedPrecondition},
		{chatstore.ErrIncompleteConn, protocol.ErrFailedPrecondition},
		{fmt.Errorf("x: %w", memory.ErrEmbeddingMismatch), protocol.ErrConsistency},
		{&chatstore.StoreError{Op: "fetch batch", Session: "s", Err: errors.New("disk")}, protocol.ErrStore},
		{errors.New("other"), protocol.ErrInternal},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
