package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
	"github.com/nextlevelbuilder/chatclone/internal/normalize"
)

// keywordEmbedder maps texts containing kw to [1,0] and everything else to [0,1].
type keywordEmbedder struct {
	kw    string
	short bool // return one vector fewer than asked
	calls int
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if e.kw != "" && strings.Contains(t, e.kw) {
			out = append(out, []float32{1, 0})
		} else {
			out = append(out, []float32{0, 1})
		}
	}
	if e.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func msg(role normalize.Role, content string, t int64) normalize.Message {
	return normalize.Message{Role: role, Content: content, CreateTime: t}
}

func raw(content string, t int64, isSend int) chatstore.RawRow {
	return chatstore.RawRow{"content": content, "create_time": t, "is_send": isSend, "local_type": 1}
}

func TestChunkMessages_Scenario(t *testing.T) {
	msgs := []normalize.Message{
		msg(normalize.RoleTarget, "你好", 0),
		msg(normalize.RoleTarget, "在吗", 5),
		msg(normalize.RoleMe, "在", 400),
	}
	got := ChunkMessages(msgs, ChunkConfig{GapSeconds: 600, MaxChars: 400, MaxMessages: 20})
	want := []Chunk{
		{Role: normalize.RoleTarget, Content: "你好\n在吗", TsStart: 0, TsEnd: 5, MessageCount: 2},
		{Role: normalize.RoleMe, Content: "在", TsStart: 400, TsEnd: 400, MessageCount: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("chunks = %+v\nwant %+v", got, want)
	}
}

func TestChunkConfig_WithDefaults(t *testing.T) {
	d := DefaultChunkConfig()
	tests := []struct {
		in, want ChunkConfig
	}{
		{ChunkConfig{}, d},
		{ChunkConfig{GapSeconds: -5, MaxChars: -1, MaxMessages: -1}, d},
		{ChunkConfig{GapSeconds: 1, MaxChars: 2, MaxMessages: 3}, ChunkConfig{GapSeconds: 1, MaxChars: 2, MaxMessages: 3}},
		{ChunkConfig{GapSeconds: 30}, ChunkConfig{GapSeconds: 30, MaxChars: d.MaxChars, MaxMessages: d.MaxMessages}},
	}
	for _, tt := range tests {
		if got := tt.in.WithDefaults(); got != tt.want {
			t.Errorf("WithDefaults(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	// A one-second gap is the tightest threshold: messages a second apart
	// still merge, two seconds apart split.
	msgs := []normalize.Message{msg(normalize.RoleMe, "a", 0), msg(normalize.RoleMe, "b", 1), msg(normalize.RoleMe, "c", 3)}
	var counts []int
	for _, c := range ChunkMessages(msgs, ChunkConfig{GapSeconds: 1}) {
		counts = append(counts, c.MessageCount)
	}
	if !reflect.DeepEqual(counts, []int{2, 1}) {
		t.Errorf("message counts = %v, want [2 1]", counts)
	}
}

func TestChunkMessages_Boundaries(t *testing.T) {
	cfg := ChunkConfig{GapSeconds: 10, MaxChars: 5, MaxMessages: 2}
	tests := []struct {
		name string
		msgs []normalize.Message
		want []int // message counts per chunk
	}{
		{"gap", []normalize.Message{msg(normalize.RoleMe, "a", 0), msg(normalize.RoleMe, "b", 11)}, []int{1, 1}},
		{"gap at limit merges", []normalize.Message{msg(normalize.RoleMe, "a", 0), msg(normalize.RoleMe, "b", 10)}, []int{2}},
		{"role switch", []normalize.Message{msg(normalize.RoleMe, "a", 0), msg(normalize.RoleTarget, "b", 1)}, []int{1, 1}},
		{"max chars", []normalize.Message{msg(normalize.RoleMe, "abc", 0), msg(normalize.RoleMe, "de", 1)}, []int{1, 1}},
		{"max chars exact", []normalize.Message{msg(normalize.RoleMe, "ab", 0), msg(normalize.RoleMe, "de", 1)}, []int{2}},
		{"max messages", []normalize.Message{msg(normalize.RoleMe, "a", 0), msg(normalize.RoleMe, "b", 1), msg(normalize.RoleMe, "c", 2)}, []int{2, 1}},
		{"skips media", []normalize.Message{msg(normalize.RoleMe, "[图片]", 0), msg(normalize.RoleMe, "  ", 1), msg(normalize.RoleMe, "a", 2)}, []int{1}},
		{"oversized single message", []normalize.Message{msg(normalize.RoleMe, "abcdefgh", 0)}, []int{1}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int
			for _, c := range ChunkMessages(tt.msgs, cfg) {
				got = append(got, c.MessageCount)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("message counts = %v, want %v", got, tt.want)
			}
		})
	}
}

func randomMessages(r *rand.Rand, n int) []normalize.Message {
	words := []string{"好", "在吗", "hello", "ok", "[图片]", "一起吃饭吧", strings.Repeat("长", 150), ""}
	var t int64
	out := make([]normalize.Message, n)
	for i := range out {
		t += int64(r.IntN(900))
		role := normalize.RoleMe
		if r.IntN(3) > 0 {
			role = normalize.RoleTarget
		}
		out[i] = msg(role, words[r.IntN(len(words))], t)
	}
	return out
}

func TestChunker_StreamingEquivalence(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	cfg := DefaultChunkConfig()

	for trial := 0; trial < 50; trial++ {
		msgs := randomMessages(r, 1+r.IntN(300))
		want := ChunkMessages(msgs, cfg)

		c := NewChunker(cfg)
		var got []Chunk
		for start := 0; start < len(msgs); {
			end := min(len(msgs), start+1+r.IntN(40))
			for _, m := range msgs[start:end] {
				got = append(got, c.Push(m)...)
			}
			start = end
		}
		got = append(got, c.Flush()...)

		if !reflect.DeepEqual(got, want) {
			t.Fatalf("trial %d: batched chunking differs from one pass", trial)
		}
	}
}

func TestChunker_Invariants(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	cfg := DefaultChunkConfig()
	msgs := randomMessages(r, 2000)

	kept := 0
	for _, m := range msgs {
		if !normalize.ShouldSkipContent(m.Content) {
			kept++
		}
	}

	chunks := ChunkMessages(msgs, cfg)
	total := 0
	for i, c := range chunks {
		total += c.MessageCount
		if c.MessageCount < 1 || c.MessageCount > cfg.MaxMessages {
			t.Errorf("chunk %d: message count %d out of range", i, c.MessageCount)
		}
		if c.MessageCount > 1 && utf8.RuneCountInString(c.Content) > cfg.MaxChars {
			t.Errorf("chunk %d: merged content has %d runes", i, utf8.RuneCountInString(c.Content))
		}
		if c.TsStart > c.TsEnd {
			t.Errorf("chunk %d: tsStart %d after tsEnd %d", i, c.TsStart, c.TsEnd)
		}
		if c.Content == "" {
			t.Errorf("chunk %d: empty content", i)
		}
		if i > 0 && chunks[i-1].TsEnd > c.TsStart {
			t.Errorf("chunk %d starts before previous chunk ends", i)
		}
	}
	if total != kept {
		t.Errorf("chunked %d messages, want %d", total, kept)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		got := CosineSimilarity(tt.a, tt.b)
		if got < tt.want-0.01 || got > tt.want+0.01 {
			t.Errorf("%s: similarity = %f, want %f", tt.name, got, tt.want)
		}
	}
}

func newTestManager(t *testing.T, e Embedder) *Manager {
	t.Helper()
	return NewManager(NewStore(t.TempDir()), e, nil)
}

func scenarioStore(session string) *chatstore.MemoryStore {
	src := chatstore.NewMemoryStore()
	src.Append(session,
		raw("你好", 0, 0),
		raw("在吗", 5, 0),
		raw("在", 400, 1),
	)
	return src
}

func TestManager_IndexScenario(t *testing.T) {
	ctx := context.Background()
	for _, batch := range []int{1, 2, 200} {
		t.Run(fmt.Sprintf("batch%d", batch), func(t *testing.T) {
			m := newTestManager(t, &keywordEmbedder{})
			src := scenarioStore("wxid_a")

			var progress []Progress
			res, err := m.Index(ctx, src, IndexRequest{SessionID: "wxid_a", BatchSize: batch, Reset: true},
				func(p Progress) { progress = append(progress, p) })
			if err != nil {
				t.Fatalf("Index: %v", err)
			}
			if res.TotalMessages != 3 || res.TotalChunks != 2 || res.RowCount != 2 {
				t.Errorf("result = %+v, want 3 messages, 2 chunks, 2 rows", res)
			}
			if len(res.Sample) != 2 || res.Sample[0].ID != "wxid_a-0" || res.Sample[1].ID != "wxid_a-1" {
				t.Errorf("sample = %+v", res.Sample)
			}
			if res.Sample[0].Content != "你好\n在吗" || res.Sample[0].Role != normalize.RoleTarget {
				t.Errorf("first row = %+v", res.Sample[0])
			}
			if res.Sample[0].Embedding != nil {
				t.Error("sample rows should not carry embeddings")
			}

			wantEvents := (3 + batch - 1) / batch
			if len(progress) != wantEvents {
				t.Fatalf("progress events = %d, want %d", len(progress), wantEvents)
			}
			for i := 1; i < len(progress); i++ {
				if progress[i].TotalMessages < progress[i-1].TotalMessages {
					t.Errorf("progress went backwards: %+v", progress)
				}
			}
			if last := progress[len(progress)-1]; last.HasMore || last.TotalChunks != 2 {
				t.Errorf("last progress = %+v", last)
			}
			if n := src.OpenCursors("wxid_a"); n != 0 {
				t.Errorf("open cursors = %d, want 0", n)
			}
		})
	}
}

func TestManager_ResetIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &keywordEmbedder{})
	src := scenarioStore("wxid_a")
	req := IndexRequest{SessionID: "wxid_a", Reset: true}

	first, err := m.Index(ctx, src, req, nil)
	if err != nil {
		t.Fatalf("first Index: %v", err)
	}
	second, err := m.Index(ctx, src, req, nil)
	if err != nil {
		t.Fatalf("second Index: %v", err)
	}
	if first.TotalChunks != second.TotalChunks || first.RowCount != second.RowCount {
		t.Errorf("reset runs differ: %+v vs %+v", first, second)
	}
}

func TestManager_AppendKeepsIDsUnique(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &keywordEmbedder{})
	src := scenarioStore("wxid_a")

	if _, err := m.Index(ctx, src, IndexRequest{SessionID: "wxid_a", Reset: true}, nil); err != nil {
		t.Fatalf("Index: %v", err)
	}
	res, err := m.Index(ctx, src, IndexRequest{SessionID: "wxid_a"}, nil)
	if err != nil {
		t.Fatalf("append Index: %v", err)
	}
	if res.RowCount != 4 {
		t.Errorf("row count = %d, want 4", res.RowCount)
	}

	col, err := m.Store().Open(ctx, "wxid_a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer col.Close()

	seen := map[string]bool{}
	err = col.Each(ctx, "", func(r Row) bool {
		if seen[r.ID] {
			t.Errorf("duplicate id %s", r.ID)
		}
		seen[r.ID] = true
		return true
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if !seen["wxid_a-3"] {
		t.Errorf("ids = %v, want wxid_a-0..3", seen)
	}
}

func TestManager_EmbeddingMismatchCommitsNothing(t *testing.T) {
	ctx := context.Background()
	store := NewStore(t.TempDir())
	src := scenarioStore("wxid_a")

	bad := NewManager(store, &keywordEmbedder{short: true}, nil)
	_, err := bad.Index(ctx, src, IndexRequest{SessionID: "wxid_a", Reset: true}, nil)
	if !errors.Is(err, ErrEmbeddingMismatch) {
		t.Fatalf("err = %v, want ErrEmbeddingMismatch", err)
	}
	if _, err := store.Open(ctx, "wxid_a"); !errors.Is(err, ErrNoMemory) {
		t.Errorf("Open after failed first index: err = %v, want ErrNoMemory", err)
	}
	if n := src.OpenCursors("wxid_a"); n != 0 {
		t.Errorf("open cursors = %d, want 0", n)
	}

	// A failed reset leaves the previous collection untouched.
	good := NewManager(store, &keywordEmbedder{}, nil)
	if _, err := good.Index(ctx, src, IndexRequest{SessionID: "wxid_a", Reset: true}, nil); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if _, err := bad.Index(ctx, src, IndexRequest{SessionID: "wxid_a", Reset: true}, nil); err == nil {
		t.Fatal("expected mismatch error")
	}
	col, err := store.Open(ctx, "wxid_a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer col.Close()
	if n, _ := col.Count(ctx); n != 2 {
		t.Errorf("rows after failed reset = %d, want 2", n)
	}
}

func TestManager_FetchFailureClosesCursor(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &keywordEmbedder{})
	src := scenarioStore("wxid_a")
	src.FailFetchAt = 2

	_, err := m.Index(ctx, src, IndexRequest{SessionID: "wxid_a", BatchSize: 1}, nil)
	var se *chatstore.StoreError
	if !errors.As(err, &se) || !errors.Is(err, chatstore.ErrInjected) {
		t.Fatalf("err = %v, want StoreError wrapping ErrInjected", err)
	}
	if n := src.OpenCursors("wxid_a"); n != 0 {
		t.Errorf("open cursors = %d, want 0", n)
	}
}

func TestManager_CancelBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(t, &keywordEmbedder{})
	src := scenarioStore("wxid_a")

	events := 0
	_, err := m.Index(ctx, src, IndexRequest{SessionID: "wxid_a", BatchSize: 1}, func(Progress) {
		events++
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if events != 1 {
		t.Errorf("progress events = %d, want 1", events)
	}
	if n := src.OpenCursors("wxid_a"); n != 0 {
		t.Errorf("open cursors = %d, want 0", n)
	}
	if _, err := m.Store().Open(context.Background(), "wxid_a"); !errors.Is(err, ErrNoMemory) {
		t.Errorf("Open after cancel: err = %v, want ErrNoMemory", err)
	}
}

func TestManager_Query(t *testing.T) {
	ctx := context.Background()
	e := &keywordEmbedder{kw: "火锅"}
	m := newTestManager(t, e)
	src := chatstore.NewMemoryStore()
	src.Append("wxid_a",
		raw("今天吃火锅吗", 0, 0),
		raw("好啊", 1000, 1),
		raw("明天上班", 3000, 0),
	)
	if _, err := m.Index(ctx, src, IndexRequest{SessionID: "wxid_a", Reset: true}, nil); err != nil {
		t.Fatalf("Index: %v", err)
	}

	res, err := m.Query(ctx, QueryRequest{SessionID: "wxid_a", Keyword: "火锅", TopK: 1, Role: normalize.RoleTarget})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.UsedFallback {
		t.Error("vector search should have found rows")
	}
	if len(res.Rows) != 1 || res.Rows[0].Content != "今天吃火锅吗" {
		t.Fatalf("rows = %+v", res.Rows)
	}
	if res.RowsFound != 1 || len(res.Sample) != 1 {
		t.Errorf("debug = found %d, sample %d", res.RowsFound, len(res.Sample))
	}
	if res.Rows[0].Embedding != nil {
		t.Error("query rows should not carry embeddings")
	}

	res, err = m.Query(ctx, QueryRequest{SessionID: "wxid_a", Keyword: "x", Role: normalize.RoleMe})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, r := range res.Rows {
		if r.Role != normalize.RoleMe {
			t.Errorf("role filter leaked %+v", r)
		}
	}
}

func TestManager_QueryFallback(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &keywordEmbedder{})
	src := chatstore.NewMemoryStore()
	src.Append("wxid_a", raw("Let's get HOTPOT tonight", 0, 0))
	if _, err := m.Index(ctx, src, IndexRequest{SessionID: "wxid_a", Reset: true}, nil); err != nil {
		t.Fatalf("Index: %v", err)
	}

	// No "me" rows exist, so the vector search is empty.
	res, err := m.Query(ctx, QueryRequest{SessionID: "wxid_a", Keyword: "  hotpot ", Role: normalize.RoleMe})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !res.UsedFallback {
		t.Error("expected fallback")
	}
	if len(res.Rows) != 1 || res.RowsFound != 1 {
		t.Fatalf("rows = %+v", res.Rows)
	}

	// Full-width input folds to the same text.
	res, err = m.Query(ctx, QueryRequest{SessionID: "wxid_a", Keyword: "ＨｏｔＰｏｔ", Role: normalize.RoleMe})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Errorf("full-width fallback rows = %d, want 1", len(res.Rows))
	}

	res, err = m.Query(ctx, QueryRequest{SessionID: "wxid_a", Keyword: "sushi", Role: normalize.RoleMe})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !res.UsedFallback || len(res.Rows) != 0 {
		t.Errorf("res = %+v, want empty fallback", res)
	}
}

func TestManager_QueryWithoutMemory(t *testing.T) {
	m := newTestManager(t, &keywordEmbedder{})
	_, err := m.Query(context.Background(), QueryRequest{SessionID: "never", Keyword: "x"})
	if !errors.Is(err, ErrNoMemory) {
		t.Errorf("err = %v, want ErrNoMemory", err)
	}
}

func TestManager_NoEmbedder(t *testing.T) {
	m := NewManager(NewStore(t.TempDir()), nil, nil)
	_, err := m.Index(context.Background(), chatstore.NewMemoryStore(), IndexRequest{SessionID: "a"}, nil)
	if !errors.Is(err, ErrNoEmbedder) {
		t.Errorf("err = %v, want ErrNoEmbedder", err)
	}
}

func TestStore_Drop(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &keywordEmbedder{})
	if _, err := m.Index(ctx, scenarioStore("wxid_a"), IndexRequest{SessionID: "wxid_a"}, nil); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := m.Store().Drop("wxid_a"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := m.Store().Open(ctx, "wxid_a"); !errors.Is(err, ErrNoMemory) {
		t.Errorf("err = %v, want ErrNoMemory", err)
	}
	if err := m.Store().Drop("wxid_a"); err != nil {
		t.Errorf("second Drop: %v", err)
	}
}
