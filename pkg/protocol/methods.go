package protocol

// Unit methods.
const (
	MethodIndex = "memory.index"
	MethodQuery = "memory.query"
	MethodDrop  = "memory.drop"
)

// IndexParams are the params of MethodIndex. Zero or negative thresholds
// select the defaults.
type IndexParams struct {
	SessionID        string `json:"sessionId"`
	DBPath           string `json:"dbPath"`
	DecryptKey       string `json:"decryptKey"`
	Identity         string `json:"identity"`
	BatchSize        int    `json:"batchSize,omitempty"`
	ChunkGapSeconds  int64  `json:"chunkGapSeconds,omitempty"`
	MaxChunkChars    int    `json:"maxChunkChars,omitempty"`
	MaxChunkMessages int    `json:"maxChunkMessages,omitempty"`
	Reset            bool   `json:"reset,omitempty"`
}

// IndexResult is the payload of a successful MethodIndex response.
type IndexResult struct {
	Success       bool       `json:"success"`
	TotalMessages int        `json:"totalMessages"`
	TotalChunks   int        `json:"totalChunks"`
	Debug         IndexDebug `json:"debug"`
}

// IndexDebug describes the collection after an index run.
type IndexDebug struct {
	RowCount int         `json:"rowCount"`
	Sample   []MemoryRow `json:"sample,omitempty"`
}

// QueryParams are the params of MethodQuery.
type QueryParams struct {
	SessionID  string `json:"sessionId"`
	Keyword    string `json:"keyword"`
	TopK       int    `json:"topK,omitempty"`
	RoleFilter string `json:"roleFilter,omitempty"`
}

// QueryResult is the payload of a successful MethodQuery response.
type QueryResult struct {
	Success bool        `json:"success"`
	Results []MemoryRow `json:"results"`
	Debug   QueryDebug  `json:"debug"`
}

// QueryDebug reports how a query was answered.
type QueryDebug struct {
	RowsFound    int         `json:"rowsFound"`
	UsedFallback bool        `json:"usedFallback"`
	Sample       []MemoryRow `json:"sample,omitempty"`
}

// DropParams are the params of MethodDrop.
type DropParams struct {
	SessionID string `json:"sessionId"`
}

// DropResult is the payload of a successful MethodDrop response.
type DropResult struct {
	Success bool `json:"success"`
}

// MemoryRow is an indexed chunk as seen by callers; embeddings stay in the unit.
type MemoryRow struct {
	ID           string  `json:"id" yaml:"id"`
	SessionID    string  `json:"sessionId" yaml:"sessionId"`
	Role         string  `json:"role" yaml:"role"`
	Content      string  `json:"content" yaml:"content"`
	TsStart      int64   `json:"tsStart" yaml:"tsStart"`
	TsEnd        int64   `json:"tsEnd" yaml:"tsEnd"`
	MessageCount int     `json:"messageCount" yaml:"messageCount"`
	Score        float64 `json:"score,omitempty" yaml:"score,omitempty"`
}
