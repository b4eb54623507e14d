package protocol

// Unit events.
const (
	EventIndexProgress = "memory.indexProgress"
)

// IndexProgress is the payload of EventIndexProgress, sent after every batch.
type IndexProgress struct {
	RequestID     string `json:"requestId"`
	TotalMessages int    `json:"totalMessages"`
	TotalChunks   int    `json:"totalChunks"`
	HasMore       bool   `json:"hasMore"`
}
