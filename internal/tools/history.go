package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/chatclone/pkg/protocol"
)

// HistorySearcher runs a memory query for a session, restricted to the
// counterpart's messages.
type HistorySearcher func(ctx context.Context, sessionID, keyword string, topK int) (*protocol.QueryResult, error)

// QueryChatHistoryTool looks up past conversation facts in indexed memory.
type QueryChatHistoryTool struct {
	search HistorySearcher
}

func NewQueryChatHistoryTool(search HistorySearcher) *QueryChatHistoryTool {
	return &QueryChatHistoryTool{search: search}
}

func (t *QueryChatHistoryTool) Name() string { return NameQueryChatHistory }

func (t *QueryChatHistoryTool) Description() string {
	return "查询过去的聊天记录中的事实。参数 keyword 为要搜索的关键词，使用与聊天记录相同的语言。"
}

func (t *QueryChatHistoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"keyword": map[string]any{
				"type":        "string",
				"description": "Keyword or short phrase to look up in past messages.",
			},
		},
		"required": []string{"keyword"},
	}
}

func (t *QueryChatHistoryTool) Execute(ctx context.Context, args map[string]any) *Result {
	keyword, _ := args["keyword"].(string)
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return ErrorResult("keyword parameter is required")
	}
	sessionID := ToolSessionFromCtx(ctx)
	if sessionID == "" {
		return ErrorResult("no session in context")
	}

	res, err := t.search(ctx, sessionID, keyword, ToolTopKFromCtx(ctx))
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory query failed: %v", err)).WithError(err)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return ErrorResult(fmt.Sprintf("encode memory result: %v", err)).WithError(err)
	}
	return NewResult(string(data))
}
