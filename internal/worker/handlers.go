package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
	"github.com/nextlevelbuilder/chatclone/internal/memory"
	"github.com/nextlevelbuilder/chatclone/internal/normalize"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
	"github.com/nextlevelbuilder/chatclone/internal/tracing"
	"github.com/nextlevelbuilder/chatclone/pkg/protocol"
)

var errInvalid = errors.New("invalid request")

func (u *Unit) handle(ctx context.Context, f *protocol.RequestFrame) *protocol.ResponseFrame {
	ctx, span := tracing.Start(ctx, "worker."+f.Method)
	var (
		payload any
		err     error
	)
	switch f.Method {
	case protocol.MethodIndex:
		payload, err = u.handleIndex(ctx, f)
	case protocol.MethodQuery:
		payload, err = u.handleQuery(ctx, f)
	case protocol.MethodDrop:
		payload, err = u.handleDrop(f)
	default:
		err = fmt.Errorf("%w: unknown method %q", errInvalid, f.Method)
	}
	tracing.End(span, err)
	if err != nil {
		code := ErrorCode(err)
		slog.Debug("unit request failed", "unit", u.id, "id", f.ID, "method", f.Method, "code", code, "error", err)
		return protocol.NewErrorResponse(f.ID, code, err.Error())
	}
	return protocol.NewOKResponse(f.ID, payload)
}

// ErrorCode maps a handler error to its wire code.
func ErrorCode(err error) string {
	var storeErr *chatstore.StoreError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrCancelled
	case errors.Is(err, errInvalid):
		return protocol.ErrInvalidRequest
	case errors.Is(err, memory.ErrNoMemory):
		return protocol.ErrNotFound
	case errors.Is(err, chatstore.ErrIncompleteConn),
		errors.Is(err, memory.ErrNoEmbedder),
		errors.Is(err, providers.ErrNotConfigured):
		return protocol.ErrFailedPrecondition
	case errors.Is(err, memory.ErrEmbeddingMismatch):
		return protocol.ErrConsistency
	case errors.As(err, &storeErr):
		return protocol.ErrStore
	default:
		return protocol.ErrInternal
	}
}

func decodeParams(f *protocol.RequestFrame, v any) error {
	if len(f.Params) == 0 {
		return fmt.Errorf("%w: missing params", errInvalid)
	}
	if err := json.Unmarshal(f.Params, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalid, err)
	}
	return nil
}

func validateSession(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: sessionId is required", errInvalid)
	}
	if chatstore.IsGroupSession(id) {
		return fmt.Errorf("%w: group sessions are not supported", errInvalid)
	}
	return nil
}

func (u *Unit) handleIndex(ctx context.Context, f *protocol.RequestFrame) (any, error) {
	var p protocol.IndexParams
	if err := decodeParams(f, &p); err != nil {
		return nil, err
	}
	if err := validateSession(p.SessionID); err != nil {
		return nil, err
	}
	conn := chatstore.Conn{Path: p.DBPath, Key: p.DecryptKey, Identity: p.Identity}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	mgr, err := u.managerFor()
	if err != nil {
		return nil, err
	}
	src, err := u.deps.OpenChatStore(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer closeStore(src)

	res, err := mgr.Index(ctx, src, memory.IndexRequest{
		SessionID: p.SessionID,
		Identity:  p.Identity,
		BatchSize: p.BatchSize,
		Chunk: memory.ChunkConfig{
			GapSeconds:  p.ChunkGapSeconds,
			MaxChars:    p.MaxChunkChars,
			MaxMessages: p.MaxChunkMessages,
		},
		Reset: p.Reset,
	}, func(pr memory.Progress) {
		u.emitEvent(protocol.EventIndexProgress, protocol.IndexProgress{
			RequestID:     f.ID,
			TotalMessages: pr.TotalMessages,
			TotalChunks:   pr.TotalChunks,
			HasMore:       pr.HasMore,
		})
	})
	if err != nil {
		return nil, err
	}
	return protocol.IndexResult{
		Success:       true,
		TotalMessages: res.TotalMessages,
		TotalChunks:   res.TotalChunks,
		Debug: protocol.IndexDebug{
			RowCount: res.RowCount,
			Sample:   memory.WireRows(res.Sample),
		},
	}, nil
}

func (u *Unit) handleQuery(ctx context.Context, f *protocol.RequestFrame) (any, error) {
	var p protocol.QueryParams
	if err := decodeParams(f, &p); err != nil {
		return nil, err
	}
	if err := validateSession(p.SessionID); err != nil {
		return nil, err
	}
	role := normalize.Role(p.RoleFilter)
	if role != "" && !role.Valid() {
		return nil, fmt.Errorf("%w: unknown roleFilter %q", errInvalid, p.RoleFilter)
	}
	mgr, err := u.managerFor()
	if err != nil {
		return nil, err
	}
	res, err := mgr.Query(ctx, memory.QueryRequest{
		SessionID: p.SessionID,
		Keyword:   p.Keyword,
		TopK:      p.TopK,
		Role:      role,
	})
	if err != nil {
		return nil, err
	}
	return protocol.QueryResult{
		Success: true,
		Results: memory.WireRows(res.Rows),
		Debug: protocol.QueryDebug{
			RowsFound:    res.RowsFound,
			UsedFallback: res.UsedFallback,
			Sample:       memory.WireRows(res.Sample),
		},
	}, nil
}

// handleDrop removes a session's memory. It runs on the unit like every other
// request, so it never races an index that is still writing the collection.
func (u *Unit) handleDrop(f *protocol.RequestFrame) (any, error) {
	var p protocol.DropParams
	if err := decodeParams(f, &p); err != nil {
		return nil, err
	}
	if err := validateSession(p.SessionID); err != nil {
		return nil, err
	}
	if err := u.memoryStore().Drop(p.SessionID); err != nil {
		return nil, err
	}
	return protocol.DropResult{Success: true}, nil
}
