package clone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/chatclone/internal/agent"
	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
	"github.com/nextlevelbuilder/chatclone/internal/config"
	"github.com/nextlevelbuilder/chatclone/internal/normalize"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
	"github.com/nextlevelbuilder/chatclone/internal/tone"
	"github.com/nextlevelbuilder/chatclone/internal/tracing"
	"github.com/nextlevelbuilder/chatclone/pkg/protocol"
)

// IndexOptions tune one index run. A zero threshold means "use the default",
// so a zero-second chunk gap cannot be requested; the CLI rejects --gap 0.
type IndexOptions struct {
	Reset            bool
	BatchSize        int
	ChunkGapSeconds  int64
	MaxChunkChars    int
	MaxChunkMessages int
}

// IndexResult is the outcome of IndexSession.
type IndexResult struct {
	protocol.IndexResult
	Cancelled bool `json:"cancelled,omitempty"`
}

// QueryOptions tune one memory query.
type QueryOptions struct {
	TopK       int
	RoleFilter normalize.Role // empty means any role
}

// SessionSummary describes a private session and its local clone state.
type SessionSummary struct {
	chatstore.SessionInfo
	Indexed  bool `json:"indexed"`
	HasGuide bool `json:"has_guide"`
}

// IndexSession builds or extends the session's memory. onProgress runs on the
// dispatcher goroutine once per consumed batch, in order. When ctx ends the
// run is rolled back and the result has Cancelled set.
func (p *Pipeline) IndexSession(ctx context.Context, sessionID string, opts IndexOptions, onProgress func(protocol.IndexProgress)) (*IndexResult, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	if err := p.checkConn(); err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, "clone.IndexSession", tracing.Session(sessionID))

	raw, err := p.call(ctx, protocol.MethodIndex, protocol.IndexParams{
		SessionID:        sessionID,
		DBPath:           p.opts.Conn.Path,
		DecryptKey:       p.opts.Conn.Key,
		Identity:         p.opts.Conn.Identity,
		BatchSize:        opts.BatchSize,
		ChunkGapSeconds:  opts.ChunkGapSeconds,
		MaxChunkChars:    opts.MaxChunkChars,
		MaxChunkMessages: opts.MaxChunkMessages,
		Reset:            opts.Reset,
	}, onProgress)
	tracing.End(span, err)
	if errors.Is(err, ErrCancelled) {
		return &IndexResult{Cancelled: true}, err
	}
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", sessionID, err)
	}

	var res IndexResult
	if err := json.Unmarshal(raw, &res.IndexResult); err != nil {
		return nil, fmt.Errorf("decode index result: %w", err)
	}
	return &res, nil
}

// QueryMemory returns the rows nearest to keyword.
func (p *Pipeline) QueryMemory(ctx context.Context, sessionID, keyword string, opts QueryOptions) (*protocol.QueryResult, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyword) == "" {
		return nil, fmt.Errorf("%w: keyword is required", ErrInvalidArgument)
	}
	ctx, span := tracing.Start(ctx, "clone.QueryMemory", tracing.Session(sessionID))

	raw, err := p.call(ctx, protocol.MethodQuery, protocol.QueryParams{
		SessionID:  sessionID,
		Keyword:    keyword,
		TopK:       opts.TopK,
		RoleFilter: string(opts.RoleFilter),
	}, nil)
	tracing.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sessionID, err)
	}

	var res protocol.QueryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	return &res, nil
}

// GetToneGuide returns the stored guide, or tone.ErrNoGuide.
func (p *Pipeline) GetToneGuide(_ context.Context, sessionID string) (*tone.Guide, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	return p.guides.Load(sessionID)
}

// GenerateToneGuide samples the counterpart's messages and writes a new
// guide. Concurrent calls for one session share a single generation.
func (p *Pipeline) GenerateToneGuide(ctx context.Context, sessionID string, sampleSize int) (*tone.Guide, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	if err := p.checkConn(); err != nil {
		return nil, err
	}
	if p.opts.Generator == nil {
		return nil, providers.ErrNotConfigured
	}

	ch := p.toneSF.DoChan(sessionID, func() (any, error) {
		// Shared by every waiter, so it must not die with the first caller.
		return p.generateToneGuide(context.WithoutCancel(ctx), sessionID, sampleSize)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*tone.Guide), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

func (p *Pipeline) generateToneGuide(ctx context.Context, sessionID string, sampleSize int) (g *tone.Guide, err error) {
	ctx, span := tracing.Start(ctx, "clone.GenerateToneGuide", tracing.Session(sessionID))
	defer func() {
		tracing.End(span, err)
		status := "success"
		if err != nil {
			status = "error"
		}
		p.opts.Metrics.RecordToneGuide(status)
	}()

	src, err := p.opts.OpenChatStore(ctx, p.opts.Conn)
	if err != nil {
		return nil, err
	}
	defer closeStore(src)

	samples, seen, err := tone.Sample(ctx, src, tone.SampleRequest{
		SessionID: sessionID,
		Identity:  p.opts.Conn.Identity,
		Size:      sampleSize,
	})
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", sessionID, err)
	}
	slog.Debug("tone samples drawn", "session", sessionID, "seen", seen, "kept", len(samples))
	return p.builder.Build(ctx, sessionID, samples)
}

// Chat answers one message in the counterpart's voice, consulting memory
// through the agent's tools. A missing guide is not an error.
func (p *Pipeline) Chat(ctx context.Context, sessionID, message string, topK int) (string, error) {
	if err := validateSession(sessionID); err != nil {
		return "", err
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: message is required", ErrInvalidArgument)
	}
	ctx, span := tracing.Start(ctx, "clone.Chat", tracing.Session(sessionID))

	guide, err := p.guides.Load(sessionID)
	if err != nil && !errors.Is(err, tone.ErrNoGuide) {
		tracing.End(span, err)
		return "", err
	}
	reply, err := p.loop.Run(ctx, agent.Request{
		SessionID: sessionID,
		Message:   message,
		Guide:     guide,
		TopK:      topK,
	})
	tracing.End(span, err)
	return reply, err
}

// ListSessions returns the archive's private sessions with their local state.
func (p *Pipeline) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	if err := p.checkConn(); err != nil {
		return nil, err
	}
	src, err := p.opts.OpenChatStore(ctx, p.opts.Conn)
	if err != nil {
		return nil, err
	}
	defer closeStore(src)

	dir, ok := src.(chatstore.Directory)
	if !ok {
		return nil, fmt.Errorf("chat store %T cannot list sessions", src)
	}
	infos, err := dir.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	infos = slices.DeleteFunc(infos, func(s chatstore.SessionInfo) bool {
		return chatstore.IsGroupSession(s.ID)
	})

	out := make([]SessionSummary, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, info := range infos {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dir := config.SessionDir(p.opts.BaseDir, info.ID)
			indexed, err := exists(filepath.Join(dir, config.MemoryDBFile))
			if err != nil {
				return err
			}
			hasGuide, err := exists(filepath.Join(dir, config.ToneGuideFile))
			if err != nil {
				return err
			}
			out[i] = SessionSummary{SessionInfo: info, Indexed: indexed, HasGuide: hasGuide}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMemory removes the session's memory and tone guide. The removal runs
// on the execution unit, after any index request queued before it.
func (p *Pipeline) DeleteMemory(ctx context.Context, sessionID string) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	ctx, span := tracing.Start(ctx, "clone.DeleteMemory", tracing.Session(sessionID))
	_, err := p.call(ctx, protocol.MethodDrop, protocol.DropParams{SessionID: sessionID}, nil)
	tracing.End(span, err)
	if err != nil {
		return fmt.Errorf("delete %s: %w", sessionID, err)
	}
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func closeStore(s chatstore.Store) {
	if c, ok := s.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("close chat store failed", "error", err)
		}
	}
}
