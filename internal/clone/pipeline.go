// Package clone coordinates the clone pipeline from the control side: it
// owns the execution unit, correlates requests with responses, and
// orchestrates tone guides and chat turns.
package clone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/chatclone/internal/agent"
	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
	"github.com/nextlevelbuilder/chatclone/internal/config"
	"github.com/nextlevelbuilder/chatclone/internal/metrics"
	"github.com/nextlevelbuilder/chatclone/internal/normalize"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
	"github.com/nextlevelbuilder/chatclone/internal/tone"
	"github.com/nextlevelbuilder/chatclone/internal/tools"
	"github.com/nextlevelbuilder/chatclone/internal/worker"
	"github.com/nextlevelbuilder/chatclone/pkg/protocol"
)

const cancelSendTimeout = time.Second

// Options configure a Pipeline.
type Options struct {
	Conn    chatstore.Conn
	BaseDir string

	// Generator answers chat turns and writes tone guides. Nil disables both.
	Generator providers.Generator
	Model     string // recorded in generated guides

	NewEmbedder   worker.EmbedderFactory
	OpenChatStore worker.ChatStoreOpener // nil opens the SQLite archive

	GuardAction      string
	ToneTokenBudget  int
	ToneTokenCounter tone.TokenCounter
	Metrics          *metrics.Metrics
}

type outcome struct {
	resp *protocol.ResponseFrame
	err  error
}

type pendingRequest struct {
	unit       *worker.Unit
	done       chan outcome
	onProgress func(protocol.IndexProgress)
}

// Pipeline is the handle UI code uses. It is safe for concurrent use.
type Pipeline struct {
	id     string
	opts   Options
	nextID atomic.Uint64

	mu      sync.Mutex
	unit    *worker.Unit
	pending map[string]*pendingRequest
	closed  bool

	guides  *tone.FileStore
	builder *tone.Builder
	loop    *agent.Loop
	toneSF  singleflight.Group
}

// New creates a Pipeline. The execution unit starts on the first request.
func New(opts Options) *Pipeline {
	if opts.OpenChatStore == nil {
		opts.OpenChatStore = worker.OpenSQLiteChatStore
	}
	p := &Pipeline{
		id:      uuid.NewString(),
		opts:    opts,
		pending: make(map[string]*pendingRequest),
		guides:  tone.NewFileStore(opts.BaseDir),
	}

	budget := opts.ToneTokenBudget
	if budget <= 0 {
		budget = tone.DefaultTokenBudget
	}
	p.builder = tone.NewBuilder(opts.Generator, p.guides, opts.Model,
		tone.WithTokenBudget(budget, opts.ToneTokenCounter))

	reg := tools.NewRegistry()
	reg.Register(tools.NewQueryChatHistoryTool(p.searchHistory))
	reg.Register(tools.NewToneGuideTool(p.guides.Load))
	p.loop = agent.NewLoop(agent.LoopConfig{
		Generator:   opts.Generator,
		Tools:       reg,
		GuardAction: opts.GuardAction,
		Metrics:     opts.Metrics,
	})
	return p
}

// ID returns the pipeline instance id used in logs.
func (p *Pipeline) ID() string { return p.id }

// Close stops the execution unit. Outstanding requests fail with ErrBoundaryLost.
func (p *Pipeline) Close() {
	p.mu.Lock()
	u := p.unit
	p.closed = true
	p.mu.Unlock()
	if u != nil {
		u.Stop()
	}
}

// unitLocked returns the live unit, starting one when there is none.
func (p *Pipeline) unitLocked() *worker.Unit {
	if p.unit != nil {
		return p.unit
	}
	u := worker.Start(worker.Deps{
		BaseDir:       p.opts.BaseDir,
		NewEmbedder:   p.opts.NewEmbedder,
		OpenChatStore: p.opts.OpenChatStore,
		Metrics:       p.opts.Metrics,
	})
	p.unit = u
	slog.Debug("pipeline unit spawned", "pipeline", p.id, "unit", u.ID())
	go p.dispatch(u)
	return u
}

// dispatch delivers a unit's output in order until the unit exits.
func (p *Pipeline) dispatch(u *worker.Unit) {
	for {
		select {
		case msg := <-u.Out():
			p.deliver(msg)
		case <-u.Done():
			for drained := false; !drained; {
				select {
				case msg := <-u.Out():
					p.deliver(msg)
				default:
					drained = true
				}
			}
			p.boundaryLost(u)
			return
		}
	}
}

func (p *Pipeline) deliver(msg worker.Outbound) {
	switch {
	case msg.Response != nil:
		p.mu.Lock()
		pr, ok := p.pending[msg.Response.ID]
		if ok {
			delete(p.pending, msg.Response.ID)
			p.opts.Metrics.SetPending(len(p.pending))
		}
		p.mu.Unlock()
		if !ok {
			slog.Warn("response for unknown request", "pipeline", p.id, "id", msg.Response.ID)
			return
		}
		pr.done <- outcome{resp: msg.Response}

	case msg.Event != nil && msg.Event.Event == protocol.EventIndexProgress:
		var ev protocol.IndexProgress
		if err := json.Unmarshal(msg.Event.Payload, &ev); err != nil {
			slog.Warn("bad progress event", "pipeline", p.id, "error", err)
			return
		}
		p.mu.Lock()
		pr, ok := p.pending[ev.RequestID]
		p.mu.Unlock()
		if ok && pr.onProgress != nil {
			pr.onProgress(ev)
		}
	}
}

// boundaryLost rejects every request sent to u and forgets the unit.
func (p *Pipeline) boundaryLost(u *worker.Unit) {
	p.mu.Lock()
	if p.unit == u {
		p.unit = nil
	}
	var lost []*pendingRequest
	for id, pr := range p.pending {
		if pr.unit == u {
			lost = append(lost, pr)
			delete(p.pending, id)
		}
	}
	p.opts.Metrics.SetPending(len(p.pending))
	p.mu.Unlock()

	if err := u.Err(); err != nil {
		slog.Error("execution unit lost", "pipeline", p.id, "unit", u.ID(), "pending", len(lost), "error", err)
	}
	for _, pr := range lost {
		pr.done <- outcome{err: ErrBoundaryLost}
	}
}

// call sends one request and waits for its response. When ctx ends first,
// the unit is asked to cancel and call still waits for the terminal reply.
func (p *Pipeline) call(ctx context.Context, method string, params any, onProgress func(protocol.IndexProgress)) (json.RawMessage, error) {
	frame, err := protocol.NewRequest(p.nextID.Add(1), method, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrBoundaryLost
	}
	u := p.unitLocked()
	pr := &pendingRequest{unit: u, done: make(chan outcome, 1), onProgress: onProgress}
	p.pending[frame.ID] = pr
	p.opts.Metrics.SetPending(len(p.pending))
	p.mu.Unlock()

	if err := u.Send(ctx, worker.Inbound{Request: frame}); err != nil {
		p.forget(frame.ID)
		if errors.Is(err, worker.ErrUnitExited) {
			return nil, ErrBoundaryLost
		}
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	var out outcome
	select {
	case out = <-pr.done:
	case <-ctx.Done():
		p.requestCancel(u, frame.ID)
		out = <-pr.done
	}
	if out.err != nil {
		return nil, out.err
	}
	if !out.resp.OK {
		return nil, remoteError(out.resp.Error)
	}
	return out.resp.Payload, nil
}

func (p *Pipeline) forget(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.opts.Metrics.SetPending(len(p.pending))
	p.mu.Unlock()
}

func (p *Pipeline) requestCancel(u *worker.Unit, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelSendTimeout)
	defer cancel()
	if err := u.Send(ctx, worker.Inbound{CancelID: id}); err != nil {
		slog.Debug("cancel not delivered", "pipeline", p.id, "id", id, "error", err)
	}
}

// validateSession checks a session id before any work starts.
func validateSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if chatstore.IsGroupSession(sessionID) {
		return fmt.Errorf("%w: %s", ErrGroupSession, sessionID)
	}
	return nil
}

// checkConn reports missing archive settings as config.ErrIncomplete.
func (p *Pipeline) checkConn() error {
	if err := p.opts.Conn.Validate(); err != nil {
		return fmt.Errorf("%w: %w", config.ErrIncomplete, err)
	}
	return nil
}

func (p *Pipeline) searchHistory(ctx context.Context, sessionID, keyword string, topK int) (*protocol.QueryResult, error) {
	return p.QueryMemory(ctx, sessionID, keyword, QueryOptions{TopK: topK, RoleFilter: normalize.RoleTarget})
}
