// Package worker implements the execution unit of the clone pipeline: a
// long-lived goroutine that owns the embedder and the vector store and
// processes one request at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
	"github.com/nextlevelbuilder/chatclone/internal/memory"
	"github.com/nextlevelbuilder/chatclone/internal/metrics"
	"github.com/nextlevelbuilder/chatclone/pkg/protocol"
)

// ErrUnitExited is returned when sending to a unit that has stopped.
var ErrUnitExited = errors.New("execution unit exited")

// Inbound is a message from the control side: a request, or the id of a
// request to cancel.
type Inbound struct {
	Request  *protocol.RequestFrame
	CancelID string
}

// Outbound is a message to the control side: exactly one of the fields is set.
type Outbound struct {
	Response *protocol.ResponseFrame
	Event    *protocol.EventFrame
}

// EmbedderFactory creates the unit's embedder on first use.
type EmbedderFactory func() (memory.Embedder, error)

// ChatStoreOpener opens the chat store named by conn. Stores that implement
// io.Closer are closed when the request ends.
type ChatStoreOpener func(ctx context.Context, conn chatstore.Conn) (chatstore.Store, error)

// Deps are the collaborators a unit is built from.
type Deps struct {
	BaseDir       string
	NewEmbedder   EmbedderFactory
	OpenChatStore ChatStoreOpener
	Metrics       *metrics.Metrics
}

// OpenSQLiteChatStore is the default ChatStoreOpener.
func OpenSQLiteChatStore(ctx context.Context, conn chatstore.Conn) (chatstore.Store, error) {
	return chatstore.OpenSQLiteStore(ctx, conn, chatstore.DefaultSQLiteSchema())
}

type job struct {
	ctx   context.Context
	frame *protocol.RequestFrame
}

// Unit is one execution unit. Create it with Start.
type Unit struct {
	id   string
	deps Deps

	in   chan Inbound
	jobs chan job
	out  chan Outbound
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
	exitErr  error // set before done closes

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	// Owned by the run goroutine.
	manager  *memory.Manager
	eventSeq int64
}

// Start launches a unit. The embedder is created lazily by the first
// request that needs it.
func Start(deps Deps) *Unit {
	if deps.OpenChatStore == nil {
		deps.OpenChatStore = OpenSQLiteChatStore
	}
	u := &Unit{
		id:      uuid.NewString(),
		deps:    deps,
		in:      make(chan Inbound, 16),
		jobs:    make(chan job, 64),
		out:     make(chan Outbound, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		cancels: make(map[string]context.CancelFunc),
	}
	deps.Metrics.UnitStarted()
	go u.dispatch()
	go u.run()
	slog.Info("execution unit started", "unit", u.id)
	return u
}

// ID returns the unit's instance id.
func (u *Unit) ID() string { return u.id }

// Out delivers responses and events in the order the unit produced them.
func (u *Unit) Out() <-chan Outbound { return u.out }

// Done is closed when the unit has exited.
func (u *Unit) Done() <-chan struct{} { return u.done }

// Err returns why the unit exited; nil after a requested Stop.
// Only meaningful once Done is closed.
func (u *Unit) Err() error { return u.exitErr }

// Send delivers a message to the unit.
func (u *Unit) Send(ctx context.Context, msg Inbound) error {
	select {
	case <-u.done:
		return ErrUnitExited
	default:
	}
	select {
	case u.in <- msg:
		return nil
	case <-u.done:
		return ErrUnitExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the unit to exit after the current request.
func (u *Unit) Stop() {
	u.stopOnce.Do(func() { close(u.stop) })
}

// dispatch registers a cancel func for every request as it arrives, so a
// cancel reaches requests that are still queued.
func (u *Unit) dispatch() {
	for {
		select {
		case <-u.stop:
			return
		case <-u.done:
			return
		case msg := <-u.in:
			if msg.CancelID != "" {
				u.cancel(msg.CancelID)
				continue
			}
			if msg.Request == nil {
				continue
			}
			ctx, cancel := context.WithCancel(context.Background())
			u.mu.Lock()
			u.cancels[msg.Request.ID] = cancel
			u.mu.Unlock()
			select {
			case u.jobs <- job{ctx: ctx, frame: msg.Request}:
			case <-u.stop:
				cancel()
				return
			case <-u.done:
				cancel()
				return
			}
		}
	}
}

func (u *Unit) cancel(id string) {
	u.mu.Lock()
	cancel, ok := u.cancels[id]
	u.mu.Unlock()
	if ok {
		slog.Debug("request cancel received", "unit", u.id, "id", id)
		cancel()
	}
}

func (u *Unit) release(id string) {
	u.mu.Lock()
	cancel, ok := u.cancels[id]
	delete(u.cancels, id)
	u.mu.Unlock()
	if ok {
		cancel()
	}
}

// run processes jobs one at a time. A panic ends the unit.
func (u *Unit) run() {
	defer close(u.done)
	defer func() {
		if r := recover(); r != nil {
			u.exitErr = fmt.Errorf("execution unit panicked: %v", r)
			u.deps.Metrics.UnitLost()
			slog.Error("execution unit crashed", "unit", u.id, "panic", r, "stack", string(debug.Stack()))
		}
		u.mu.Lock()
		for id, cancel := range u.cancels {
			cancel()
			delete(u.cancels, id)
		}
		u.mu.Unlock()
	}()

	for {
		select {
		case <-u.stop:
			slog.Info("execution unit stopped", "unit", u.id)
			return
		case j := <-u.jobs:
			resp := u.handle(j.ctx, j.frame)
			u.release(j.frame.ID)
			if !u.emit(Outbound{Response: resp}) {
				return
			}
		}
	}
}

// emit sends to the control side; false once the unit is stopping.
func (u *Unit) emit(msg Outbound) bool {
	select {
	case u.out <- msg:
		return true
	case <-u.stop:
		return false
	}
}

func (u *Unit) emitEvent(event string, payload any) {
	u.eventSeq++
	u.emit(Outbound{Event: protocol.NewEvent(event, u.eventSeq, payload)})
}

// managerFor returns the unit's memory manager, creating the embedder on first use.
func (u *Unit) managerFor() (*memory.Manager, error) {
	if u.manager != nil {
		return u.manager, nil
	}
	if u.deps.NewEmbedder == nil {
		return nil, memory.ErrNoEmbedder
	}
	e, err := u.deps.NewEmbedder()
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	u.manager = memory.NewManager(memory.NewStore(u.deps.BaseDir), e, u.deps.Metrics)
	slog.Debug("execution unit embedder ready", "unit", u.id)
	return u.manager, nil
}

// memoryStore returns the manager's store, or a bare one when no embedder
// has been needed yet.
func (u *Unit) memoryStore() *memory.Store {
	if u.manager != nil {
		return u.manager.Store()
	}
	return memory.NewStore(u.deps.BaseDir)
}

func closeStore(s chatstore.Store) {
	if c, ok := s.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("close chat store failed", "error", err)
		}
	}
}
