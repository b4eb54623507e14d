package clone

import (
	"errors"

	"github.com/nextlevelbuilder/chatclone/internal/memory"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
	"github.com/nextlevelbuilder/chatclone/pkg/protocol"
)

var (
	// ErrBoundaryLost is returned for requests outstanding when the execution
	// unit exits. The next call starts a fresh unit.
	ErrBoundaryLost = errors.New("execution unit lost")

	// ErrCancelled is returned when the caller's context ended the request.
	ErrCancelled = errors.New("request cancelled")

	// ErrGroupSession is returned for group conversations, which are not cloned.
	ErrGroupSession = errors.New("group sessions are not supported")

	// ErrInvalidArgument is returned for empty session ids, keywords or messages.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStore is the sentinel for STORE failures reported by the unit.
	ErrStore = errors.New("chat store failure")

	// ErrInternal is the sentinel for INTERNAL failures reported by the unit.
	ErrInternal = errors.New("internal error")
)

var codeSentinels = map[string]error{
	protocol.ErrInvalidRequest:     ErrInvalidArgument,
	protocol.ErrNotFound:           memory.ErrNoMemory,
	protocol.ErrFailedPrecondition: providers.ErrNotConfigured,
	protocol.ErrStore:              ErrStore,
	protocol.ErrConsistency:        memory.ErrEmbeddingMismatch,
	protocol.ErrCancelled:          ErrCancelled,
	protocol.ErrInternal:           ErrInternal,
	protocol.ErrBoundaryLost:       ErrBoundaryLost,
}

// RemoteError is a failure reported by the execution unit. It unwraps to
// the sentinel for its code, so errors.Is works across the boundary.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *RemoteError) Unwrap() error {
	return codeSentinels[e.Code]
}

func remoteError(shape *protocol.ErrorShape) error {
	if shape == nil {
		return &RemoteError{Code: protocol.ErrInternal, Message: "failed response without error"}
	}
	return &RemoteError{Code: shape.Code, Message: shape.Message}
}
