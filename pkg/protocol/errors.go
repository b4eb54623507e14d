package protocol

// Error codes carried in ErrorShape.Code.
const (
	ErrInvalidRequest     = "INVALID_REQUEST"
	ErrNotFound           = "NOT_FOUND"
	ErrFailedPrecondition = "FAILED_PRECONDITION"
	ErrStore              = "STORE"
	ErrConsistency        = "CONSISTENCY"
	ErrCancelled          = "CANCELLED"
	ErrInternal           = "INTERNAL"

	// ErrBoundaryLost is never sent by a unit; the control side uses it when
	// the unit exits with requests outstanding.
	ErrBoundaryLost = "BOUNDARY_LOST"
)
