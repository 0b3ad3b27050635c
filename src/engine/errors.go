package engine

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrPositionNotFound   = errors.New("position not found or already closed")
	ErrPositionClosing    = errors.New("a close order for this position is still unresolved")

	// ErrExecutionPending means the venue outcome is unknown; the reconciler resolves it.
	ErrExecutionPending = errors.New("execution outcome pending reconciliation")
	ErrOrderNotFilled   = errors.New("order ended without a fill")

	ErrEngineStopped = errors.New("engine is not running")
)
