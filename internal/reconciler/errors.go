package reconciler

import "errors"

// Sentinel errors for reconciliation.
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnknownTask       = errors.New("unknown task")
)
