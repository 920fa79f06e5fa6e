package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrUnknownTask = errors.New("unknown task")
	ErrNoStore     = errors.New("run history not available")
)
