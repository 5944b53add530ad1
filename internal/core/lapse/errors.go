package lapse

import "errors"

// Error kinds. Every failure returned by the engine wraps exactly one of
// these, so callers match with errors.Is.
var (
	// ErrUsage reports an argument that violates a precondition.
	ErrUsage = errors.New("invalid usage")
	// ErrNotInitialized reports use of a subsystem before it exists.
	ErrNotInitialized = errors.New("not initialized")
	// ErrInvalidState reports an operation on a destroyed or stale object.
	ErrInvalidState = errors.New("invalid state")
)
