package model

import "errors"

// Sentinel errors shared across the engine. Call sites wrap them with
// fmt.Errorf("...: %w", err) and check with errors.Is.
var (
	// ErrNotFound reports a missing session or keyboard.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument reports a malformed value or filter.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDependencyFailure reports an unavailable backing store.
	ErrDependencyFailure = errors.New("dependency failure")
)
