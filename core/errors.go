package core

import "errors"

// Error taxonomy for the engine. Callers match with errors.Is; wrapping sites
// add context with fmt.Errorf("...: %w", err).
var (
	// ErrMissingSource is returned by normalization when a raw record carries
	// no source identifier. The record is rejected, no event is produced.
	ErrMissingSource = errors.New("raw record has no source identifier")

	// ErrInvalidRule is returned when a rule fails validation at creation
	// time (zero conditions, non-positive window, missing grouping fields).
	ErrInvalidRule = errors.New("invalid rule configuration")

	// ErrInvalidTransition is returned when an alert state-machine guard
	// rejects an operation. The alert is left unchanged.
	ErrInvalidTransition = errors.New("invalid alert state transition")

	// ErrNotFound is returned when an operation references a nonexistent
	// alert, event, or rule identifier.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned when the external store fails or a
	// caller-supplied deadline expires. Retry policy belongs to the caller.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
