package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's error taxonomy. Callers classify
// failures with errors.Is against these.
var (
	// ErrInvalidArgument marks caller mistakes: empty query or content,
	// non-positive topK or batch size, malformed filters. Fails fast with
	// no partial work.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnavailable marks an unreachable index or cache backend.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrNotFound marks an explicit per-id operation on a missing record.
	// Read paths never return it; searches on unknown collections are empty.
	ErrNotFound = errors.New("not found")
	// ErrCacheCorrupt marks a cache entry that failed to deserialize. It is
	// always downgraded to a miss before reaching callers.
	ErrCacheCorrupt = errors.New("cache entry corrupt")
)

// ValidationError wraps ErrInvalidArgument with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
