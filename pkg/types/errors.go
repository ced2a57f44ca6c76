package types

import "errors"

// Error kinds returned by the pipeline. Components wrap the underlying cause
// with one of these so callers can branch with errors.Is.
var (
	// ErrValidation means the caller supplied missing or invalid input.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration means a component was constructed without required settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrGeneration means a text-generation stage failed.
	ErrGeneration = errors.New("generation failure")
	// ErrCacheUnavailable means the session cache (or its pub/sub connection) failed.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrPersistence means the durable record could not be written.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotFound means a durable record does not exist.
	ErrNotFound = errors.New("not found")
)
