package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes, following the teacher's
// internal/types/errors.go convention of plain package-level sentinels.
var (
	ErrValidation      = errors.New("validation failed")
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrBlocked         = errors.New("destination blocked (ssrf guard or denylist)")
	ErrNetworkError    = errors.New("network error")
	ErrMaxRetries      = errors.New("max retries exceeded")
	ErrDuplicate       = errors.New("duplicate url")
	ErrEmptyInput      = errors.New("no urls supplied")
	ErrInputTruncated  = errors.New("input truncated to cap")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job is not in a completed state")
	ErrJobTerminal     = errors.New("job already in a terminal state")
	ErrStoreClosed     = errors.New("store is closed")
)

// FetchError wraps a network/IO failure observed by the Resilient Fetcher.
// Kept distinct from Outcome so lower-level code (dialers, transports) has a
// normal Go error to return before an Outcome is assembled.
type FetchError struct {
	URL       string
	Err       error
	Retryable bool
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractError wraps a failure raised by an injected Extract function.
type ExtractError struct {
	URL string
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// ValidationError carries field-level detail for a rejected input, surfaced
// verbatim over the Job HTTP surface as `400 {error, details[]}`.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
