package types

import (
	"fmt"
	"net/http"
	"time"
)

// FetchOptions configures a single logical Fetch call (spec.md §4.B).
type FetchOptions struct {
	Method        string
	Headers       http.Header
	Body          []byte
	Timeout       time.Duration // per-attempt deadline; 100-60000ms
	MaxRetries    int           // 0-10
	CorrelationID string
}

// DefaultFetchOptions returns the zero-value-safe defaults applied when a
// caller leaves fields unset.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		Method:     http.MethodGet,
		Headers:    make(http.Header),
		Timeout:    15 * time.Second,
		MaxRetries: 3,
	}
}

// Validate checks the option struct per spec.md §4.B ("option struct is
// validated"). Returns a non-empty reason on failure.
func (o FetchOptions) Validate() (reason string, ok bool) {
	if o.Timeout < 100*time.Millisecond || o.Timeout > 60*time.Second {
		return fmt.Sprintf("timeout %s out of range [100ms,60s]", o.Timeout), false
	}
	if o.MaxRetries < 0 || o.MaxRetries > 10 {
		return fmt.Sprintf("max_retries %d out of range [0,10]", o.MaxRetries), false
	}
	for k, vs := range o.Headers {
		if k == "" {
			return "empty header name", false
		}
		for _, v := range vs {
			for _, r := range v {
				if r == '\r' || r == '\n' {
					return fmt.Sprintf("header %q contains CR/LF", k), false
				}
			}
		}
	}
	return "", true
}
