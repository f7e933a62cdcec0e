// Package fetcher implements the Resilient Fetcher (spec.md §4.B): one
// logical HTTP request wrapped in rate limiting, circuit breaking, retry,
// SSRF/DNS-rebind guards, and safe redirect handling.
package fetcher

import (
	"context"

	"github.com/scrapeforge/harvester/internal/types"
)

// Fetcher executes one logical fetch and returns a tagged Outcome, never an
// error for ordinary failure modes — those are all represented as Outcome
// variants per spec.md §9 ("Exception-based control flow → tagged Outcome").
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts types.FetchOptions) types.Outcome
	Close() error
}
