// Package normalizer implements the URL Normalizer (spec.md §4.C): variant
// generation, HEAD-then-GET preflight through the Resilient Fetcher, a
// canonical-form cache, and pagination discovery.
package normalizer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/scrapeforge/harvester/internal/fetcher"
	"github.com/scrapeforge/harvester/internal/types"
)

// Attempt records one preflight call made while canonicalizing a URL.
type Attempt struct {
	URL     string
	Method  string
	Outcome types.Outcome
}

// CanonicalizeResult is the return value of Canonicalize.
type CanonicalizeResult struct {
	CanonicalURL string
	Attempts     []Attempt
	FromCache    bool
	Err          error
}

// ErrAllVariantsFailed is returned (wrapped with the number of variants
// tried) when no generated variant yields a 2xx response; the per-variant
// outcomes are in CanonicalizeResult.Attempts.
var ErrAllVariantsFailed = fmt.Errorf("all variants failed")

// Normalizer canonicalizes URLs and discovers pagination on top of an
// injected Fetcher, the way the Batch Processor and Job Orchestrator use it
// (spec.md §4.C, §4.D "calls B (optionally via C)").
type Normalizer struct {
	fetch       fetcher.Fetcher
	cache       *canonicalCache
	maxVariants int

	maxPages                int
	consecutive404Threshold int
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxVariants caps the number of generated variants tried per input URL.
func WithMaxVariants(n int) Option {
	return func(nz *Normalizer) { nz.maxVariants = n }
}

// WithCacheTTL overrides the default 5-minute canonical-form cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(nz *Normalizer) { nz.cache = newCanonicalCache(ttl) }
}

// WithMaxPages caps confirmed pagination pages returned by DiscoverPagination.
func WithMaxPages(n int) Option {
	return func(nz *Normalizer) { nz.maxPages = n }
}

// WithConsecutive404Threshold stops pagination probing after this many
// consecutive non-2xx responses.
func WithConsecutive404Threshold(n int) Option {
	return func(nz *Normalizer) { nz.consecutive404Threshold = n }
}

// New builds a Normalizer over f, the shared Resilient Fetcher.
func New(f fetcher.Fetcher, opts ...Option) *Normalizer {
	nz := &Normalizer{
		fetch:       f,
		cache:       newCanonicalCache(5 * time.Minute),
		maxVariants: 8,
	}
	for _, opt := range opts {
		opt(nz)
	}
	return nz
}

// Canonicalize implements spec.md §4.C's canonicalization procedure.
func (nz *Normalizer) Canonicalize(ctx context.Context, rawURL string) CanonicalizeResult {
	key, ok := originPathKey(rawURL)
	if !ok {
		return CanonicalizeResult{Err: fmt.Errorf("%w: invalid url %q", types.ErrValidation, rawURL)}
	}

	if cached, hit := nz.cache.get(key); hit {
		return CanonicalizeResult{CanonicalURL: cached, FromCache: true}
	}

	variants := GenerateVariants(rawURL, nz.maxVariants)
	if len(variants) == 0 {
		return CanonicalizeResult{Err: fmt.Errorf("%w: no variants generated for %q", types.ErrValidation, rawURL)}
	}

	var attempts []Attempt
	for _, variant := range variants {
		outcome, attemptLog := nz.preflight(ctx, variant)
		attempts = append(attempts, attemptLog...)
		if outcome.IsSuccess() {
			nz.cache.put(key, variant)
			return CanonicalizeResult{CanonicalURL: variant, Attempts: attempts}
		}
	}

	return CanonicalizeResult{
		Attempts: attempts,
		Err:      fmt.Errorf("%w for %q: %d variants tried", ErrAllVariantsFailed, rawURL, len(variants)),
	}
}

// preflight tries variant via HEAD, falling back to GET on method-not-allowed
// or any other non-success outcome, per spec.md §4.C.
func (nz *Normalizer) preflight(ctx context.Context, variant string) (types.Outcome, []Attempt) {
	headOpts := types.DefaultFetchOptions()
	headOpts.Method = http.MethodHead
	headOutcome := nz.fetch.Fetch(ctx, variant, headOpts)
	attempts := []Attempt{{URL: variant, Method: http.MethodHead, Outcome: headOutcome}}
	if headOutcome.IsSuccess() {
		return headOutcome, attempts
	}

	getOutcome := nz.fetch.Fetch(ctx, variant, types.DefaultFetchOptions())
	attempts = append(attempts, Attempt{URL: variant, Method: http.MethodGet, Outcome: getOutcome})
	return getOutcome, attempts
}
