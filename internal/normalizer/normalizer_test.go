package normalizer

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"

	"github.com/scrapeforge/harvester/internal/types"
)

// fakeFetcher is a table-driven stub satisfying fetcher.Fetcher, grounded on
// the teacher's plain-testing style (no mocking framework).
type fakeFetcher struct {
	mu       sync.Mutex
	statuses map[string]int // url -> status code; absent = network error
	denyHead bool           // when set, every HEAD call reports 405 regardless of statuses
	calls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, opts types.FetchOptions) types.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, opts.Method+" "+url)
	f.mu.Unlock()

	if f.denyHead && opts.Method == http.MethodHead {
		return types.NewClientError(&types.Response{StatusCode: http.StatusMethodNotAllowed, FinalURL: url}, http.StatusMethodNotAllowed)
	}

	status, ok := f.statuses[url]
	if !ok {
		return types.NewNetworkError(errUnreachable, false)
	}
	switch {
	case status >= 200 && status < 300:
		return types.NewSuccess(&types.Response{StatusCode: status, FinalURL: url})
	case status == http.StatusNotFound || (status >= 400 && status < 500):
		return types.NewClientError(&types.Response{StatusCode: status, FinalURL: url}, status)
	default:
		return types.NewServerError(&types.Response{StatusCode: status, FinalURL: url}, status)
	}
}

func (f *fakeFetcher) Close() error { return nil }

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var errUnreachable = errors.New("unreachable in test")

func TestGenerateVariantsOrderAndCap(t *testing.T) {
	variants := GenerateVariants("http://example.com/page/1", 8)
	if len(variants) == 0 {
		t.Fatal("expected at least one variant")
	}
	for _, v := range variants {
		if v == "http://example.com/page/1" {
			t.Fatalf("original input must be dropped from variants, got %v", variants)
		}
	}

	wantOneOf := "https://www.example.com/page/1"
	found := false
	for _, v := range variants {
		if v == wantOneOf {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q among variants, got %v", wantOneOf, variants)
	}

	capped := GenerateVariants("http://example.com/page/1/", 2)
	if len(capped) > 2 {
		t.Fatalf("expected at most 2 variants, got %d", len(capped))
	}
}

func TestGenerateVariantsInvalidInput(t *testing.T) {
	if v := GenerateVariants("javascript:alert(1)", 8); v != nil {
		t.Fatalf("expected nil variants for invalid input, got %v", v)
	}
	if v := GenerateVariants("not a url at all://", 8); len(v) != 0 {
		t.Fatalf("expected empty variants for unparseable input, got %v", v)
	}
}

// TestCanonicalizeOnlyWWWVariantSucceeds covers spec.md §8 scenario 6: only
// https://www.example.com/page/1 returns 200 among the generated variants.
func TestCanonicalizeOnlyWWWVariantSucceeds(t *testing.T) {
	f := &fakeFetcher{statuses: map[string]int{
		"https://www.example.com/page/1": 200,
	}}
	nz := New(f)

	result := nz.Canonicalize(context.Background(), "http://example.com/page/1")
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.CanonicalURL != "https://www.example.com/page/1" {
		t.Fatalf("expected canonical url to be the only 200 variant, got %q", result.CanonicalURL)
	}
	if result.FromCache {
		t.Fatal("first call should not be served from cache")
	}

	second := nz.Canonicalize(context.Background(), "http://www.example.com/page/1/")
	if !second.FromCache {
		t.Fatal("expected second call for a variant of the same origin-path to hit the cache")
	}
	if second.CanonicalURL != result.CanonicalURL {
		t.Fatalf("cached result mismatch: %q vs %q", second.CanonicalURL, result.CanonicalURL)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	f := &fakeFetcher{statuses: map[string]int{
		"https://example.com/a": 200,
	}}
	nz := New(f)

	first := nz.Canonicalize(context.Background(), "http://example.com/a")
	if first.Err != nil {
		t.Fatalf("unexpected error: %v", first.Err)
	}

	second := nz.Canonicalize(context.Background(), first.CanonicalURL)
	if second.Err != nil {
		t.Fatalf("unexpected error on re-canonicalization: %v", second.Err)
	}
	if second.CanonicalURL != first.CanonicalURL {
		t.Fatalf("Canonicalize(Canonicalize(u)) != Canonicalize(u): %q vs %q", second.CanonicalURL, first.CanonicalURL)
	}
}

func TestCanonicalizeAllVariantsFail(t *testing.T) {
	f := &fakeFetcher{statuses: map[string]int{}}
	nz := New(f)

	result := nz.Canonicalize(context.Background(), "http://example.com/missing")
	if result.Err == nil {
		t.Fatal("expected an error when every variant fails")
	}
	if len(result.Attempts) == 0 {
		t.Fatal("expected per-variant attempts to be recorded for diagnosis")
	}
}

func TestCanonicalizeFallsBackFromHeadToGet(t *testing.T) {
	f := &fakeFetcher{
		denyHead: true,
		statuses: map[string]int{
			"https://www.example.com/x": 200,
		},
	}
	nz := New(f)

	result := nz.Canonicalize(context.Background(), "http://example.com/x")
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.CanonicalURL != "https://www.example.com/x" {
		t.Fatalf("expected GET fallback to confirm the variant, got %q", result.CanonicalURL)
	}

	foundHead, foundGet := false, false
	for _, a := range result.Attempts {
		if a.URL == "https://www.example.com/x" && a.Method == http.MethodHead {
			foundHead = true
		}
		if a.URL == "https://www.example.com/x" && a.Method == http.MethodGet {
			foundGet = true
		}
	}
	if !foundHead || !foundGet {
		t.Fatalf("expected both a HEAD and a fallback GET attempt, got %+v", result.Attempts)
	}
}

func TestDiscoverPaginationRelNextPriority(t *testing.T) {
	html := `
	<html><body>
		<link rel="next" href="/list?page=2">
		<a aria-label="Go to next page" href="/ignored-because-rel-next-wins">x</a>
	</body></html>`

	f := &fakeFetcher{statuses: map[string]int{
		"http://example.com/list?page=2": 200,
	}}
	nz := New(f)

	result := nz.DiscoverPagination(context.Background(), "http://example.com/list?page=1", html)
	if len(result.Pages) != 1 || result.Pages[0] != "http://example.com/list?page=2" {
		t.Fatalf("expected rel=next candidate to be the confirmed page, got %+v", result)
	}
}

func TestDiscoverPaginationStopsAtConsecutive404Threshold(t *testing.T) {
	html := `<html><body>
		<div class="pagination">
			<a href="/p/2">2</a>
			<a href="/p/3">3</a>
			<a href="/p/4">4</a>
			<a href="/p/5">5</a>
		</div>
	</body></html>`

	f := &fakeFetcher{statuses: map[string]int{
		"http://example.com/p/2": 200,
	}}
	nz := New(f, WithConsecutive404Threshold(2))

	result := nz.DiscoverPagination(context.Background(), "http://example.com/p/1", html)
	if len(result.Pages) != 1 {
		t.Fatalf("expected exactly 1 confirmed page before the threshold trips, got %+v", result.Pages)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected probing to stop after 2 consecutive failures, got %d errors", len(result.Errors))
	}
}

func TestDiscoverPaginationTemplatedNumericSegment(t *testing.T) {
	f := &fakeFetcher{statuses: map[string]int{
		"http://example.com/archive/3": 200,
	}}
	nz := New(f)

	result := nz.DiscoverPagination(context.Background(), "http://example.com/archive/2", "<html></html>")
	if len(result.Pages) != 1 || result.Pages[0] != "http://example.com/archive/3" {
		t.Fatalf("expected templated numeric segment to be tried, got %+v", result)
	}
}

func TestDiscoverPaginationRespectsMaxPages(t *testing.T) {
	html := `<html><body><nav role="navigation">
		<a href="/a">a</a><a href="/b">b</a><a href="/c">c</a>
	</nav></body></html>`
	f := &fakeFetcher{statuses: map[string]int{
		"http://example.com/a": 200,
		"http://example.com/b": 200,
		"http://example.com/c": 200,
	}}
	nz := New(f, WithMaxPages(1))

	result := nz.DiscoverPagination(context.Background(), "http://example.com/start", html)
	if len(result.Pages) != 1 {
		t.Fatalf("expected maxPages=1 to cap confirmed pages, got %+v", result.Pages)
	}
}

func TestOriginPathKeyGroupsVariants(t *testing.T) {
	keys := map[string]bool{}
	for _, u := range []string{
		"http://example.com/a",
		"https://www.example.com/a",
		"https://example.com/a/",
	} {
		k, ok := originPathKey(u)
		if !ok {
			t.Fatalf("expected %q to yield a key", u)
		}
		keys[k] = true
	}
	if len(keys) != 1 {
		var ks []string
		for k := range keys {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		t.Fatalf("expected all three variants to share one origin-path key, got %v", ks)
	}
}
