package normalizer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scrapeforge/harvester/internal/types"
)

// PaginationResult is the return value of DiscoverPagination.
type PaginationResult struct {
	Pages  []string
	Errors []string
}

var numericSegment = regexp.MustCompile(`^\d+$`)
var letterSegment = regexp.MustCompile(`^[a-zA-Z]$`)

// DiscoverPagination implements spec.md §4.C's pagination discovery: parse
// candidates in priority order (rel=next, aria-label, pagination class/role
// hints, templated URL segments), resolve against baseURL, dedupe, then
// probe with HEAD via the Resilient Fetcher until either maxPages confirmed
// pages or consecutive404Threshold consecutive non-2xx responses.
func (nz *Normalizer) DiscoverPagination(ctx context.Context, baseURL string, html string) PaginationResult {
	base, err := url.Parse(baseURL)
	if err != nil {
		return PaginationResult{Errors: []string{fmt.Sprintf("invalid base url %q: %v", baseURL, err)}}
	}

	candidates := collectCandidates(base, html)

	var pages []string
	var errs []string
	consecutiveFailures := 0
	maxPages := nz.maxPages
	if maxPages <= 0 {
		maxPages = 20
	}
	threshold := nz.consecutive404Threshold
	if threshold <= 0 {
		threshold = 3
	}

	for _, candidate := range candidates {
		if len(pages) >= maxPages || consecutiveFailures >= threshold {
			break
		}
		opts := types.DefaultFetchOptions()
		opts.Method = http.MethodHead
		outcome := nz.fetch.Fetch(ctx, candidate, opts)
		if outcome.IsSuccess() {
			pages = append(pages, candidate)
			consecutiveFailures = 0
			continue
		}
		consecutiveFailures++
		errs = append(errs, fmt.Sprintf("%s: %s", candidate, outcome.Error()))
	}

	return PaginationResult{Pages: pages, Errors: errs}
}

// collectCandidates walks the priority list of pagination hint sources and
// returns a deduplicated, order-preserving list of absolute candidate URLs.
func collectCandidates(base *url.URL, html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(href string) {
		resolved, err := resolveHref(base, href)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	}

	doc.Find(`link[rel="next"][href], a[rel="next"][href]`).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			add(href)
		}
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		label, _ := s.Attr("aria-label")
		if strings.Contains(strings.ToLower(label), "next") {
			if href, ok := s.Attr("href"); ok {
				add(href)
			}
		}
	})

	doc.Find(`[class*="pagination"] a[href], [class*="pager"] a[href], [role="navigation"] a[href]`).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			add(href)
		}
	})

	for _, candidate := range templatedSegmentCandidates(base) {
		add(candidate)
	}
	return out
}

// resolveHref resolves href against base, rejecting non-http(s) schemes.
func resolveHref(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("non-http scheme %q", resolved.Scheme)
	}
	return resolved.String(), nil
}

// templatedSegmentCandidates derives a handful of "next page" guesses from
// the current URL's own path segments: a trailing numeric page index
// incremented by one, or a trailing single-letter filter segment advanced
// alphabetically, per spec.md §4.C.
func templatedSegmentCandidates(base *url.URL) []string {
	segments := strings.Split(strings.Trim(base.Path, "/"), "/")
	if len(segments) == 0 {
		return nil
	}
	last := segments[len(segments)-1]

	switch {
	case numericSegment.MatchString(last):
		n, err := strconv.Atoi(last)
		if err != nil {
			return nil
		}
		segments[len(segments)-1] = strconv.Itoa(n + 1)
	case letterSegment.MatchString(last) && last != "z" && last != "Z":
		segments[len(segments)-1] = string(rune(last[0] + 1))
	default:
		return nil
	}

	next := *base
	next.Path = "/" + strings.Join(segments, "/")
	return []string{next.String()}
}
