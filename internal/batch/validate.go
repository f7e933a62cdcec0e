// Package batch implements the Batch Processor (spec.md §4.D): a bounded
// worker pool that fetches (via B, optionally C), extracts, and reports
// ordered, retried, categorized results for a set of input URLs.
package batch

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/scrapeforge/harvester/internal/config"
	"github.com/scrapeforge/harvester/internal/types"
)

// validationOutcome is one input URL's fate during the Validating phase.
type validationOutcome struct {
	url      string
	rejected bool
	reason   string
}

// validateAndDedupe implements spec.md §4.D's validation & deduplication
// rules, generalizing the teacher's internal/engine/dedup.go CanonicalizeURL
// with a hard input cap and tracking-query-param stripping. Returns the
// ordered, deduplicated, in-cap URL list plus counts for the BatchResult.
func validateAndDedupe(cfg config.BatchConfig, urls []string) (valid []string, truncated, duplicates int, rejected []types.ItemError) {
	limit := cfg.MaxURLs
	if limit <= 0 {
		limit = 1500
	}

	working := urls
	if len(working) > limit {
		truncated = len(working) - limit
		working = working[:limit]
	}

	seen := make(map[string]struct{}, len(working))
	for _, raw := range working {
		outcome := validateOne(cfg, raw)
		if outcome.rejected {
			rejected = append(rejected, types.ItemError{
				URL:      raw,
				Category: types.CategoryValidation,
				Message:  outcome.reason,
			})
			continue
		}

		key := normalizeForDedup(cfg, raw)
		if _, dup := seen[key]; dup {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
		valid = append(valid, raw)
	}
	return valid, truncated, duplicates, rejected
}

func validateOne(cfg config.BatchConfig, raw string) validationOutcome {
	if raw == "" {
		return validationOutcome{url: raw, rejected: true, reason: "empty url"}
	}
	maxLen := cfg.MaxURLLength
	if maxLen <= 0 {
		maxLen = 2048
	}
	if len(raw) > maxLen {
		return validationOutcome{url: raw, rejected: true, reason: "url exceeds max length"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return validationOutcome{url: raw, rejected: true, reason: "unparseable url"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validationOutcome{url: raw, rejected: true, reason: "url must be absolute http/https"}
	}
	if u.Host == "" {
		return validationOutcome{url: raw, rejected: true, reason: "url has no host"}
	}
	if isObviouslyPrivateHost(u.Hostname()) {
		return validationOutcome{url: raw, rejected: true, reason: "private host rejected"}
	}
	return validationOutcome{url: raw}
}

// isObviouslyPrivateHost catches literal loopback/private addresses and
// "localhost" at validation time, without doing DNS resolution — hostname
// resolution and rebind detection belong to the Fetcher's SSRF guard
// (internal/fetcher/ssrf.go), which runs per attempt, not once at intake.
func isObviouslyPrivateHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" {
		return true
	}
	ip := net.ParseIP(lower)
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.IsPrivate()
}

// normalizeForDedup canonicalizes raw for deduplication purposes per
// spec.md §4.D: lowercase scheme/host, strip default port, strip fragment,
// strip tracking query params, remove trailing slash except root.
func normalizeForDedup(cfg config.BatchConfig, raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	u.Fragment = ""

	if u.RawQuery != "" {
		u.RawQuery = stripTrackingParams(u.RawQuery, cfg.TrackingQueryParams)
	}

	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

var defaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"gclid", "fbclid", "msclkid", "ref", "mc_cid", "mc_eid",
}

func stripTrackingParams(rawQuery string, configured []string) string {
	strip := make(map[string]struct{})
	for _, p := range defaultTrackingParams {
		strip[p] = struct{}{}
	}
	for _, p := range configured {
		strip[strings.ToLower(p)] = struct{}{}
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	for k := range values {
		if _, ok := strip[strings.ToLower(k)]; ok {
			delete(values, k)
		}
	}
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	return sb.String()
}
