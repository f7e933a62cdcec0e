package fetcher

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// parseRetryAfter parses the Retry-After header value (seconds or HTTP-date),
// adapted from the teacher's internal/fetcher/http.go parseRetryAfter. The
// teacher's 120s/2-minute caps become the caller-supplied maxBackoff clamp
// per spec.md §4.B ("clamped to [baseBackoff, maxBackoff]"). Returns ok=false
// when the header is empty or unparseable so the caller can fall back to the
// exponential schedule, rather than silently defaulting to 5s.
func parseRetryAfter(header string) (d time.Duration, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// clamp bounds d to [lo, hi].
func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// backoffDelay computes the exponential-with-jitter delay for attempt
// (0-indexed), per spec.md §4.B: min(maxBackoff, baseBackoff*2^attempt) * (1 ± jitterFactor*rand()).
func backoffDelay(attempt int, base, max time.Duration, jitterFactor float64) time.Duration {
	mult := 1 << uint(attempt)
	d := base * time.Duration(mult)
	if d > max || d <= 0 {
		d = max
	}
	if jitterFactor <= 0 {
		return d
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	scaled := float64(d) * (1 + jitter)
	if scaled < 0 {
		scaled = 0
	}
	return time.Duration(scaled)
}
