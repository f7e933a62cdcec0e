package batch

import (
	"fmt"

	"github.com/scrapeforge/harvester/internal/types"
)

// categorize maps a fetch Outcome to the closed ErrorCategory set of
// spec.md §4.D.
func categorize(o types.Outcome) types.ErrorCategory {
	switch o.Kind {
	case types.OutcomeTimeout:
		return types.CategoryTimeout
	case types.OutcomeRateLimited:
		return types.CategoryRateLimitExhausted
	case types.OutcomeClientError:
		return types.CategoryHTTP4xx
	case types.OutcomeServerError:
		return types.CategoryHTTP5xx
	case types.OutcomeNetworkError:
		return types.CategoryNetwork
	case types.OutcomeValidation:
		return types.CategoryValidation
	case types.OutcomeBlocked, types.OutcomeCircuitOpen:
		return types.CategoryBlocked
	default:
		return types.CategoryUnknown
	}
}

// recommendationThresholds triggers a human-readable suggestion once a
// category's count, as a share of all processed items, crosses a fixed fraction, per
// spec.md §4.D "recommendations engine emits suggestions ... whenever a
// category exceeds configured thresholds".
var recommendationThresholds = map[types.ErrorCategory]struct {
	fraction float64
	message  string
}{
	types.CategoryRateLimitExhausted: {0.1, "rate-limit-exhausted failures are frequent: consider reducing concurrency or per-host rate limit"},
	types.CategoryTimeout:            {0.1, "timeouts are frequent: consider raising the per-attempt timeout"},
	types.CategoryBlocked:            {0.1, "blocked failures are frequent: check the host denylist and robots.txt policy for the affected hosts"},
	types.CategoryNetwork:            {0.2, "network errors are frequent: check connectivity or DNS resolution for the affected hosts"},
	types.CategoryHTTP5xx:            {0.2, "server errors are frequent: consider backing off or excluding the affected hosts"},
}

// buildRecommendations derives the ErrorReport's Recommendations field from
// its ByCategory counts and the total item count processed.
func buildRecommendations(byCategory map[types.ErrorCategory]int, total int) []string {
	if total == 0 {
		return nil
	}
	var out []string
	for category, count := range byCategory {
		rule, ok := recommendationThresholds[category]
		if !ok {
			continue
		}
		if float64(count)/float64(total) >= rule.fraction {
			out = append(out, fmt.Sprintf("%s (%d/%d items)", rule.message, count, total))
		}
	}
	return out
}
