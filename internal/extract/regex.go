package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/scrapeforge/harvester/internal/types"
)

// regexExtractor applies regex rules over the raw response body, adapted
// from the teacher's internal/parser/regex.go RegexParser, including its
// compiled-pattern cache and named-vs-positional capture group handling.
type regexExtractor struct {
	logger *slog.Logger
	mu     sync.Mutex
	cache  map[string]*regexp.Regexp
}

func newRegexExtractor(logger *slog.Logger) *regexExtractor {
	return &regexExtractor{
		logger: logger.With("component", "regex_extractor"),
		cache:  make(map[string]*regexp.Regexp),
	}
}

func (rx *regexExtractor) extract(resp *types.Response, rules []Rule) (map[string]any, error) {
	body := string(resp.Body)
	fields := make(map[string]any, len(rules))
	var errs []string

	for _, rule := range rules {
		re, err := rx.getOrCompile(rule.Pattern)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %q: %v", rule.Name, err))
			continue
		}
		setValues(fields, rule.Name, matchValues(re, body))
	}

	var retErr error
	if len(errs) > 0 {
		retErr = &types.ExtractError{URL: resp.FinalURL, Err: fmt.Errorf("regex errors: %s", strings.Join(errs, "; "))}
	}
	return fields, retErr
}

func matchValues(re *regexp.Regexp, body string) []string {
	names := re.SubexpNames()
	hasNamedGroups := false
	for _, name := range names {
		if name != "" {
			hasNamedGroups = true
			break
		}
	}

	var values []string
	switch {
	case hasNamedGroups:
		for _, match := range re.FindAllStringSubmatch(body, -1) {
			for i, name := range names {
				if name != "" && i < len(match) && match[i] != "" {
					values = append(values, match[i])
				}
			}
		}
	case re.NumSubexp() > 0:
		for _, match := range re.FindAllStringSubmatch(body, -1) {
			if len(match) > 1 {
				values = append(values, match[1])
			}
		}
	default:
		values = re.FindAllString(body, -1)
	}
	return values
}

func (rx *regexExtractor) getOrCompile(pattern string) (*regexp.Regexp, error) {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	if re, ok := rx.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	rx.cache[pattern] = re
	return re, nil
}
