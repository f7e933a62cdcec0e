// Package extract provides the reference Extract(html, url) → Record
// implementations spec.md §1 calls external collaborators: rule-driven
// CSS/XPath/regex field extraction composed per mode, plus three
// illustrative modes (news article, sports player profile, company
// directory entry) built from those rules. The core engine depends only on
// the batch.Extractor function signature; nothing outside this package
// knows these implementations exist.
//
// Grounded on the teacher's internal/parser package (Parser interface,
// CSSParser/XPathParser/RegexParser/CompositeParser), narrowed from
// "items + discovered links" to just records, since link discovery is now
// the URL Normalizer's job (internal/normalizer/pagination.go) rather than
// the extractor's.
package extract

import (
	"log/slog"

	"github.com/scrapeforge/harvester/internal/types"
)

// Rule is one field-extraction instruction. Type selects which
// sub-extractor interprets Selector/Attribute/Pattern: "css" (default),
// "xpath", or "regex".
type Rule struct {
	Name      string
	Type      string
	Selector  string
	Attribute string
	Pattern   string
}

// Spec names a mode and the rules that populate its Record fields.
type Spec struct {
	Name  string
	Rules []Rule
}

// Composite applies a Spec's rules across CSS, XPath, and regex
// sub-extractors and merges the results into one Record, the way the
// teacher's CompositeParser merges per-sub-parser Items into one.
type Composite struct {
	spec   Spec
	css    *cssExtractor
	xpath  *xpathExtractor
	regex  *regexExtractor
	logger *slog.Logger
}

// NewComposite builds a Composite extractor for spec, logging sub-extractor
// errors rather than failing the whole Record when one rule type errors —
// a malformed regex rule shouldn't discard CSS-extracted fields.
func NewComposite(spec Spec, logger *slog.Logger) *Composite {
	return &Composite{
		spec:   spec,
		css:    newCSSExtractor(logger),
		xpath:  newXPathExtractor(logger),
		regex:  newRegexExtractor(logger),
		logger: logger.With("component", "extract", "mode", spec.Name),
	}
}

// Extract implements batch.Extractor's signature without importing the
// batch package, avoiding a dependency extract has no other reason to take.
func (c *Composite) Extract(url string, resp *types.Response) (*types.Record, error) {
	var cssRules, xpathRules, regexRules []Rule
	for _, r := range c.spec.Rules {
		switch r.Type {
		case "xpath":
			xpathRules = append(xpathRules, r)
		case "regex":
			regexRules = append(regexRules, r)
		default:
			cssRules = append(cssRules, r)
		}
	}

	record := types.NewRecord(url, c.spec.Name)

	if fields, err := c.css.extract(resp, cssRules); err != nil {
		c.logger.Warn("css extraction error", "url", url, "error", err)
	} else {
		for k, v := range fields {
			record.Set(k, v)
		}
	}

	if len(xpathRules) > 0 {
		fields, err := c.xpath.extract(resp, xpathRules)
		if err != nil {
			c.logger.Warn("xpath extraction error", "url", url, "error", err)
		}
		for k, v := range fields {
			record.Set(k, v)
		}
	}

	if len(regexRules) > 0 {
		fields, err := c.regex.extract(resp, regexRules)
		if err != nil {
			c.logger.Warn("regex extraction error", "url", url, "error", err)
		}
		for k, v := range fields {
			record.Set(k, v)
		}
	}

	return record, nil
}

// setValues assigns a rule's matched values to a field map: a single match
// is stored scalar, multiple matches as a slice — the same
// one-vs-many convention as the teacher's parser.Item.Set usage.
func setValues(fields map[string]any, name string, values []string) {
	switch len(values) {
	case 0:
		return
	case 1:
		fields[name] = values[0]
	default:
		fields[name] = values
	}
}
