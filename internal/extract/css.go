package extract

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scrapeforge/harvester/internal/types"
)

// cssExtractor applies CSS-selector rules via goquery, adapted from the
// teacher's internal/parser/css.go CSSParser.extractCSS (link discovery
// dropped — that's internal/normalizer/pagination.go's job here).
type cssExtractor struct {
	logger *slog.Logger
}

func newCSSExtractor(logger *slog.Logger) *cssExtractor {
	return &cssExtractor{logger: logger.With("component", "css_extractor")}
}

func (c *cssExtractor) extract(resp *types.Response, rules []Rule) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &types.ExtractError{URL: resp.FinalURL, Err: err}
	}

	fields := make(map[string]any, len(rules))
	for _, rule := range rules {
		var values []string
		doc.Find(rule.Selector).Each(func(_ int, sel *goquery.Selection) {
			var val string
			switch rule.Attribute {
			case "", "text":
				val = strings.TrimSpace(sel.Text())
			case "html", "innerHTML":
				val, _ = sel.Html()
			case "outerHTML":
				val, _ = goquery.OuterHtml(sel)
			default:
				val, _ = sel.Attr(rule.Attribute)
			}
			if val != "" {
				values = append(values, val)
			}
		})
		setValues(fields, rule.Name, values)
	}
	return fields, nil
}
