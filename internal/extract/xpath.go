package extract

import (
	"log/slog"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/scrapeforge/harvester/internal/types"
)

// xpathExtractor applies XPath rules via antchfx/htmlquery, adapted from
// the teacher's internal/parser/xpath.go XPathParser.
type xpathExtractor struct {
	logger *slog.Logger
}

func newXPathExtractor(logger *slog.Logger) *xpathExtractor {
	return &xpathExtractor{logger: logger.With("component", "xpath_extractor")}
}

func (x *xpathExtractor) extract(resp *types.Response, rules []Rule) (map[string]any, error) {
	doc, err := html.Parse(strings.NewReader(string(resp.Body)))
	if err != nil {
		return nil, &types.ExtractError{URL: resp.FinalURL, Err: err}
	}

	fields := make(map[string]any, len(rules))
	for _, rule := range rules {
		nodes, err := htmlquery.QueryAll(doc, rule.Selector)
		if err != nil {
			x.logger.Warn("invalid xpath", "selector", rule.Selector, "error", err)
			continue
		}

		var values []string
		for _, node := range nodes {
			var val string
			switch rule.Attribute {
			case "", "text":
				val = strings.TrimSpace(htmlquery.InnerText(node))
			case "html", "innerHTML":
				val = htmlquery.OutputHTML(node, false)
			case "outerHTML":
				val = htmlquery.OutputHTML(node, true)
			default:
				val = htmlquery.SelectAttr(node, rule.Attribute)
			}
			if val != "" {
				values = append(values, val)
			}
		}
		setValues(fields, rule.Name, values)
	}
	return fields, nil
}
