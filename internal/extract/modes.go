package extract

// Three illustrative modes matching spec.md §1's example domains (news
// article / sports player profile / supplier-company directory), standing
// in for real site-specific rule sets a deployment would supply.

// NewsArticleSpec extracts headline/byline/published-date/body fields from
// a generic article page, using common microdata/semantic-HTML hooks.
var NewsArticleSpec = Spec{
	Name: "news",
	Rules: []Rule{
		{Name: "headline", Type: "css", Selector: "h1, [itemprop='headline']", Attribute: "text"},
		{Name: "byline", Type: "css", Selector: "[rel='author'], [itemprop='author'], .byline, .author"},
		{Name: "published_at", Type: "css", Selector: "time[datetime]", Attribute: "datetime"},
		{Name: "body", Type: "css", Selector: "article p, [itemprop='articleBody'] p"},
		{Name: "section", Type: "xpath", Selector: "//meta[@property='article:section']/@content"},
	},
}

// SportsPlayerSpec extracts a player profile's name/position/team/stats
// table from a generic roster page.
var SportsPlayerSpec = Spec{
	Name: "sports_player",
	Rules: []Rule{
		{Name: "name", Type: "css", Selector: "h1.player-name, [itemprop='name']"},
		{Name: "position", Type: "css", Selector: ".player-position, [data-field='position']"},
		{Name: "team", Type: "css", Selector: ".player-team, [data-field='team']"},
		{Name: "stat_line", Type: "css", Selector: "table.player-stats td"},
		{Name: "jersey_number", Type: "regex", Pattern: `#(\d{1,3})\s`},
	},
}

// CompanyDirectorySpec extracts a supplier/company directory entry's name,
// address, and contact fields.
var CompanyDirectorySpec = Spec{
	Name: "company_directory",
	Rules: []Rule{
		{Name: "company_name", Type: "css", Selector: "[itemprop='name'], h1.company-name"},
		{Name: "address", Type: "css", Selector: "[itemprop='address'], .company-address"},
		{Name: "phone", Type: "regex", Pattern: `\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`},
		{Name: "website", Type: "css", Selector: "a.company-website", Attribute: "href"},
		{Name: "category", Type: "xpath", Selector: "//meta[@name='category']/@content"},
	},
}
