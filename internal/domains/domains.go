// Package domains maintains the closed domain sets used by URL
// classification and source preference: marketplaces and social sites
// to skip, trusted retailers, review sites, competition domains with
// their parser keys, and official brand domains.
package domains

import (
	"net/url"
	"strings"
)

// Registry holds the configured domain intelligence for a process.
type Registry struct {
	skip        map[string]bool
	retailer    map[string]bool
	review      map[string]bool
	competition map[string]string // domain -> parser key
	official    map[string]bool
}

// Config allows overriding the built-in sets from configuration.
type Config struct {
	SkipDomains       []string          `yaml:"skip_domains" mapstructure:"skip_domains"`
	RetailerDomains   []string          `yaml:"retailer_domains" mapstructure:"retailer_domains"`
	ReviewDomains     []string          `yaml:"review_domains" mapstructure:"review_domains"`
	CompetitionParser map[string]string `yaml:"competition_parsers" mapstructure:"competition_parsers"`
	OfficialDomains   []string          `yaml:"official_domains" mapstructure:"official_domains"`
}

var defaultSkip = []string{
	"amazon.com", "ebay.com", "walmart.com", "target.com",
	"facebook.com", "instagram.com", "twitter.com", "x.com",
	"youtube.com", "reddit.com", "pinterest.com", "tiktok.com",
	"wikipedia.org", "yelp.com",
}

var defaultRetailer = []string{
	"masterofmalt.com", "thewhiskyexchange.com", "totalwine.com",
	"whisky.de", "finedrams.com", "wine-searcher.com", "caskers.com",
	"flaskfinewines.com", "portugalvineyards.com",
}

var defaultReview = []string{
	"whiskyadvocate.com", "whiskynotes.be", "connosr.com",
	"breakingbourbon.com", "thewhiskeywash.com", "fortheloveofport.com",
	"wineenthusiast.com", "decanter.com",
}

var defaultCompetition = map[string]string{
	"iwsc.net":                          "iwsc",
	"sfspiritscomp.com":                 "sfwsc",
	"thetastingalliance.com":            "sfwsc",
	"worldwhiskiesawards.com":           "wwa",
	"decanter.com/awards":               "decanter",
	"internationalspiritschallenge.com": "isc",
	"tastings.com":                      "bti",
	"intwinechallenge.com":              "iwc",
}

var defaultOfficial = []string{
	"ardbeg.com", "lagavulin.com", "glenfiddich.com", "macallan.com",
	"highlandpark.co.uk", "buffalotracedistillery.com",
	"grahams-port.com", "taylor.pt", "fonseca.pt", "quintadonoval.com",
}

// NewRegistry builds a registry from config, falling back to the
// built-in sets for anything unset.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		skip:        toSet(coalesce(cfg.SkipDomains, defaultSkip)),
		retailer:    toSet(coalesce(cfg.RetailerDomains, defaultRetailer)),
		review:      toSet(coalesce(cfg.ReviewDomains, defaultReview)),
		competition: map[string]string{},
		official:    toSet(coalesce(cfg.OfficialDomains, defaultOfficial)),
	}
	parsers := cfg.CompetitionParser
	if len(parsers) == 0 {
		parsers = defaultCompetition
	}
	for domain, key := range parsers {
		r.competition[strings.ToLower(domain)] = key
	}
	return r
}

// Domain extracts the registrable host from a URL, lowercased and
// stripped of a www prefix.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimPrefix(rawURL, "www."))
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// Skip reports whether the URL's domain is in the skip set.
func (r *Registry) Skip(rawURL string) bool {
	return matchSet(r.skip, Domain(rawURL))
}

// Retailer reports whether the URL belongs to a trusted retailer.
func (r *Registry) Retailer(rawURL string) bool {
	return matchSet(r.retailer, Domain(rawURL))
}

// Review reports whether the URL belongs to a known review site.
func (r *Registry) Review(rawURL string) bool {
	return matchSet(r.review, Domain(rawURL))
}

// Official reports whether the URL is a brand-owned site.
func (r *Registry) Official(rawURL string) bool {
	return matchSet(r.official, Domain(rawURL))
}

// CompetitionParser returns the parser key for a competition domain,
// or "" when the domain is not a known competition site. Entries
// carrying a path (decanter.com/awards) match only URLs under that
// path, so the rest of the site keeps its review classification.
func (r *Registry) CompetitionParser(rawURL string) string {
	domain := Domain(rawURL)
	full := domain
	if u, err := url.Parse(rawURL); err == nil {
		full = domain + strings.ToLower(u.Path)
	}
	for known, key := range r.competition {
		if strings.Contains(known, "/") {
			if strings.HasPrefix(full, known) {
				return key
			}
			continue
		}
		if domain == known || strings.HasSuffix(domain, "."+known) {
			return key
		}
	}
	return ""
}

// Competition reports whether the URL's domain is a known competition
// site.
func (r *Registry) Competition(rawURL string) bool {
	return r.CompetitionParser(rawURL) != ""
}

// SourcePreference ranks a URL for crawl ordering: official brand
// sites first, then retailers, then review sites, then everything
// else. Skip domains rank last and should not be crawled at all.
func (r *Registry) SourcePreference(rawURL string) int {
	switch {
	case r.Skip(rawURL):
		return -1
	case r.Official(rawURL):
		return 3
	case r.Retailer(rawURL):
		return 2
	case r.Review(rawURL):
		return 1
	}
	return 0
}

func matchSet(set map[string]bool, domain string) bool {
	if set[domain] {
		return true
	}
	// Subdomain match: shop.ardbeg.com counts as ardbeg.com.
	for known := range set {
		if strings.HasSuffix(domain, "."+known) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = true
	}
	return set
}

func coalesce(override, fallback []string) []string {
	if len(override) > 0 {
		return override
	}
	return fallback
}
