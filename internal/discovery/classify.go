package discovery

import (
	"regexp"
	"strings"

	"github.com/sells-group/spirits-cli/internal/domains"
)

// URLClass is the routing decision for one search result.
type URLClass string

const (
	ClassSkip        URLClass = "skip"
	ClassCompetition URLClass = "competition"
	ClassList        URLClass = "list"
	ClassProduct     URLClass = "product"
)

var competitionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/results/20\d\d`),
	regexp.MustCompile(`(?i)/medal-winners`),
	regexp.MustCompile(`(?i)\b(iwsc|sfwsc|wwa)\b`),
	regexp.MustCompile(`(?i)world.*spirits.*competition`),
	regexp.MustCompile(`(?i)spirits.*award.*\d{4}`),
	regexp.MustCompile(`(?i)competition.*results`),
}

var listPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)best-`),
	regexp.MustCompile(`(?i)top-\d+`),
	regexp.MustCompile(`(?i)\d+-best`),
	regexp.MustCompile(`(?i)best.*\d{4}`),
	regexp.MustCompile(`(?i)our picks`),
	regexp.MustCompile(`(?i)gift guide`),
	regexp.MustCompile(`(?i)ranking`),
	regexp.MustCompile(`(?i)award`),
	regexp.MustCompile(`(?i)\bwinners?\b`),
	regexp.MustCompile(`(?i)\bresults?\b`),
	regexp.MustCompile(`(?i)review.*\d{4}`),
	regexp.MustCompile(`(?i)guide to`),
	regexp.MustCompile(`(?i)roundup`),
}

// A URL matching a product-page path is a product even when list
// patterns also match.
var productPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/product/`),
	regexp.MustCompile(`(?i)/p/\d+`),
	regexp.MustCompile(`(?i)/shop/`),
	regexp.MustCompile(`(?i)/buy/`),
}

// Classify routes a search result. Precedence: skip, competition,
// product-path tie-break, list, product.
func Classify(reg *domains.Registry, url, title string) URLClass {
	if reg.Skip(url) {
		return ClassSkip
	}
	haystack := url + " " + title
	if reg.Competition(url) || matchAny(competitionPatterns, haystack) {
		return ClassCompetition
	}
	if matchAny(productPatterns, url) {
		return ClassProduct
	}
	if matchAny(listPatterns, haystack) {
		return ClassList
	}
	return ClassProduct
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	s = strings.ToLower(s)
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
