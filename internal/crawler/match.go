package crawler

import (
	"regexp"
	"strings"
)

// Suffix words that carry no identity when comparing product names.
var nameSuffixRe = regexp.MustCompile(`\b(whiskey|whisky|bourbon|scotch|single malt|port|tawny|year|years|yr|yrs|old)\b`)

var punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

var spaceRe = regexp.MustCompile(`\s+`)

// normalizeName lowercases, strips common spirit suffixes and
// punctuation, and collapses whitespace.
func normalizeName(name string) string {
	s := strings.ToLower(name)
	s = nameSuffixRe.ReplaceAllString(s, " ")
	s = punctRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NameMatchScore scores two product names in [0, 1] by token-sequence
// similarity over normalized names.
func NameMatchScore(expected, extracted string) float64 {
	a := strings.Fields(normalizeName(expected))
	b := strings.Fields(normalizeName(extracted))
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	lcs := longestCommonSubsequence(a, b)
	return float64(2*lcs) / float64(len(a)+len(b))
}

func longestCommonSubsequence(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
