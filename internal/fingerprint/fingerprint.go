// Package fingerprint computes stable product identity hashes and the
// fuzzy name matching used for deduplication.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// JaccardThreshold is the similarity above which two names are treated
// as the same product.
const JaccardThreshold = 0.85

var (
	yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	wsRe   = regexp.MustCompile(`\s+`)

	// Strips diacritics so "Graham's Quinta dos Malvedos" and its
	// ASCII-folded retail listings hash identically.
	foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Compute returns the content-addressed fingerprint of a product's
// identity-significant attributes: lowercased name plus ABV, age and
// volume, joined and hashed with SHA-256 (64 hex chars).
func Compute(name string, abv *float64, age *int, volumeML *int) string {
	parts := []string{strings.ToLower(strings.TrimSpace(name))}
	if abv != nil {
		parts = append(parts, fmt.Sprintf("%.1f", *abv))
	} else {
		parts = append(parts, "")
	}
	if age != nil {
		parts = append(parts, fmt.Sprintf("%d", *age))
	} else {
		parts = append(parts, "")
	}
	if volumeML != nil {
		parts = append(parts, fmt.Sprintf("%d", *volumeML))
	} else {
		parts = append(parts, "")
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// NormalizeName lowercases, folds diacritics, strips years and
// collapses whitespace.
func NormalizeName(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	s := strings.ToLower(folded)
	s = strings.NewReplacer("'", "", "’", "").Replace(s)
	s = yearRe.ReplaceAllString(s, " ")
	s = wsRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Jaccard returns the token-set Jaccard similarity of two normalized
// names in [0, 1].
func Jaccard(a, b string) float64 {
	ta := tokenSet(NormalizeName(a))
	tb := tokenSet(NormalizeName(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersection := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// SameProduct reports whether two names clear the dedup threshold.
func SameProduct(a, b string) bool {
	return Jaccard(a, b) >= JaccardThreshold
}

// CandidatePrefix returns the prefix used to narrow dedup candidate
// lookups: the first 30 characters of the query name.
func CandidatePrefix(name string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > 30 {
		return string(runes[:30])
	}
	return name
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		tok = strings.Trim(tok, ".,;:!?'\"()[]")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}
