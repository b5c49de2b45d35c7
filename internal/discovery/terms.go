package discovery

import (
	"sort"
	"strings"
	"time"

	"github.com/sells-group/spirits-cli/internal/model"
)

// MaxTermsPerRun caps how many terms one discovery run works through.
const MaxTermsPerRun = 20

var whiskeyTokens = []string{"whisky", "whiskey", "scotch", "bourbon", "rye"}
var portTokens = []string{"port", "wine"}

// InferProductType guesses a term's product type from its tokens.
// Generic spirits terms coerce to whiskey at write time.
func InferProductType(term string) model.ProductType {
	lower := strings.ToLower(term)
	for _, tok := range whiskeyTokens {
		if strings.Contains(lower, tok) {
			return model.ProductTypeWhiskey
		}
	}
	for _, tok := range portTokens {
		if strings.Contains(lower, tok) {
			return model.ProductTypePortWine
		}
	}
	return model.ProductTypeWhiskey
}

// WrapTerms turns plain search strings into structured terms with an
// inferred product type.
func WrapTerms(terms []string) []model.ScheduleTerm {
	out := make([]model.ScheduleTerm, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, model.ScheduleTerm{Term: t, ProductType: InferProductType(t)})
	}
	return out
}

// FilterTerms applies the schedule's category and product-type filters
// and the seasonal window, orders by priority descending, and caps the
// result.
func FilterTerms(terms []model.ScheduleTerm, category string, pt model.ProductType, now time.Time, limit int) []model.ScheduleTerm {
	if limit <= 0 {
		limit = MaxTermsPerRun
	}
	out := make([]model.ScheduleTerm, 0, len(terms))
	for _, t := range terms {
		if category != "" && t.Category != "" && t.Category != category {
			continue
		}
		if pt != "" && t.ProductType != "" && t.ProductType != pt {
			continue
		}
		if !t.InSeason(now) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
