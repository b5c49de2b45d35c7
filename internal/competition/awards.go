package competition

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/spirits-cli/internal/discovery"
	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/pkg/extractor"
)

// ParsedAward is one medalled entry lifted from a results page.
type ParsedAward struct {
	Name        string            `json:"name"`
	Brand       string            `json:"brand,omitempty"`
	ProductType model.ProductType `json:"product_type"`
	Competition string            `json:"competition"`
	Year        int               `json:"year,omitempty"`
	Medal       string            `json:"medal,omitempty"`
	Category    string            `json:"category,omitempty"`
	Score       float64           `json:"score,omitempty"`
}

// Display names for the known competition parser keys.
var competitionNames = map[string]string{
	"iwsc":     "IWSC",
	"sfwsc":    "San Francisco World Spirits Competition",
	"wwa":      "World Whiskies Awards",
	"decanter": "Decanter World Wine Awards",
	"isc":      "International Spirits Challenge",
	"bti":      "Beverage Testing Institute",
	"iwc":      "International Wine Challenge",
}

// Medal labels in descending prestige order. Longer labels first so
// "double gold" does not match as "gold".
var medalLabels = []string{
	"best in show", "best in class", "gold outstanding", "double gold",
	"grand gold", "platinum", "master", "trophy", "gold", "silver", "bronze",
}

var (
	yearRe   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	pointsRe = regexp.MustCompile(`\b(\d{2,3}(?:\.\d+)?)\s*(?:points?|pts)\b`)
)

// parseEntry turns one extracted row into a ParsedAward, applying the
// per-type heuristics. Returns nil for rows with no usable name.
func parseEntry(entry *extractor.Extraction, competition string, defaultYear int) *ParsedAward {
	fields := entry.Fields
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		name, _ = fields["name"].(string)
		name = strings.TrimSpace(name)
	}
	if name == "" {
		return nil
	}

	pa := &ParsedAward{Name: name, Competition: competition, Year: defaultYear}
	if brand, _ := fields["brand"].(string); brand != "" {
		pa.Brand = strings.TrimSpace(brand)
	}
	if cat, _ := fields["category"].(string); cat != "" {
		pa.Category = strings.TrimSpace(cat)
	}
	if comp, _ := fields["competition"].(string); comp != "" {
		pa.Competition = strings.TrimSpace(comp)
	}

	if pt := model.ProductType(strings.ToLower(asString(fields["product_type"]))); pt.Valid() {
		pa.ProductType = pt
	} else {
		pa.ProductType = discovery.InferProductType(pa.Category + " " + name)
	}

	rawMedal := asString(fields["medal"])
	if rawMedal == "" {
		rawMedal = asString(fields["award"])
	}
	pa.Medal, pa.Score = normalizeMedal(rawMedal)
	if s := asFloat(fields["score"]); s > 0 {
		pa.Score = s
	}
	if y := asInt(fields["year"]); y > 0 {
		pa.Year = y
	} else if y := yearFrom(pa.Category); y > 0 {
		pa.Year = y
	}
	return pa
}

// normalizeMedal maps a raw medal cell to a canonical label. Wine-style
// point awards ("95 points") carry a score instead of a medal.
func normalizeMedal(raw string) (string, float64) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return "", 0
	}
	if m := pointsRe.FindStringSubmatch(lower); m != nil {
		score, _ := strconv.ParseFloat(m[1], 64)
		return "", score
	}
	for _, label := range medalLabels {
		if strings.Contains(lower, label) {
			return label, 0
		}
	}
	return lower, 0
}

// yearFrom pulls a four-digit year out of a URL, title, or category
// string. Competition pages almost always carry the year in the path.
func yearFrom(s string) int {
	m := yearRe.FindString(s)
	if m == "" {
		return 0
	}
	y, _ := strconv.Atoi(m)
	return y
}

// competitionName resolves the display name for a results page: the
// parser key's known name when the domain is registered, otherwise the
// bare domain.
func competitionName(parserKey, domain string) string {
	if name, ok := competitionNames[parserKey]; ok {
		return name
	}
	return domain
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	}
	return 0
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	}
	return 0
}
