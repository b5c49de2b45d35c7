// Package ecp computes the Enrichment Completion Percentage: per
// field-group populated/total ratios and the weighted overall score
// that drives quality-gate classification and enrichment ordering.
package ecp

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/spirits-cli/internal/model"
)

// FieldGroup is a named, ordered set of product fields.
type FieldGroup struct {
	Key       string   `json:"key" yaml:"key"`
	Fields    []string `json:"fields" yaml:"fields"`
	IsActive  bool     `json:"is_active" yaml:"is_active"`
	SortOrder int      `json:"sort_order" yaml:"sort_order"`
}

// GroupResult holds one group's completion counts.
type GroupResult struct {
	Populated  int      `json:"populated"`
	Total      int      `json:"total"`
	Percentage float64  `json:"percentage"`
	Missing    []string `json:"missing"`
}

// Report is the combined ECP structure persisted on the product.
type Report struct {
	Groups      map[string]GroupResult `json:"groups"`
	Total       GroupResult            `json:"total"`
	LastUpdated string                 `json:"last_updated"`
}

// Populated reports whether a value counts toward completion: not nil,
// not an all-whitespace string, not an empty list or map.
func Populated(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	return true
}

// CalculateByGroup computes per-group completion for the field map.
// Inactive groups are omitted. Percentages round to 2 decimals.
func CalculateByGroup(data map[string]any, groups []FieldGroup) map[string]GroupResult {
	out := make(map[string]GroupResult, len(groups))
	for _, g := range groups {
		if !g.IsActive {
			continue
		}
		r := GroupResult{Total: len(g.Fields), Missing: []string{}}
		for _, f := range g.Fields {
			if Populated(data[f]) {
				r.Populated++
			} else {
				r.Missing = append(r.Missing, f)
			}
		}
		if r.Total > 0 {
			r.Percentage = round2(float64(r.Populated) / float64(r.Total) * 100)
		}
		out[g.Key] = r
	}
	return out
}

// CalculateTotal returns the weighted overall percentage: the sum of
// populated over the sum of totals across all groups.
func CalculateTotal(perGroup map[string]GroupResult) float64 {
	var populated, total int
	for _, r := range perGroup {
		populated += r.Populated
		total += r.Total
	}
	if total == 0 {
		return 0
	}
	return round2(float64(populated) / float64(total) * 100)
}

// BuildReport combines per-group and total results with a UTC
// timestamp for persistence on the product row.
func BuildReport(data map[string]any, groups []FieldGroup) Report {
	perGroup := CalculateByGroup(data, groups)
	var populated, total int
	missing := []string{}
	for _, r := range perGroup {
		populated += r.Populated
		total += r.Total
		missing = append(missing, r.Missing...)
	}
	totalResult := GroupResult{Populated: populated, Total: total, Missing: missing}
	if total > 0 {
		totalResult.Percentage = round2(float64(populated) / float64(total) * 100)
	}
	return Report{
		Groups:      perGroup,
		Total:       totalResult,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// DefaultGroups returns the built-in field groups for a product type,
// used when no admin-managed configuration exists.
func DefaultGroups(pt model.ProductType) []FieldGroup {
	common := []FieldGroup{
		{Key: "identity", Fields: []string{"name", "brand", "category", "abv", "volume_ml"}, IsActive: true, SortOrder: 1},
		{Key: "origin", Fields: []string{"country", "region", "distillery"}, IsActive: true, SortOrder: 2},
		{Key: "description", Fields: []string{"description", "nose_description", "palate_description", "finish_description"}, IsActive: true, SortOrder: 3},
		{Key: "flavor", Fields: []string{"primary_aromas", "palate_flavors", "finish_flavors", "mouthfeel", "finish_length"}, IsActive: true, SortOrder: 4},
		{Key: "scores", Fields: []string{"complexity", "balance", "overall_complexity", "drinkability"}, IsActive: true, SortOrder: 5},
	}
	switch pt {
	case model.ProductTypeWhiskey:
		return append(common, FieldGroup{
			Key:       "production",
			Fields:    []string{"age_statement", "primary_cask", "finishing_cask", "peat_ppm", "cask_strength", "maturation_notes"},
			IsActive:  true,
			SortOrder: 6,
		})
	case model.ProductTypePortWine:
		return append(common, FieldGroup{
			Key:       "production",
			Fields:    []string{"style", "indication_age", "harvest_year", "producer_house", "grape_varieties"},
			IsActive:  true,
			SortOrder: 6,
		})
	}
	return common
}
