// Package normalize flattens heterogeneous extractor payloads into the
// flat field map used by the product writer, ECP calculator and quality
// gate. It is a pure transform: it never errors, and unparseable
// numeric strings simply drop out of the map.
package normalize

import (
	"fmt"
	"strings"
)

// Nested blocks are flattened into top-level keys. A mapping value of
// "" keeps the source key name.
var tastingNotesMap = map[string]string{
	"nose":           "nose_description",
	"nose_aromas":    "primary_aromas",
	"palate":         "palate_description",
	"palate_flavors": "",
	"finish":         "finish_description",
	"finish_flavors": "",
	"flavor_tags":    "palate_flavors",
	"overall":        "nose_description",
}

var tastingEvolutionMap = map[string]string{
	"initial_taste":        "",
	"mid_palate_evolution": "",
	"aroma_evolution":      "",
	"finish_evolution":     "",
	"final_notes":          "",
}

var appearanceMap = map[string]string{
	"color_description": "",
	"color_intensity":   "",
	"clarity":           "",
	"viscosity":         "",
}

var ratingsMap = map[string]string{
	"flavor_intensity":   "",
	"complexity":         "",
	"warmth":             "",
	"dryness":            "",
	"balance":            "",
	"overall_complexity": "",
	"uniqueness":         "",
	"drinkability":       "",
}

var productionMap = map[string]string{
	"distillery":         "",
	"peat_ppm":           "",
	"peat_level":         "",
	"natural_color":      "",
	"non_chill_filtered": "",
	"cask_strength":      "",
	"single_cask":        "",
	"peated":             "",
	"primary_cask":       "",
	"finishing_cask":     "",
	"wood_type":          "",
	"cask_treatment":     "",
	"maturation_notes":   "",
}

// Normalize flattens a raw extractor payload into a flat field map.
// Keys already present at the top level are never overwritten by nested
// ones (first writer wins). Unknown keys pass through untouched.
func Normalize(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}

	flattenBlock(out, "tasting_notes", tastingNotesMap)
	flattenBlock(out, "tasting_evolution", tastingEvolutionMap)
	flattenBlock(out, "appearance", appearanceMap)
	flattenRatingsBlock(out)
	flattenBlock(out, "production", productionMap)
	flattenEnrichment(out)

	normalizeFoodPairings(out)
	foldScalars(out)
	coerceNumerics(out)

	return out
}

func flattenBlock(out map[string]any, key string, mapping map[string]string) {
	block, ok := out[key].(map[string]any)
	if !ok {
		return
	}
	applyMapping(out, block, mapping)
	delete(out, key)
}

// ratings may be a nested sub-score block or an evidence list; only the
// block form is flattened.
func flattenRatingsBlock(out map[string]any) {
	if block, ok := out["ratings"].(map[string]any); ok {
		applyMapping(out, block, ratingsMap)
		delete(out, "ratings")
	}
}

func applyMapping(out map[string]any, block map[string]any, mapping map[string]string) {
	for src, dst := range mapping {
		v, ok := block[src]
		if !ok || isEmpty(v) {
			continue
		}
		if dst == "" {
			dst = src
		}
		setIfAbsent(out, dst, v)
	}
}

// flattenEnrichment handles the legacy enrichment payload shape. The
// legacy palate note populates both palate_description and
// initial_taste when neither is set.
func flattenEnrichment(out map[string]any) {
	enrichment, ok := out["enrichment"].(map[string]any)
	if !ok {
		return
	}
	if notes, ok := enrichment["tasting_notes"].(map[string]any); ok {
		if v, ok := notes["nose"]; ok && !isEmpty(v) {
			setIfAbsent(out, "nose_description", v)
		}
		if v, ok := notes["palate"]; ok && !isEmpty(v) {
			setIfAbsent(out, "palate_description", v)
			setIfAbsent(out, "initial_taste", v)
		}
		if v, ok := notes["finish"]; ok && !isEmpty(v) {
			setIfAbsent(out, "finish_description", v)
		}
	}
	if v, ok := enrichment["flavor_profile"]; ok && !isEmpty(v) {
		setIfAbsent(out, "palate_flavors", v)
	}
	if v, ok := enrichment["food_pairings"]; ok && !isEmpty(v) {
		setIfAbsent(out, "food_pairings", v)
	}
	if v, ok := enrichment["serving_suggestion"]; ok && !isEmpty(v) {
		setIfAbsent(out, "serving_suggestion", v)
	}
	delete(out, "enrichment")
}

// normalizeFoodPairings accepts a list or a string and always stores a
// comma-separated string.
func normalizeFoodPairings(out map[string]any) {
	v, ok := out["food_pairings"]
	if !ok {
		return
	}
	switch fp := v.(type) {
	case []any:
		parts := make([]string, 0, len(fp))
		for _, item := range fp {
			s := strings.TrimSpace(fmt.Sprintf("%v", item))
			if s != "" {
				parts = append(parts, s)
			}
		}
		out["food_pairings"] = strings.Join(parts, ", ")
	case []string:
		out["food_pairings"] = strings.Join(fp, ", ")
	}
}

// foldScalars folds single image_url / rating / score scalars into the
// list-valued images and ratings fields, preserving existing entries
// and deduplicating by value equality.
func foldScalars(out map[string]any) {
	if v, ok := out["image_url"]; ok && !isEmpty(v) {
		out["images"] = appendUnique(asList(out["images"]), v)
		delete(out, "image_url")
	}
	for _, key := range []string{"rating", "score"} {
		if v, ok := out[key]; ok && !isEmpty(v) {
			out["ratings"] = appendUnique(asList(out["ratings"]), v)
			delete(out, key)
		}
	}
}

func coerceNumerics(out map[string]any) {
	if v, ok := out["abv"]; ok {
		if f := CoerceABV(v); f != nil {
			out["abv"] = *f
		} else {
			delete(out, "abv")
		}
	}
	if v, ok := out["age_statement"]; ok {
		if n := CoerceAge(v); n != nil {
			out["age_statement"] = *n
		} else {
			delete(out, "age_statement")
		}
	}
	if v, ok := out["volume_ml"]; ok {
		if n := CoerceVolume(v); n != nil {
			out["volume_ml"] = *n
		} else {
			delete(out, "volume_ml")
		}
	}
	if v, ok := out["price"]; ok {
		if f := CoercePrice(v); f != nil {
			out["price"] = *f
		} else {
			delete(out, "price")
		}
	}
}

func setIfAbsent(out map[string]any, key string, v any) {
	if _, exists := out[key]; exists {
		return
	}
	out[key] = v
}

func asList(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case nil:
		return nil
	default:
		return []any{list}
	}
}

func appendUnique(list []any, v any) []any {
	for _, existing := range list {
		if fmt.Sprintf("%v", existing) == fmt.Sprintf("%v", v) {
			return list
		}
	}
	return append(list, v)
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}
