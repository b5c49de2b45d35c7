package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FlattensTastingNotes(t *testing.T) {
	out := Normalize(map[string]any{
		"name": "Glenfiddich 12",
		"tasting_notes": map[string]any{
			"nose":           "pear and oak",
			"nose_aromas":    []any{"pear", "vanilla"},
			"palate":         "sweet fruit",
			"palate_flavors": []any{"apple"},
			"finish":         "long and mellow",
		},
	})

	assert.Equal(t, "pear and oak", out["nose_description"])
	assert.Equal(t, []any{"pear", "vanilla"}, out["primary_aromas"])
	assert.Equal(t, "sweet fruit", out["palate_description"])
	assert.Equal(t, []any{"apple"}, out["palate_flavors"])
	assert.Equal(t, "long and mellow", out["finish_description"])
	_, kept := out["tasting_notes"]
	assert.False(t, kept, "consumed nested block should be removed")
}

func TestNormalize_FirstWriterWins(t *testing.T) {
	out := Normalize(map[string]any{
		"nose_description": "already set",
		"tasting_notes": map[string]any{
			"nose":    "from nested",
			"overall": "from overall",
		},
	})
	assert.Equal(t, "already set", out["nose_description"])
}

func TestNormalize_ProductionAndAppearance(t *testing.T) {
	out := Normalize(map[string]any{
		"production": map[string]any{
			"distillery":     "Ardbeg",
			"peat_ppm":       float64(55),
			"cask_strength":  true,
			"primary_cask":   "ex-bourbon",
			"finishing_cask": "oloroso",
		},
		"appearance": map[string]any{
			"color_description": "deep amber",
			"clarity":           "bright",
		},
		"ratings": map[string]any{
			"complexity": float64(8),
			"balance":    float64(7),
		},
	})
	assert.Equal(t, "Ardbeg", out["distillery"])
	assert.Equal(t, float64(55), out["peat_ppm"])
	assert.Equal(t, true, out["cask_strength"])
	assert.Equal(t, "ex-bourbon", out["primary_cask"])
	assert.Equal(t, "deep amber", out["color_description"])
	assert.Equal(t, float64(8), out["complexity"])
}

func TestNormalize_LegacyEnrichment(t *testing.T) {
	out := Normalize(map[string]any{
		"enrichment": map[string]any{
			"tasting_notes": map[string]any{
				"nose":   "citrus",
				"palate": "honey and spice",
				"finish": "short",
			},
			"flavor_profile":     []any{"honey", "spice"},
			"food_pairings":      []any{"cheese", "dark chocolate"},
			"serving_suggestion": "neat",
		},
	})
	assert.Equal(t, "citrus", out["nose_description"])
	assert.Equal(t, "honey and spice", out["palate_description"])
	assert.Equal(t, "honey and spice", out["initial_taste"])
	assert.Equal(t, "short", out["finish_description"])
	assert.Equal(t, []any{"honey", "spice"}, out["palate_flavors"])
	assert.Equal(t, "cheese, dark chocolate", out["food_pairings"])
	assert.Equal(t, "neat", out["serving_suggestion"])
}

func TestNormalize_LegacyPalateDoesNotOverwrite(t *testing.T) {
	out := Normalize(map[string]any{
		"initial_taste": "existing",
		"enrichment": map[string]any{
			"tasting_notes": map[string]any{"palate": "legacy"},
		},
	})
	assert.Equal(t, "existing", out["initial_taste"])
	assert.Equal(t, "legacy", out["palate_description"])
}

func TestNormalize_ScalarFolding(t *testing.T) {
	out := Normalize(map[string]any{
		"images":    []any{"https://a/1.jpg"},
		"image_url": "https://a/2.jpg",
		"rating":    float64(9),
	})
	assert.Equal(t, []any{"https://a/1.jpg", "https://a/2.jpg"}, out["images"])
	assert.Equal(t, []any{float64(9)}, out["ratings"])

	// Duplicate scalar is not appended twice.
	out = Normalize(map[string]any{
		"images":    []any{"https://a/1.jpg"},
		"image_url": "https://a/1.jpg",
	})
	assert.Equal(t, []any{"https://a/1.jpg"}, out["images"])
}

func TestNormalize_Coercions(t *testing.T) {
	out := Normalize(map[string]any{
		"abv":           "46.5% ABV",
		"age_statement": "12 Year Old",
		"volume_ml":     "70cl",
		"price":         "$1,250.50",
	})
	assert.Equal(t, 46.5, out["abv"])
	assert.Equal(t, 12, out["age_statement"])
	assert.Equal(t, 70, out["volume_ml"])
	assert.Equal(t, 1250.50, out["price"])
}

func TestNormalize_LiterVolume(t *testing.T) {
	out := Normalize(map[string]any{"volume_ml": "1.5 L"})
	assert.Equal(t, 1500, out["volume_ml"])

	out = Normalize(map[string]any{"volume_ml": "750ml"})
	assert.Equal(t, 750, out["volume_ml"])
}

func TestNormalize_UnparseableBecomesAbsent(t *testing.T) {
	out := Normalize(map[string]any{
		"abv":   "unknown",
		"price": "call for price",
		"name":  "Test",
	})
	_, hasABV := out["abv"]
	_, hasPrice := out["price"]
	assert.False(t, hasABV)
	assert.False(t, hasPrice)
	assert.Equal(t, "Test", out["name"])
}

func TestNormalize_Idempotent(t *testing.T) {
	in := map[string]any{
		"name":          "Taylor's 20 Year Old Tawny",
		"abv":           "20%",
		"age_statement": "20 years",
		"tasting_notes": map[string]any{
			"nose":        "raisin",
			"flavor_tags": []any{"fig", "walnut"},
		},
		"food_pairings": []any{"stilton"},
		"image_url":     "https://img/1.jpg",
	}

	once := Normalize(in)
	twice := Normalize(once)
	require.Equal(t, once, twice)
}

func TestNormalize_PassesUnknownKeys(t *testing.T) {
	out := Normalize(map[string]any{"bottling_series": "Committee Release"})
	assert.Equal(t, "Committee Release", out["bottling_series"])
}
