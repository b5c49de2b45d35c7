package ecp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/spirits-cli/internal/model"
)

var testGroups = []FieldGroup{
	{Key: "identity", Fields: []string{"name", "brand", "abv"}, IsActive: true, SortOrder: 1},
	{Key: "tasting", Fields: []string{"nose_description", "palate_description"}, IsActive: true, SortOrder: 2},
	{Key: "legacy", Fields: []string{"old_field"}, IsActive: false, SortOrder: 3},
}

func TestPopulated(t *testing.T) {
	assert.False(t, Populated(nil))
	assert.False(t, Populated("   "))
	assert.False(t, Populated([]any{}))
	assert.False(t, Populated(map[string]any{}))
	assert.True(t, Populated("x"))
	assert.True(t, Populated(0.0))
	assert.True(t, Populated(false))
	assert.True(t, Populated([]any{"a"}))
}

func TestCalculateByGroup(t *testing.T) {
	data := map[string]any{
		"name":             "Glenfiddich 12",
		"brand":            "Glenfiddich",
		"abv":              40.0,
		"nose_description": "pear",
	}

	out := CalculateByGroup(data, testGroups)

	require.Len(t, out, 2, "inactive groups are omitted")
	assert.Equal(t, 3, out["identity"].Populated)
	assert.Equal(t, 3, out["identity"].Total)
	assert.Equal(t, 100.0, out["identity"].Percentage)
	assert.Empty(t, out["identity"].Missing)

	assert.Equal(t, 1, out["tasting"].Populated)
	assert.Equal(t, 50.0, out["tasting"].Percentage)
	assert.Equal(t, []string{"palate_description"}, out["tasting"].Missing)
}

func TestCalculateByGroup_EmptyGroupIsZero(t *testing.T) {
	out := CalculateByGroup(map[string]any{}, []FieldGroup{{Key: "empty", IsActive: true}})
	assert.Equal(t, 0.0, out["empty"].Percentage)
}

func TestCalculateTotal_Weighted(t *testing.T) {
	perGroup := map[string]GroupResult{
		"a": {Populated: 3, Total: 3},
		"b": {Populated: 1, Total: 2},
	}
	// 4/5 = 80%, not the mean of 100% and 50%.
	assert.Equal(t, 80.0, CalculateTotal(perGroup))
	assert.Equal(t, 0.0, CalculateTotal(map[string]GroupResult{}))
}

func TestCalculateTotal_Rounding(t *testing.T) {
	perGroup := map[string]GroupResult{"a": {Populated: 1, Total: 3}}
	assert.Equal(t, 33.33, CalculateTotal(perGroup))
}

func TestBuildReport_DeterministicCounts(t *testing.T) {
	data := map[string]any{"name": "x", "brand": "y"}

	r1 := BuildReport(data, testGroups)
	r2 := BuildReport(data, testGroups)

	assert.Equal(t, r1.Groups, r2.Groups)
	assert.Equal(t, r1.Total.Populated, r2.Total.Populated)
	assert.Equal(t, r1.Total.Total, r2.Total.Total)
	assert.NotEmpty(t, r1.LastUpdated)
}

func TestGroupsFor_CachesPerType(t *testing.T) {
	ResetCache()
	calls := 0
	SetLoader(func(pt model.ProductType) []FieldGroup {
		calls++
		return DefaultGroups(pt)
	})
	defer SetLoader(DefaultGroups)

	GroupsFor(model.ProductTypeWhiskey)
	GroupsFor(model.ProductTypeWhiskey)
	assert.Equal(t, 1, calls)

	GroupsFor(model.ProductTypePortWine)
	assert.Equal(t, 2, calls)

	ResetCache()
	GroupsFor(model.ProductTypeWhiskey)
	assert.Equal(t, 3, calls)
}

func TestDefaultGroups_TypeSpecificProduction(t *testing.T) {
	whiskey := DefaultGroups(model.ProductTypeWhiskey)
	port := DefaultGroups(model.ProductTypePortWine)

	var whiskeyProd, portProd []string
	for _, g := range whiskey {
		if g.Key == "production" {
			whiskeyProd = g.Fields
		}
	}
	for _, g := range port {
		if g.Key == "production" {
			portProd = g.Fields
		}
	}
	assert.Contains(t, whiskeyProd, "primary_cask")
	assert.Contains(t, portProd, "indication_age")
}
