package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptrF(f float64) *float64 { return &f }
func ptrI(n int) *int         { return &n }

func TestCompute_StableAcrossEquivalentInputs(t *testing.T) {
	a := Compute("Glenfiddich 12 Year Old", ptrF(40), ptrI(12), ptrI(700))
	b := Compute("glenfiddich 12 year old", ptrF(40), ptrI(12), ptrI(700))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestCompute_DistinguishesAttributes(t *testing.T) {
	a := Compute("Glenfiddich 12 Year Old", ptrF(40), ptrI(12), ptrI(700))
	b := Compute("Glenfiddich 12 Year Old", ptrF(43), ptrI(12), ptrI(700))
	c := Compute("Glenfiddich 12 Year Old", nil, nil, nil)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNormalizeName_StripsYearsAndWhitespace(t *testing.T) {
	assert.Equal(t, "macallan sherry oak", NormalizeName("  Macallan   Sherry Oak 2019 "))
}

func TestNormalizeName_FoldsDiacritics(t *testing.T) {
	assert.Equal(t, "quinta do noval nacional", NormalizeName("Quinta do Noval Nacional"))
	assert.Equal(t, "chateau reserve", NormalizeName("Château Réserve"))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard("Glenfiddich 12 Year Old", "glenfiddich 12 year old"), 0.001)
	assert.Greater(t, Jaccard("Glenfiddich 12 Year Old", "Glenfiddich 12 Year Old Single Malt"), 0.5)
	assert.Less(t, Jaccard("Glenfiddich 12", "Lagavulin 16"), 0.3)
	assert.Equal(t, 0.0, Jaccard("", "anything"))
}

func TestSameProduct_Threshold(t *testing.T) {
	assert.True(t, SameProduct("Taylor's 20 Year Old Tawny Port", "Taylors 20 Year Old Tawny Port 2020"))
	assert.False(t, SameProduct("Taylor's 20 Year Old Tawny", "Graham's 20 Year Old Tawny"))
}

func TestCandidatePrefix(t *testing.T) {
	assert.Equal(t, "short name", CandidatePrefix("short name"))
	long := "a very long product name that exceeds thirty characters easily"
	assert.Len(t, []rune(CandidatePrefix(long)), 30)
}
