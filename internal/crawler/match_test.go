package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ardbeg Uigeadail Single Malt Scotch Whisky", "ardbeg uigeadail"},
		{"Graham's 20 Year Old Tawny Port", "graham s 20"},
		{"Lagavulin 16 yrs", "lagavulin 16"},
		{"  Macallan   Sherry Oak  ", "macallan sherry oak"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeName(tt.in), tt.in)
	}
}

func TestNameMatchScore(t *testing.T) {
	t.Run("identical after normalization", func(t *testing.T) {
		s := NameMatchScore("Ardbeg Uigeadail Scotch Whisky", "Ardbeg Uigeadail")
		assert.Equal(t, 1.0, s)
	})

	t.Run("partial overlap", func(t *testing.T) {
		s := NameMatchScore("Ardbeg Uigeadail", "Ardbeg Corryvreckan")
		assert.Greater(t, s, 0.0)
		assert.Less(t, s, 0.6)
	})

	t.Run("no overlap", func(t *testing.T) {
		assert.Equal(t, 0.0, NameMatchScore("Ardbeg Uigeadail", "Fonseca Bin 27"))
	})

	t.Run("empty extracted name", func(t *testing.T) {
		assert.Equal(t, 0.0, NameMatchScore("Ardbeg Uigeadail", ""))
	})

	t.Run("token order matters", func(t *testing.T) {
		full := NameMatchScore("Glenfiddich 12 Solera", "Glenfiddich 12 Solera")
		scrambled := NameMatchScore("Glenfiddich 12 Solera", "Solera Glenfiddich 12")
		assert.Greater(t, full, scrambled)
	})
}

func TestLongestCommonSubsequence(t *testing.T) {
	a := []string{"ardbeg", "uigeadail", "islay"}
	b := []string{"ardbeg", "islay"}
	assert.Equal(t, 2, longestCommonSubsequence(a, b))
	assert.Equal(t, 0, longestCommonSubsequence(a, []string{"fonseca"}))
}
