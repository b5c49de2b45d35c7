package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimContent_UnderCapPassesThrough(t *testing.T) {
	html := "<html><script>var x;</script><body>hi</body></html>"
	assert.Equal(t, html, TrimContent(html))
}

func TestTrimContent_StripsScriptsWhenOversized(t *testing.T) {
	filler := strings.Repeat("a", MaxExtractorBytes)
	html := "<body>keep</body><script>" + filler + "</script><style>.x{}</style><!-- note -->"

	out := TrimContent(html)
	assert.LessOrEqual(t, len(out), MaxExtractorBytes)
	assert.Contains(t, out, "keep")
	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, "<style>")
	assert.NotContains(t, out, "<!-- note -->")
}

func TestTrimContent_HardTruncates(t *testing.T) {
	html := strings.Repeat("b", MaxExtractorBytes*2)
	assert.Len(t, TrimContent(html), MaxExtractorBytes)
}

func TestPageTitle(t *testing.T) {
	t.Run("from title tag", func(t *testing.T) {
		html := `<html><head><title> Ardbeg Uigeadail |  Ardbeg </title></head></html>`
		assert.Equal(t, "Ardbeg Uigeadail | Ardbeg", pageTitle(html, "https://ardbeg.com/x"))
	})

	t.Run("falls back to url path", func(t *testing.T) {
		assert.Equal(t, "uigeadail", pageTitle("<html></html>", "https://ardbeg.com/whisky/uigeadail/"))
	})
}
