package crawler

import (
	"regexp"
	"strings"
)

// MaxExtractorBytes is the largest payload handed to the extraction
// service per page.
const MaxExtractorBytes = 90 * 1024

var (
	scriptRe  = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	titleRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// TrimContent reduces raw HTML to fit the extractor payload cap. Pages
// already under the cap pass through untouched; oversized pages lose
// scripts, styles, and comments first, then get hard-truncated.
func TrimContent(html string) string {
	if len(html) <= MaxExtractorBytes {
		return html
	}
	html = scriptRe.ReplaceAllString(html, "")
	html = styleRe.ReplaceAllString(html, "")
	html = commentRe.ReplaceAllString(html, "")
	if len(html) > MaxExtractorBytes {
		html = html[:MaxExtractorBytes]
	}
	return html
}

// pageTitle pulls the <title> text, falling back to the last URL path
// segment.
func pageTitle(html, url string) string {
	if m := titleRe.FindStringSubmatch(html); m != nil {
		if t := strings.TrimSpace(spaceRe.ReplaceAllString(m[1], " ")); t != "" {
			return t
		}
	}
	trimmed := strings.TrimRight(url, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && trimmed[i+1:] != "" {
		return trimmed[i+1:]
	}
	return url
}
