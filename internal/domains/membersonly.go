package domains

import "strings"

// Content markers of auth-walled or members-only pages.
var membersOnlyMarkers = []string{
	"login required",
	"members only",
	"member login",
	"sign in to view",
	"sign in to continue",
	"subscribe to read",
	"subscription required",
	"create an account to",
	"access denied",
	"please verify you are a human",
}

// MembersOnly reports whether a fetched page is behind an auth wall:
// a 401/403 status, or content matching known gate markers.
func MembersOnly(statusCode int, content string) bool {
	if statusCode == 401 || statusCode == 403 {
		return true
	}
	lower := strings.ToLower(content)
	// Only inspect the head of the page; gates render up front.
	if len(lower) > 20000 {
		lower = lower[:20000]
	}
	for _, marker := range membersOnlyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
