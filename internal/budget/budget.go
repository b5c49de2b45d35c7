// Package budget tracks per-product and per-session spend on external
// calls (searches, URL fetches, elapsed time) so orchestrators can
// fall back to partial saves instead of overrunning paid APIs.
package budget

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Limits are the tunable ceilings for one enrichment session.
type Limits struct {
	MaxURLsPerProduct     int           `yaml:"max_urls_per_product" mapstructure:"max_urls_per_product"`
	MaxSearchesPerProduct int           `yaml:"max_searches_per_product" mapstructure:"max_searches_per_product"`
	MaxEnrichmentTime     time.Duration `yaml:"max_enrichment_time" mapstructure:"max_enrichment_time"`
	MaxSessionSearches    int           `yaml:"max_session_searches" mapstructure:"max_session_searches"`
	MaxSessionSources     int           `yaml:"max_session_sources" mapstructure:"max_session_sources"`
	MaxSessionTime        time.Duration `yaml:"max_session_time" mapstructure:"max_session_time"`
}

// DefaultLimits returns the discovery session defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxURLsPerProduct:     5,
		MaxSearchesPerProduct: 3,
		MaxEnrichmentTime:     120 * time.Second,
		MaxSessionSearches:    6,
		MaxSessionSources:     8,
		MaxSessionTime:        180 * time.Second,
	}
}

type usage struct {
	urls     int
	searches int
	started  time.Time
}

// Tracker holds in-memory counters for one discovery or enrichment
// session. Product keys are normalized names; counters reset per key.
type Tracker struct {
	mu           sync.Mutex
	limits       Limits
	perKey       map[string]*usage
	sessStart    time.Time
	sessURLs     int
	sessSearches int
	blacklist    map[string]bool
	now          func() time.Time
}

// NewTracker creates a tracker with the given limits.
func NewTracker(limits Limits) *Tracker {
	t := &Tracker{
		limits:    limits,
		perKey:    make(map[string]*usage),
		blacklist: make(map[string]bool),
		now:       time.Now,
	}
	t.sessStart = t.now()
	return t
}

// WithNow sets a fixed clock for testing.
func (t *Tracker) WithNow(fn func() time.Time) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = fn
	t.sessStart = fn()
	return t
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (t *Tracker) usageFor(key string) *usage {
	key = normalizeKey(key)
	u, ok := t.perKey[key]
	if !ok {
		u = &usage{started: t.now()}
		t.perKey[key] = u
	}
	return u
}

// CanContinue reports whether another external call is allowed for the
// product key, with a human-readable reason on refusal.
func (t *Tracker) CanContinue(key string) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.limits.MaxSessionTime > 0 && now.Sub(t.sessStart) >= t.limits.MaxSessionTime {
		return false, "session time budget exceeded"
	}
	if t.limits.MaxSessionSearches > 0 && t.sessSearches >= t.limits.MaxSessionSearches {
		return false, "session search budget exceeded"
	}
	if t.limits.MaxSessionSources > 0 && t.sessURLs >= t.limits.MaxSessionSources {
		return false, "session source budget exceeded"
	}

	u := t.usageFor(key)
	if t.limits.MaxEnrichmentTime > 0 && now.Sub(u.started) >= t.limits.MaxEnrichmentTime {
		return false, fmt.Sprintf("enrichment time budget exceeded for %q", normalizeKey(key))
	}
	if t.limits.MaxURLsPerProduct > 0 && u.urls >= t.limits.MaxURLsPerProduct {
		return false, fmt.Sprintf("url budget exceeded for %q", normalizeKey(key))
	}
	if t.limits.MaxSearchesPerProduct > 0 && u.searches >= t.limits.MaxSearchesPerProduct {
		return false, fmt.Sprintf("search budget exceeded for %q", normalizeKey(key))
	}
	return true, ""
}

// RecordSearch counts one search call against the product and session.
func (t *Tracker) RecordSearch(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usageFor(key).searches++
	t.sessSearches++
}

// RecordURL counts one URL fetch against the product and session.
func (t *Tracker) RecordURL(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usageFor(key).urls++
	t.sessURLs++
}

// RefundSearch undoes one search increment after a members-only or
// blocked page made the search worthless.
func (t *Tracker) RefundSearch(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.usageFor(key)
	if u.searches > 0 {
		u.searches--
	}
	if t.sessSearches > 0 {
		t.sessSearches--
	}
}

// Reset clears the counters for one product key.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.perKey, normalizeKey(key))
}

// Blacklist records a blocked site for the rest of the session.
func (t *Tracker) Blacklist(domain string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blacklist[strings.ToLower(domain)] = true
}

// Blacklisted reports whether a domain was blocked this session.
func (t *Tracker) Blacklisted(domain string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blacklist[strings.ToLower(domain)]
}

// Searches returns the current search count for a product key.
func (t *Tracker) Searches(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usageFor(key).searches
}

// URLs returns the current fetch count for a product key.
func (t *Tracker) URLs(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usageFor(key).urls
}
