package ecp

import (
	"sync"

	"github.com/sells-group/spirits-cli/internal/model"
)

// Process-scoped cache of field groups keyed by product type. Loaded
// once per process; admin changes require ResetCache.
var (
	cacheMu sync.RWMutex
	cache   = make(map[model.ProductType][]FieldGroup)
	loader  = DefaultGroups
)

// GroupsFor returns the field groups for a product type, loading and
// caching them on first use.
func GroupsFor(pt model.ProductType) []FieldGroup {
	cacheMu.RLock()
	groups, ok := cache[pt]
	cacheMu.RUnlock()
	if ok {
		return groups
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if groups, ok := cache[pt]; ok {
		return groups
	}
	groups = loader(pt)
	cache[pt] = groups
	return groups
}

// SetLoader replaces the group loader (admin-managed configuration)
// and clears the cache.
func SetLoader(fn func(model.ProductType) []FieldGroup) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	loader = fn
	cache = make(map[model.ProductType][]FieldGroup)
}

// ResetCache clears cached groups; the next GroupsFor reloads.
func ResetCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = make(map[model.ProductType][]FieldGroup)
}
