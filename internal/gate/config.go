package gate

import (
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/spirits-cli/internal/model"
)

// OrGroupException waives OR-groups when a trigger field carries one of
// the trigger values. Matching is case-insensitive.
type OrGroupException struct {
	Field  string   `yaml:"field" json:"field"`
	Values []string `yaml:"values" json:"values"`
	Waives []string `yaml:"waives" json:"waives"`
}

// Triggered reports whether the exception applies to the field map.
func (e OrGroupException) Triggered(data map[string]any) bool {
	v, ok := data[e.Field].(string)
	if !ok {
		return false
	}
	v = strings.ToLower(strings.TrimSpace(v))
	for _, candidate := range e.Values {
		if v == strings.ToLower(candidate) {
			return true
		}
	}
	return false
}

// TypeConfig carries the per-product-type quality gate requirements.
// Mutable only via admin; cached per process.
type TypeConfig struct {
	SkeletonRequired     []string           `yaml:"skeleton_required_fields" json:"skeleton_required_fields"`
	PartialRequired      []string           `yaml:"partial_required_fields" json:"partial_required_fields"`
	BaselineRequired     []string           `yaml:"baseline_required_fields" json:"baseline_required_fields"`
	BaselineOrGroups     [][]string         `yaml:"baseline_or_fields" json:"baseline_or_fields"`
	BaselineOrExceptions []OrGroupException `yaml:"baseline_or_field_exceptions" json:"baseline_or_field_exceptions"`
	EnrichedRequired     []string           `yaml:"enriched_required_fields" json:"enriched_required_fields"`
	EnrichedOrGroups     [][]string         `yaml:"enriched_or_fields" json:"enriched_or_fields"`
}

// Category labels whose products are exempt from the primary_cask and
// region requirements.
var blendedCategories = []string{
	"blended scotch whisky",
	"blended scotch",
	"blended whisky",
	"blended whiskey",
	"blended malt",
	"blended malt scotch whisky",
	"blended grain whisky",
	"canadian whisky",
	"canadian whiskey",
}

var blendedExemptFields = []string{"primary_cask", "region"}

// DefaultConfig returns the built-in gate requirements for a product
// type, used when no admin-managed configuration exists.
func DefaultConfig(pt model.ProductType) *TypeConfig {
	cfg := &TypeConfig{
		SkeletonRequired: []string{"name"},
		PartialRequired:  []string{"name", "brand", "abv", "region", "country", "category"},
		BaselineRequired: []string{
			"name", "brand", "abv", "region", "country", "category",
			"volume_ml", "description", "primary_aromas", "finish_flavors",
			"age_statement", "primary_cask", "palate_flavors",
		},
		EnrichedRequired: []string{"mouthfeel"},
		EnrichedOrGroups: [][]string{
			{"complexity", "overall_complexity"},
			{"finishing_cask", "maturation_notes"},
		},
	}
	if pt == model.ProductTypePortWine {
		cfg.BaselineRequired = []string{
			"name", "brand", "abv", "volume_ml", "description",
			"producer_house", "primary_aromas", "finish_flavors", "palate_flavors",
		}
		cfg.BaselineOrGroups = [][]string{{"indication_age", "harvest_year"}}
		cfg.BaselineOrExceptions = []OrGroupException{
			{Field: "style", Values: []string{"ruby", "reserve_ruby"}, Waives: []string{"indication_age", "harvest_year"}},
		}
	}
	return cfg
}

var (
	configMu     sync.RWMutex
	configCache  = make(map[model.ProductType]*TypeConfig)
	configLoader = DefaultConfig
)

// ConfigFor returns the gate config for a product type from the
// process-scoped cache.
func ConfigFor(pt model.ProductType) *TypeConfig {
	configMu.RLock()
	cfg, ok := configCache[pt]
	configMu.RUnlock()
	if ok {
		return cfg
	}

	configMu.Lock()
	defer configMu.Unlock()
	if cfg, ok := configCache[pt]; ok {
		return cfg
	}
	cfg = configLoader(pt)
	configCache[pt] = cfg
	return cfg
}

// SetLoader replaces the config loader and clears the cache.
func SetLoader(fn func(model.ProductType) *TypeConfig) {
	configMu.Lock()
	defer configMu.Unlock()
	configLoader = fn
	configCache = make(map[model.ProductType]*TypeConfig)
}

// ResetCache clears cached configs; the next ConfigFor reloads.
func ResetCache() {
	configMu.Lock()
	defer configMu.Unlock()
	configCache = make(map[model.ProductType]*TypeConfig)
}

// LoadConfigFile reads per-type gate configs from a YAML file keyed by
// product type and installs them as the loader, falling back to the
// defaults for types the file omits.
func LoadConfigFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "gate: read config %s", path)
	}
	var byType map[model.ProductType]*TypeConfig
	if err := yaml.Unmarshal(raw, &byType); err != nil {
		return eris.Wrapf(err, "gate: parse config %s", path)
	}
	SetLoader(func(pt model.ProductType) *TypeConfig {
		if cfg, ok := byType[pt]; ok && cfg != nil {
			return cfg
		}
		return DefaultConfig(pt)
	})
	return nil
}
