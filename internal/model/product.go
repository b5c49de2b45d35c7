package model

import (
	"encoding/json"
	"time"
)

// ProductType is the closed set of product types the pipeline accepts.
type ProductType string

const (
	ProductTypeWhiskey  ProductType = "whiskey"
	ProductTypePortWine ProductType = "port_wine"
)

// Valid reports whether the type is in the MVP set. Neither "wine",
// "gin", "unknown" nor the empty string is accepted.
func (t ProductType) Valid() bool {
	return t == ProductTypeWhiskey || t == ProductTypePortWine
}

// ProductStatus is a rung on the quality ladder.
type ProductStatus string

const (
	StatusRejected ProductStatus = "rejected"
	StatusSkeleton ProductStatus = "skeleton"
	StatusPartial  ProductStatus = "partial"
	StatusBaseline ProductStatus = "baseline"
	StatusEnriched ProductStatus = "enriched"
	StatusComplete ProductStatus = "complete"
)

var statusRank = map[ProductStatus]int{
	StatusRejected: 0,
	StatusSkeleton: 1,
	StatusPartial:  2,
	StatusBaseline: 3,
	StatusEnriched: 4,
	StatusComplete: 5,
}

// Rank returns the status position on the ladder; unknown statuses rank
// below Rejected.
func (s ProductStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Less reports strict ladder ordering.
func (s ProductStatus) Less(other ProductStatus) bool {
	return s.Rank() < other.Rank()
}

// Product is the canonical product record. Typed columns cover the
// identity-significant and indexed attributes; Fields carries the full
// flat field map (tasting, production, appearance long tail) as stored
// in the data JSON column.
type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	BrandID           string          `json:"brand_id,omitempty"`
	ProductType       ProductType     `json:"product_type"`
	Category          string          `json:"category,omitempty"`
	ABV               *float64        `json:"abv,omitempty"`
	AgeStatement      *int            `json:"age_statement,omitempty"`
	VolumeML          *int            `json:"volume_ml,omitempty"`
	Country           string          `json:"country,omitempty"`
	Region            string          `json:"region,omitempty"`
	Description       string          `json:"description,omitempty"`
	Status            ProductStatus   `json:"status"`
	CompletenessScore float64         `json:"completeness_score"`
	ECPTotal          float64         `json:"ecp_total"`
	ECPByGroup        json.RawMessage `json:"enrichment_completion,omitempty"`
	SourceURL         string          `json:"source_url,omitempty"`
	DiscoverySource   string          `json:"discovery_source,omitempty"`
	SourceCount       int             `json:"source_count"`
	VerifiedFields    []string        `json:"verified_fields,omitempty"`
	Fingerprint       string          `json:"fingerprint"`
	Fields            map[string]any  `json:"fields,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Column keys mirrored between the typed Product columns and the flat
// field map.
const (
	FieldName         = "name"
	FieldBrand        = "brand"
	FieldCategory     = "category"
	FieldABV          = "abv"
	FieldAgeStatement = "age_statement"
	FieldVolumeML     = "volume_ml"
	FieldCountry      = "country"
	FieldRegion       = "region"
	FieldDescription  = "description"
)

// FieldMap returns the product's flat field map: the stored Fields plus
// the typed columns. The typed columns win on key collisions.
func (p *Product) FieldMap() map[string]any {
	m := make(map[string]any, len(p.Fields)+9)
	for k, v := range p.Fields {
		m[k] = v
	}
	if p.Name != "" {
		m[FieldName] = p.Name
	}
	if p.Category != "" {
		m[FieldCategory] = p.Category
	}
	if p.ABV != nil {
		m[FieldABV] = *p.ABV
	}
	if p.AgeStatement != nil {
		m[FieldAgeStatement] = *p.AgeStatement
	}
	if p.VolumeML != nil {
		m[FieldVolumeML] = *p.VolumeML
	}
	if p.Country != "" {
		m[FieldCountry] = p.Country
	}
	if p.Region != "" {
		m[FieldRegion] = p.Region
	}
	if p.Description != "" {
		m[FieldDescription] = p.Description
	}
	return m
}

// HasVerified reports whether the field is already in the verified set.
func (p *Product) HasVerified(field string) bool {
	for _, f := range p.VerifiedFields {
		if f == field {
			return true
		}
	}
	return false
}

// Brand is a shared producer label, identified by slug.
type Brand struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Producer  string    `json:"producer,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Award is one competition result attached to a product.
type Award struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"product_id"`
	Competition string  `json:"competition"`
	Year        int     `json:"year,omitempty"`
	Medal       string  `json:"medal,omitempty"`
	Category    string  `json:"category,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// Rating is a numeric review score from one source.
type Rating struct {
	ID        string  `json:"id"`
	ProductID string  `json:"product_id"`
	Source    string  `json:"source,omitempty"`
	Score     float64 `json:"score"`
	Max       float64 `json:"max,omitempty"`
	Reviewer  string  `json:"reviewer,omitempty"`
}

// Image is a product image reference.
type Image struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	URL       string `json:"url"`
	Type      string `json:"type,omitempty"`
}

// ProductSource records a crawled page a product was seen on.
type ProductSource struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	URL          string    `json:"url"`
	SourceType   string    `json:"source_type,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// ProductFieldSource records which URL supplied which field and with
// what confidence.
type ProductFieldSource struct {
	ID         string  `json:"id"`
	ProductID  string  `json:"product_id"`
	URL        string  `json:"url"`
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
}
