// Package verify cross-checks saved products against independent web
// sources and records which fields multiple sources agree on.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/spirits-cli/internal/crawler"
	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/internal/normalize"
	"github.com/sells-group/spirits-cli/internal/store"
	"github.com/sells-group/spirits-cli/pkg/serpapi"
)

// MaxSearchResults bounds the URLs checked per verification run.
const MaxSearchResults = 5

// MinAgreement is how many sources must agree before a field counts as
// verified.
const MinAgreement = 2

// verifiableFields is the closed set eligible for verification, keyed
// by canonical field-map names.
var verifiableFields = []string{
	"name", "brand", "abv", "age_statement", "volume_ml", "country",
	"region", "distillery", "bottler", "palate_description",
	"nose_description", "finish_description", "palate_flavors", "price",
}

// SourceExtractor extracts product data from one URL.
type SourceExtractor interface {
	ExtractFromURL(ctx context.Context, req *crawler.Request, url string) *crawler.Result
}

// FieldConflict records disagreeing values for one field.
type FieldConflict struct {
	Field   string   `json:"field"`
	Values  []any    `json:"values"`
	Sources []string `json:"sources"`
}

// Report is the outcome of one verification run.
type Report struct {
	ProductID      string          `json:"product_id"`
	SourceCount    int             `json:"source_count"`
	VerifiedFields []string        `json:"verified_fields"`
	Conflicts      []FieldConflict `json:"conflicts"`
	MergedData     map[string]any  `json:"merged_data"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
}

// Pipeline runs product verification.
type Pipeline struct {
	st        store.Store
	searcher  serpapi.Client
	extractor SourceExtractor
	logger    *zap.Logger
}

// New creates a verification pipeline.
func New(st store.Store, searcher serpapi.Client, extractor SourceExtractor) *Pipeline {
	return &Pipeline{
		st:        st,
		searcher:  searcher,
		extractor: extractor,
		logger:    zap.L().With(zap.String("component", "verify")),
	}
}

// VerifyProduct searches for independent sources of a product, merges
// their extractions by majority vote, and persists the verified field
// set. Verified fields are monotone: once verified, always verified.
func (p *Pipeline) VerifyProduct(ctx context.Context, productID string) *Report {
	report := &Report{ProductID: productID, MergedData: map[string]any{}}

	product, err := p.st.GetProduct(ctx, productID)
	if err != nil {
		report.Error = eris.Wrap(err, "verify: load product").Error()
		return report
	}

	original := columnSnapshot(product)
	query := buildQuery(product)
	if query == "" {
		report.Error = "verify: product has no name to search for"
		return report
	}

	resp, err := p.searcher.Search(ctx, query, MaxSearchResults)
	if err != nil {
		report.Error = eris.Wrap(err, "verify: search").Error()
		return report
	}

	type sourceData struct {
		url  string
		data map[string]any
	}
	sources := []sourceData{{url: product.SourceURL, data: original}}

	checked := 0
	for _, r := range resp.OrganicResults {
		if checked >= MaxSearchResults || r.Link == "" || r.Link == product.SourceURL {
			continue
		}
		checked++
		res := p.extractor.ExtractFromURL(ctx, &crawler.Request{
			ExpectedName: product.Name,
			ProductType:  product.ProductType,
		}, r.Link)
		if !res.Success || res.Data == nil {
			p.logger.Debug("verification source skipped",
				zap.String("url", r.Link), zap.Strings("errors", res.Errors))
			continue
		}
		sources = append(sources, sourceData{url: r.Link, data: normalize.Normalize(res.Data)})
	}

	// Majority vote per verifiable field.
	verified := map[string]bool{}
	for _, field := range verifiableFields {
		type vote struct {
			value   any
			count   int
			sources []string
		}
		var votes []*vote
		for _, src := range sources {
			v, ok := src.data[field]
			if !ok || isEmptyValue(v) {
				continue
			}
			key := normalizeValue(v)
			found := false
			for _, vt := range votes {
				if normalizeValue(vt.value) == key {
					vt.count++
					vt.sources = append(vt.sources, src.url)
					found = true
					break
				}
			}
			if !found {
				votes = append(votes, &vote{value: v, count: 1, sources: []string{src.url}})
			}
		}
		if len(votes) == 0 {
			continue
		}
		best := votes[0]
		for _, vt := range votes[1:] {
			if vt.count > best.count {
				best = vt
			}
		}
		report.MergedData[field] = best.value
		if best.count >= MinAgreement {
			verified[field] = true
		}
		if len(votes) > 1 {
			conflict := FieldConflict{Field: field}
			for _, vt := range votes {
				conflict.Values = append(conflict.Values, vt.value)
				conflict.Sources = append(conflict.Sources, vt.sources...)
			}
			report.Conflicts = append(report.Conflicts, conflict)
		}
	}

	// Monotone union with the already-verified set.
	for _, f := range product.VerifiedFields {
		verified[f] = true
	}
	fields := make([]string, 0, len(verified))
	for _, f := range verifiableFields {
		if verified[f] {
			fields = append(fields, f)
		}
	}

	report.SourceCount = len(sources)
	report.VerifiedFields = fields

	if err := p.st.UpdateVerifiedFields(ctx, productID, fields, len(sources)); err != nil {
		report.Error = eris.Wrap(err, "verify: persist").Error()
		return report
	}

	report.Success = true
	p.logger.Info("product verified",
		zap.String("product_id", productID),
		zap.Int("sources", len(sources)),
		zap.Int("verified_fields", len(fields)),
		zap.Int("conflicts", len(report.Conflicts)))
	return report
}

// columnSnapshot reads the original field map from the product's typed
// columns plus the long-tail keys in the verifiable set.
func columnSnapshot(p *model.Product) map[string]any {
	out := map[string]any{}
	if p.Name != "" {
		out["name"] = p.Name
	}
	if p.ABV != nil {
		out["abv"] = *p.ABV
	}
	if p.AgeStatement != nil {
		out["age_statement"] = *p.AgeStatement
	}
	if p.VolumeML != nil {
		out["volume_ml"] = *p.VolumeML
	}
	if p.Country != "" {
		out["country"] = p.Country
	}
	if p.Region != "" {
		out["region"] = p.Region
	}
	for _, field := range []string{"brand", "distillery", "bottler",
		"palate_description", "nose_description", "finish_description",
		"palate_flavors", "price"} {
		if v, ok := p.Fields[field]; ok && !isEmptyValue(v) {
			out[field] = v
		}
	}
	return out
}

func buildQuery(p *model.Product) string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return ""
	}
	brand, _ := p.Fields["brand"].(string)
	brand = strings.TrimSpace(brand)
	if brand == "" || strings.HasPrefix(strings.ToLower(name), strings.ToLower(brand)) {
		return name
	}
	return brand + " " + name
}

// normalizeValue maps a value to its comparison key: lowercased trimmed
// text for scalars, canonical JSON of lowercased elements for lists.
func normalizeValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(t))
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = normalizeValue(item)
		}
		b, _ := json.Marshal(parts)
		return string(b)
	case float64:
		return fmt.Sprintf("%g", t)
	case int:
		return fmt.Sprintf("%d", t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return strings.ToLower(string(b))
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	}
	return false
}
