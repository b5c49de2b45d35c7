// Package writer is the single entry point for creating and updating
// products. It validates, normalizes, fingerprints, deduplicates, and
// persists one product with its evidence rows per call.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/spirits-cli/internal/ecp"
	"github.com/sells-group/spirits-cli/internal/fingerprint"
	"github.com/sells-group/spirits-cli/internal/gate"
	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/internal/normalize"
	"github.com/sells-group/spirits-cli/internal/store"
)

// Dispatcher queues asynchronous follow-up work after a write.
type Dispatcher interface {
	QueueVerification(ctx context.Context, productID string) error
}

// Request is one product write. CheckExisting defaults on; SkipDedup
// turns the lookup chain off for callers that already resolved the
// target.
type Request struct {
	Data            map[string]any
	SourceURL       string
	ProductType     model.ProductType
	DiscoverySource string
	SourceType      model.SourceType
	Confidences     map[string]float64
	SkipDedup       bool
	Enrich          bool
}

// Result reports the outcome. Failures never escape as errors; they
// land in Error with Created false.
type Result struct {
	Product *model.Product `json:"product,omitempty"`
	Created bool           `json:"created"`
	Error   string         `json:"error,omitempty"`
}

// Writer persists products through the store.
type Writer struct {
	st         store.Store
	dispatcher Dispatcher
	logger     *zap.Logger
}

// New creates a writer. dispatcher may be nil when no verification
// queue exists (local one-shot runs).
func New(st store.Store, dispatcher Dispatcher) *Writer {
	return &Writer{
		st:         st,
		dispatcher: dispatcher,
		logger:     zap.L().With(zap.String("component", "writer")),
	}
}

// List-valued keys appended on update instead of overwritten.
var listKeys = map[string]bool{
	"awards":         true,
	"ratings":        true,
	"images":         true,
	"primary_aromas": true,
	"palate_flavors": true,
	"finish_flavors": true,
}

// Write runs the full pipeline for one product: validate, normalize,
// fingerprint, dedup, resolve brand, persist atomically, assess.
func (w *Writer) Write(ctx context.Context, req *Request) *Result {
	if !req.ProductType.Valid() {
		return &Result{Error: fmt.Sprintf("invalid product type: %s", req.ProductType)}
	}

	data := normalize.Normalize(req.Data)
	name, _ := data["name"].(string)
	name = strings.TrimSpace(name)

	abv := floatField(data, "abv")
	age := intField(data, "age_statement")
	volume := intField(data, "volume_ml")
	fp := fingerprint.Compute(name, abv, age, volume)

	var existing *model.Product
	if !req.SkipDedup {
		var err error
		existing, err = w.findExisting(ctx, req.SourceURL, fp, name, req.ProductType)
		if err != nil {
			return &Result{Error: err.Error()}
		}
	}

	res, err := w.persist(ctx, req, data, existing, fp)
	if err != nil {
		// Losing an insert race means another worker created the
		// product between our lookup and write; retry as an update.
		if eris.Is(err, store.ErrDuplicate) && existing == nil {
			raced, lookupErr := w.st.GetProductByFingerprint(ctx, fp)
			if lookupErr == nil {
				res, err = w.persist(ctx, req, data, raced, fp)
			}
		}
		if err != nil {
			return &Result{Error: err.Error()}
		}
	}

	if req.Enrich && w.dispatcher != nil {
		if err := w.dispatcher.QueueVerification(ctx, res.Product.ID); err != nil {
			w.logger.Warn("verification dispatch failed",
				zap.String("product_id", res.Product.ID), zap.Error(err))
		}
	}
	return res
}

// findExisting runs the dedup chain: source URL, then fingerprint, then
// fuzzy name match over prefix candidates.
func (w *Writer) findExisting(ctx context.Context, sourceURL, fp, name string, pt model.ProductType) (*model.Product, error) {
	if sourceURL != "" {
		p, err := w.st.GetProductBySourceURL(ctx, sourceURL)
		if err == nil {
			return p, nil
		}
		if !eris.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	p, err := w.st.GetProductByFingerprint(ctx, fp)
	if err == nil {
		return p, nil
	}
	if !eris.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if name == "" {
		return nil, nil
	}
	candidates, err := w.st.SearchProductsByNamePrefix(ctx, fingerprint.CandidatePrefix(name), pt, 50)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if fingerprint.SameProduct(name, candidates[i].Name) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (w *Writer) persist(ctx context.Context, req *Request, data map[string]any, existing *model.Product, fp string) (*Result, error) {
	created := existing == nil

	var merged map[string]any
	var product *model.Product
	if created {
		merged = data
		product = &model.Product{
			ProductType:     req.ProductType,
			SourceURL:       req.SourceURL,
			DiscoverySource: req.DiscoverySource,
			SourceCount:     1,
			Fingerprint:     fp,
		}
	} else {
		merged = mergeFields(existing.FieldMap(), data)
		product = existing
		if product.SourceURL == "" {
			product.SourceURL = req.SourceURL
		}
		if product.DiscoverySource == "" {
			product.DiscoverySource = req.DiscoverySource
		}
	}
	applyColumns(product, merged)

	assessment := gate.Assess(merged, confidenceMap(req.Confidences), nil, req.ProductType)
	report := ecp.BuildReport(merged, ecp.GroupsFor(req.ProductType))
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, eris.Wrap(err, "writer: marshal ecp report")
	}

	status := assessment.Status
	if !created && status.Less(existing.Status) {
		// Never downgrade a product on re-crawl.
		status = existing.Status
	}
	product.Status = status
	product.CompletenessScore = assessment.CompletenessScore
	product.ECPTotal = assessment.ECPTotal
	product.ECPByGroup = reportJSON
	product.Fields = longTailFields(merged)

	pw := &store.ProductWrite{
		Product: product,
		Created: created,
		Details: detailFields(merged, req.ProductType),
		Awards:  extractAwards(merged),
		Ratings: extractRatings(merged),
		Images:  extractImages(merged),
	}
	if brand, _ := merged["brand"].(string); strings.TrimSpace(brand) != "" {
		pw.BrandSlug = store.Slugify(brand)
		pw.BrandName = strings.TrimSpace(brand)
	}
	if req.SourceURL != "" {
		pw.Source = &model.ProductSource{
			URL:        req.SourceURL,
			SourceType: string(req.SourceType),
		}
	}
	for field, conf := range req.Confidences {
		pw.FieldSources = append(pw.FieldSources, model.ProductFieldSource{
			URL:        req.SourceURL,
			Field:      field,
			Confidence: conf,
		})
	}

	if err := w.st.WriteProduct(ctx, pw); err != nil {
		return nil, err
	}

	w.logger.Info("product written",
		zap.String("product_id", product.ID),
		zap.String("name", product.Name),
		zap.Bool("created", created),
		zap.String("status", string(product.Status)),
		zap.Float64("ecp_total", product.ECPTotal))

	return &Result{Product: product, Created: created}, nil
}

// mergeFields applies the empty-column-only update rule: scalars keep
// the existing value unless it is empty, list keys union without
// duplicates.
func mergeFields(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		if !ecp.Populated(v) {
			continue
		}
		if listKeys[k] {
			out[k] = unionList(out[k], v)
			continue
		}
		if !ecp.Populated(out[k]) {
			out[k] = v
		}
	}
	return out
}

func unionList(existing, incoming any) any {
	seen := make(map[string]bool)
	var out []any
	for _, item := range append(toList(existing), toList(incoming)...) {
		key := canonicalJSON(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func toList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{t}
	}
}

func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Typed column keys stripped from the long-tail data map.
var columnKeys = map[string]bool{
	"name":          true,
	"category":      true,
	"abv":           true,
	"age_statement": true,
	"volume_ml":     true,
	"country":       true,
	"region":        true,
	"description":   true,
}

func applyColumns(p *model.Product, data map[string]any) {
	if name, _ := data["name"].(string); strings.TrimSpace(name) != "" {
		p.Name = strings.TrimSpace(name)
	}
	if cat, _ := data["category"].(string); cat != "" {
		p.Category = cat
	}
	if f := floatField(data, "abv"); f != nil {
		p.ABV = f
	}
	if n := intField(data, "age_statement"); n != nil {
		p.AgeStatement = n
	}
	if n := intField(data, "volume_ml"); n != nil {
		p.VolumeML = n
	}
	if s, _ := data["country"].(string); s != "" {
		p.Country = s
	}
	if s, _ := data["region"].(string); s != "" {
		p.Region = s
	}
	if s, _ := data["description"].(string); s != "" {
		p.Description = s
	}
}

func longTailFields(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if columnKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// detailFields collects the per-type production attributes persisted in
// the subtype detail row.
var whiskeyDetailKeys = []string{
	"distillery", "bottler", "age_statement", "primary_cask",
	"finishing_cask", "wood_type", "cask_treatment", "maturation_notes",
	"peat_ppm", "peat_level", "peated", "cask_strength", "single_cask",
	"natural_color", "non_chill_filtered",
}

var portWineDetailKeys = []string{
	"style", "indication_age", "harvest_year", "bottling_year",
	"producer_house", "grape_varieties", "sweetness", "decanting_time",
	"cellaring_potential",
}

func detailFields(data map[string]any, pt model.ProductType) map[string]any {
	keys := whiskeyDetailKeys
	if pt == model.ProductTypePortWine {
		keys = portWineDetailKeys
	}
	out := make(map[string]any)
	for _, k := range keys {
		if v, ok := data[k]; ok && ecp.Populated(v) {
			out[k] = v
		}
	}
	return out
}

func extractAwards(data map[string]any) []model.Award {
	var out []model.Award
	for _, item := range toList(data["awards"]) {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		a := model.Award{}
		a.Competition, _ = entry["competition"].(string)
		a.Medal, _ = entry["medal"].(string)
		a.Category, _ = entry["category"].(string)
		if y := intValue(entry["year"]); y != nil {
			a.Year = *y
		}
		if s := floatValue(entry["score"]); s != nil {
			a.Score = *s
		}
		if a.Competition != "" {
			out = append(out, a)
		}
	}
	return out
}

func extractRatings(data map[string]any) []model.Rating {
	var out []model.Rating
	for _, item := range toList(data["ratings"]) {
		switch entry := item.(type) {
		case map[string]any:
			r := model.Rating{}
			r.Source, _ = entry["source"].(string)
			r.Reviewer, _ = entry["reviewer"].(string)
			if s := floatValue(entry["score"]); s != nil {
				r.Score = *s
			}
			if m := floatValue(entry["max"]); m != nil {
				r.Max = *m
			}
			if r.Score > 0 {
				out = append(out, r)
			}
		default:
			if s := floatValue(item); s != nil && *s > 0 {
				out = append(out, model.Rating{Score: *s})
			}
		}
	}
	return out
}

func extractImages(data map[string]any) []model.Image {
	var out []model.Image
	for _, item := range toList(data["images"]) {
		switch entry := item.(type) {
		case string:
			if entry != "" {
				out = append(out, model.Image{URL: entry})
			}
		case map[string]any:
			img := model.Image{}
			img.URL, _ = entry["url"].(string)
			img.Type, _ = entry["type"].(string)
			if img.URL != "" {
				out = append(out, img)
			}
		}
	}
	return out
}

func confidenceMap(confs map[string]float64) map[string]any {
	if confs == nil {
		return nil
	}
	out := make(map[string]any, len(confs))
	for k, v := range confs {
		out[k] = v
	}
	return out
}

func floatField(data map[string]any, key string) *float64 {
	return floatValue(data[key])
}

func intField(data map[string]any, key string) *int {
	return intValue(data[key])
}

func floatValue(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case float32:
		f := float64(t)
		return &f
	case int:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	}
	return nil
}

func intValue(v any) *int {
	switch t := v.(type) {
	case int:
		return &t
	case int64:
		n := int(t)
		return &n
	case float64:
		n := int(t)
		return &n
	}
	return nil
}
