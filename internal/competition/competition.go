// Package competition turns competition-results pages into skeleton
// products: it parses the medalled entries, attaches awards to
// existing products, creates skeletons for the rest, and queues them
// for enrichment.
package competition

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/spirits-cli/internal/crawler"
	"github.com/sells-group/spirits-cli/internal/domains"
	"github.com/sells-group/spirits-cli/internal/fingerprint"
	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/internal/store"
	"github.com/sells-group/spirits-cli/internal/writer"
	"github.com/sells-group/spirits-cli/pkg/extractor"
)

// MaxAwardsPerPage caps how many entries one results page yields.
const MaxAwardsPerPage = 50

// ProductWriter persists parsed entries through the product pipeline.
type ProductWriter interface {
	Write(ctx context.Context, req *writer.Request) *writer.Result
}

// PageFetcher retrieves raw page content when a run starts from a URL
// instead of pre-fetched content.
type PageFetcher interface {
	FetchListPage(ctx context.Context, url string) (string, bool, error)
}

// Enqueuer queues skeletons for later enrichment.
type Enqueuer interface {
	QueueEnrichment(ctx context.Context, productID string) error
}

// Request is one competition-results run. SourceContent may be empty,
// in which case SourceURL is fetched.
type Request struct {
	SourceContent string
	SourceURL     string
	ProductTypes  []model.ProductType
	MaxResults    int
}

// Result reports one run's outcome.
type Result struct {
	AwardsFound      int           `json:"awards_found"`
	SkeletonsCreated int           `json:"skeletons_created"`
	SkeletonsUpdated int           `json:"skeletons_updated"`
	Errors           []string      `json:"errors,omitempty"`
	Awards           []ParsedAward `json:"awards_data,omitempty"`
}

// Orchestrator runs competition discovery against a store and writer.
type Orchestrator struct {
	st        store.Store
	extractor extractor.Client
	writer    ProductWriter
	fetcher   PageFetcher
	registry  *domains.Registry
	queue     Enqueuer
	logger    *zap.Logger
}

// New creates an orchestrator. fetcher and queue may be nil; without a
// fetcher only content-supplied runs work, without a queue skeletons
// are not enqueued for enrichment.
func New(st store.Store, ex extractor.Client, w ProductWriter, fetcher PageFetcher, registry *domains.Registry, queue Enqueuer) *Orchestrator {
	return &Orchestrator{
		st:        st,
		extractor: ex,
		writer:    w,
		fetcher:   fetcher,
		registry:  registry,
		queue:     queue,
		logger:    zap.L().With(zap.String("component", "competition")),
	}
}

// Run extracts the medalled entries from a results page and upserts a
// product per entry. Per-entry failures land in Errors; the run keeps
// going.
func (o *Orchestrator) Run(ctx context.Context, req *Request) *Result {
	res := &Result{}

	content := req.SourceContent
	if content == "" {
		if o.fetcher == nil {
			res.Errors = append(res.Errors, "no source content and no fetcher configured")
			return res
		}
		fetched, _, err := o.fetcher.FetchListPage(ctx, req.SourceURL)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			return res
		}
		content = fetched
	}

	entries, err := o.extract(ctx, req, content)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > MaxAwardsPerPage {
		maxResults = MaxAwardsPerPage
	}

	parserKey := o.registry.CompetitionParser(req.SourceURL)
	compName := competitionName(parserKey, domains.Domain(req.SourceURL))
	defaultYear := yearFrom(req.SourceURL)

	for i := range entries {
		if len(res.Awards) >= maxResults {
			break
		}
		pa := parseEntry(&entries[i], compName, defaultYear)
		if pa == nil {
			continue
		}
		if !typeWanted(pa.ProductType, req.ProductTypes) {
			continue
		}
		res.AwardsFound++
		res.Awards = append(res.Awards, *pa)

		if err := o.upsert(ctx, pa, res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", pa.Name, err.Error()))
		}
	}

	o.logger.Info("competition page processed",
		zap.String("url", req.SourceURL),
		zap.String("competition", compName),
		zap.Int("awards_found", res.AwardsFound),
		zap.Int("skeletons_created", res.SkeletonsCreated),
		zap.Int("skeletons_updated", res.SkeletonsUpdated),
		zap.Int("errors", len(res.Errors)))
	return res
}

func (o *Orchestrator) extract(ctx context.Context, req *Request, content string) ([]extractor.Extraction, error) {
	extractReq := &extractor.ExtractRequest{
		URL:        req.SourceURL,
		Content:    crawler.TrimContent(content),
		SourceType: string(model.SourceCompetition),
	}
	if len(req.ProductTypes) == 1 {
		extractReq.ProductType = string(req.ProductTypes[0])
	}
	resp, err := o.extractor.Extract(ctx, extractReq)
	if err != nil {
		return nil, err
	}
	switch resp.Kind {
	case extractor.KindMulti:
		return resp.Multi, nil
	case extractor.KindSingle:
		return []extractor.Extraction{*resp.Single}, nil
	default:
		return nil, eris.Errorf("competition: extraction failed: %s", resp.Failure.Error)
	}
}

// upsert attaches the award to an existing product or creates a
// skeleton, then queues enrichment when the product is still thin.
func (o *Orchestrator) upsert(ctx context.Context, pa *ParsedAward, res *Result) error {
	existing, err := o.findExisting(ctx, pa.Name, pa.ProductType)
	if err != nil {
		return err
	}
	if existing != nil && awardExists(existing.Fields["awards"], pa.Competition, pa.Year) {
		o.logger.Debug("award already recorded",
			zap.String("product_id", existing.ID),
			zap.String("competition", pa.Competition),
			zap.Int("year", pa.Year))
		return nil
	}

	data := map[string]any{
		"name":   pa.Name,
		"awards": []any{awardFields(pa)},
	}
	if pa.Brand != "" {
		data["brand"] = pa.Brand
	}

	wr := o.writer.Write(ctx, &writer.Request{
		Data:            data,
		ProductType:     pa.ProductType,
		DiscoverySource: "competition",
		SourceType:      model.SourceCompetition,
	})
	if wr.Error != "" {
		return eris.New(wr.Error)
	}
	if wr.Created {
		res.SkeletonsCreated++
	} else {
		res.SkeletonsUpdated++
	}

	if o.queue != nil && underPopulated(wr.Product) {
		if err := o.queue.QueueEnrichment(ctx, wr.Product.ID); err != nil {
			o.logger.Warn("enrichment enqueue failed",
				zap.String("product_id", wr.Product.ID), zap.Error(err))
		}
	}
	return nil
}

// findExisting matches an entry against stored products by fingerprint
// then fuzzy name. Award rows carry no ABV or volume, so the
// fingerprint is name-only.
func (o *Orchestrator) findExisting(ctx context.Context, name string, pt model.ProductType) (*model.Product, error) {
	fp := fingerprint.Compute(name, nil, nil, nil)
	p, err := o.st.GetProductByFingerprint(ctx, fp)
	if err == nil {
		return p, nil
	}
	if !eris.Is(err, store.ErrNotFound) {
		return nil, err
	}

	candidates, err := o.st.SearchProductsByNamePrefix(ctx, fingerprint.CandidatePrefix(name), pt, 50)
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

// awardExists reports whether the stored awards list already has an
// entry for the competition and year pair.
func awardExists(awards any, competition string, year int) bool {
	list, ok := awards.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if asString(entry["competition"]) == competition && asInt(entry["year"]) == year {
			return true
		}
	}
	return false
}

func awardFields(pa *ParsedAward) map[string]any {
	m := map[string]any{"competition": pa.Competition}
	if pa.Year > 0 {
		m["year"] = pa.Year
	}
	if pa.Medal != "" {
		m["medal"] = pa.Medal
	}
	if pa.Category != "" {
		m["category"] = pa.Category
	}
	if pa.Score > 0 {
		m["score"] = pa.Score
	}
	return m
}

// underPopulated reports whether a product still needs enrichment:
// anything at or below partial on the quality ladder.
func underPopulated(p *model.Product) bool {
	return p.Status.Rank() <= model.StatusPartial.Rank()
}

func typeWanted(pt model.ProductType, wanted []model.ProductType) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w == pt {
			return true
		}
	}
	return false
}
