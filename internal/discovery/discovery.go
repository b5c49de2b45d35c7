// Package discovery turns schedules and ad-hoc runs into product
// saves: it searches, classifies result URLs, and routes each to the
// single-product, list-page, or competition path.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/spirits-cli/internal/budget"
	"github.com/sells-group/spirits-cli/internal/crawler"
	"github.com/sells-group/spirits-cli/internal/domains"
	"github.com/sells-group/spirits-cli/internal/fingerprint"
	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/internal/store"
	"github.com/sells-group/spirits-cli/internal/writer"
	"github.com/sells-group/spirits-cli/pkg/extractor"
	"github.com/sells-group/spirits-cli/pkg/serpapi"
)

const (
	// DefaultMaxResults is how many organic results one term consumes.
	DefaultMaxResults = 10
	// MaxProductsPerListPage bounds one list-page extraction.
	MaxProductsPerListPage = 20
)

// ErrCancelled aborts a run at the next safe suspension point.
var ErrCancelled = eris.New("discovery: job cancelled")

// ProductCrawler is the slice of the SmartCrawler discovery needs.
type ProductCrawler interface {
	ExtractFromURL(ctx context.Context, req *crawler.Request, url string) *crawler.Result
	FetchListPage(ctx context.Context, url string) (string, bool, error)
}

// ProductWriter persists one extracted product.
type ProductWriter interface {
	Write(ctx context.Context, req *writer.Request) *writer.Result
}

// Orchestrator drives discovery runs.
type Orchestrator struct {
	st        store.Store
	searcher  serpapi.Client
	extractor extractor.Client
	crawler   ProductCrawler
	writer    ProductWriter
	registry  *domains.Registry
	budget    *budget.Tracker
	logger    *zap.Logger
}

// New creates a discovery orchestrator.
func New(st store.Store, searcher serpapi.Client, ex extractor.Client, cr ProductCrawler, pw ProductWriter, registry *domains.Registry, tracker *budget.Tracker) *Orchestrator {
	return &Orchestrator{
		st:        st,
		searcher:  searcher,
		extractor: ex,
		crawler:   cr,
		writer:    pw,
		registry:  registry,
		budget:    tracker,
		logger:    zap.L().With(zap.String("component", "discovery")),
	}
}

// Run works through a schedule's terms for one job and returns the
// accumulated counters. A cancellation flag on the job stops the run
// between URLs with ErrCancelled. Term stats for completed terms are
// written back to the schedule even when the run stops early.
func (o *Orchestrator) Run(ctx context.Context, sched *model.Schedule, jobID string) (model.JobCounters, error) {
	counters := model.JobCounters{}
	terms := FilterTerms(sched.Terms, "", sched.ProductTypeFilter, time.Now().UTC(), MaxTermsPerRun)
	defer o.saveTermStats(ctx, sched, terms)

	for i := range terms {
		if err := o.checkCancelled(ctx, jobID); err != nil {
			return counters, err
		}
		delta, err := o.RunTerm(ctx, &terms[i], sched, jobID)
		counters.Add(delta)
		if err != nil {
			if eris.Is(err, ErrCancelled) {
				return counters, err
			}
			o.logger.Warn("term failed",
				zap.String("term", terms[i].Term), zap.Error(err))
			counters.ErrorCount++
		}
	}
	return counters, nil
}

// saveTermStats merges per-run term stats back into the schedule's
// term list and persists it. Ad-hoc schedules have no row to update.
func (o *Orchestrator) saveTermStats(ctx context.Context, sched *model.Schedule, ran []model.ScheduleTerm) {
	if sched == nil || sched.Slug == "" {
		return
	}
	byTerm := make(map[string]*model.ScheduleTerm, len(ran))
	for i := range ran {
		byTerm[ran[i].Term] = &ran[i]
	}
	changed := false
	for i := range sched.Terms {
		t, ok := byTerm[sched.Terms[i].Term]
		if !ok || t.SearchCount == sched.Terms[i].SearchCount {
			continue
		}
		sched.Terms[i] = *t
		changed = true
	}
	if !changed {
		return
	}
	err := o.st.UpdateScheduleTerms(ctx, sched.Slug, sched.Terms)
	if err != nil && !eris.Is(err, store.ErrNotFound) {
		o.logger.Warn("term stats update failed",
			zap.String("schedule", sched.Slug), zap.Error(err))
	}
}

// RunTerm executes one search term: search, classify, route.
func (o *Orchestrator) RunTerm(ctx context.Context, term *model.ScheduleTerm, sched *model.Schedule, jobID string) (model.JobCounters, error) {
	counters := model.JobCounters{}

	maxResults := term.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	counters.SerpAPICalls++
	resp, err := o.searcher.Search(ctx, term.Term, maxResults)
	if err != nil {
		return counters, eris.Wrapf(err, "discovery: search %q", term.Term)
	}

	results := resp.OrganicResults
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	counters.URLsFound += len(results)

	enrich := sched != nil && sched.Enrich
	for rank, r := range results {
		if err := o.checkCancelled(ctx, jobID); err != nil {
			return counters, err
		}
		if r.Link == "" {
			continue
		}
		switch Classify(o.registry, r.Link, r.Title) {
		case ClassSkip:
			counters.URLsSkipped++
		case ClassCompetition:
			if err := o.handleCompetitionURL(ctx, r.Link, term.ProductType); err != nil {
				o.logger.Warn("competition handoff failed",
					zap.String("url", r.Link), zap.Error(err))
				counters.ErrorCount++
			}
			counters.URLsSkipped++
		case ClassList:
			counters.Add(o.processListPage(ctx, jobID, term, r.Link, enrich))
		default:
			counters.Add(o.processSingleProduct(ctx, jobID, term, r, rank, enrich))
		}
	}

	now := time.Now().UTC()
	term.SearchCount++
	term.LastSearched = &now
	term.ProductsDiscovered += counters.ProductsNew
	return counters, nil
}

// processSingleProduct runs one product-page URL through the crawler
// and writer, tracking it as a DiscoveryResult.
func (o *Orchestrator) processSingleProduct(ctx context.Context, jobID string, term *model.ScheduleTerm, r serpapi.OrganicResult, rank int, enrich bool) model.JobCounters {
	counters := model.JobCounters{}
	expected := cleanTitle(r.Title)

	dr := &model.DiscoveryResult{
		JobID:        jobID,
		Term:         term.Term,
		SourceURL:    r.Link,
		SourceDomain: domains.Domain(r.Link),
		Title:        r.Title,
		SearchRank:   rank + 1,
		Status:       model.DiscoveryProcessing,
	}
	if err := o.st.CreateDiscoveryResult(ctx, dr); err != nil {
		o.logger.Warn("discovery result create failed", zap.Error(err))
	}
	finish := func(status model.DiscoveryStatus, errMsg string) {
		if dr.ID == "" {
			return
		}
		if err := o.st.FinishDiscoveryResult(ctx, dr.ID, status, errMsg); err != nil {
			o.logger.Warn("discovery result finish failed", zap.Error(err))
		}
	}

	if dup, err := o.existingProduct(ctx, r.Link, expected, coerceType(term.ProductType)); err != nil {
		counters.ErrorCount++
		finish(model.DiscoveryFailed, err.Error())
		return counters
	} else if dup {
		counters.ProductsDuplicate++
		finish(model.DiscoveryDuplicate, "")
		return counters
	}

	o.budget.Reset(expected)
	res := o.crawler.ExtractFromURL(ctx, &crawler.Request{
		ExpectedName: expected,
		ProductType:  coerceType(term.ProductType),
	}, r.Link)
	counters.URLsCrawled++
	counters.ScrapingBeeCalls += res.ScrapingBeeCalls
	counters.AICalls += res.AICalls

	if !res.Success {
		counters.ErrorCount++
		finish(model.DiscoveryFailed, strings.Join(res.Errors, "; "))
		return counters
	}

	wres := o.writer.Write(ctx, &writer.Request{
		Data:            res.Data,
		SourceURL:       res.SourceURL,
		ProductType:     coerceType(term.ProductType),
		DiscoverySource: "scheduled_search",
		SourceType:      res.SourceType,
		Confidences:     res.Confidences,
		Enrich:          enrich,
	})
	if wres.Error != "" {
		counters.ErrorCount++
		finish(model.DiscoveryFailed, wres.Error)
		return counters
	}

	counters.ProductsFound++
	if wres.Created {
		counters.ProductsNew++
	} else {
		counters.ProductsUpdated++
	}
	finish(model.DiscoverySuccess, "")
	return counters
}

// processListPage extracts every product entry from a roundup-style
// page, following product links within budget and degrading to partial
// saves from the list fields alone.
func (o *Orchestrator) processListPage(ctx context.Context, jobID string, term *model.ScheduleTerm, pageURL string, enrich bool) model.JobCounters {
	counters := model.JobCounters{PagesProcessed: 1}
	pt := coerceType(term.ProductType)

	content, paid, err := o.crawler.FetchListPage(ctx, pageURL)
	if paid {
		counters.ScrapingBeeCalls++
	}
	if err != nil {
		counters.ErrorCount++
		o.logger.Warn("list page fetch failed", zap.String("url", pageURL), zap.Error(err))
		return counters
	}

	counters.AICalls++
	resp, err := o.extractor.Extract(ctx, &extractor.ExtractRequest{
		URL:         pageURL,
		Content:     crawler.TrimContent(content),
		ProductType: string(pt),
		SourceType:  "list",
	})
	if err != nil {
		counters.ErrorCount++
		return counters
	}

	var entries []extractor.Extraction
	switch resp.Kind {
	case extractor.KindMulti:
		entries = resp.Multi
	case extractor.KindSingle:
		entries = []extractor.Extraction{*resp.Single}
	default:
		counters.ErrorCount++
		return counters
	}
	if len(entries) > MaxProductsPerListPage {
		entries = entries[:MaxProductsPerListPage]
	}

	for i := range entries {
		if err := o.checkCancelled(ctx, jobID); err != nil {
			return counters
		}
		counters.Add(o.processListEntry(ctx, &entries[i], pageURL, pt, enrich))
	}
	return counters
}

func (o *Orchestrator) processListEntry(ctx context.Context, entry *extractor.Extraction, pageURL string, pt model.ProductType, enrich bool) model.JobCounters {
	counters := model.JobCounters{}
	name := entry.Name
	if name == "" {
		name, _ = entry.Fields["name"].(string)
	}
	if strings.TrimSpace(name) == "" {
		return counters
	}

	// Known product: merge the list-page fields into it.
	if dup, err := o.existingProduct(ctx, "", name, pt); err != nil {
		counters.ErrorCount++
		return counters
	} else if dup {
		counters.ProductsDuplicate++
		wres := o.writer.Write(ctx, &writer.Request{
			Data:            entry.Fields,
			SourceURL:       resolveLink(pageURL, entry.URL),
			ProductType:     pt,
			DiscoverySource: "list_page",
		})
		if wres.Error != "" {
			counters.ErrorCount++
		}
		return counters
	}

	data := entry.Fields
	sourceURL := resolveLink(pageURL, entry.URL)
	sourceType := model.SourceType("")

	budgetOK, _ := o.budget.CanContinue(name)
	switch {
	case sourceURL != "" && budgetOK:
		res := o.crawler.ExtractFromURL(ctx, &crawler.Request{
			ExpectedName: name,
			ProductType:  pt,
		}, sourceURL)
		counters.URLsCrawled++
		counters.ScrapingBeeCalls += res.ScrapingBeeCalls
		counters.AICalls += res.AICalls
		if res.Success {
			data = overlay(entry.Fields, res.Data)
			sourceType = res.SourceType
		}
	case budgetOK:
		found := o.searchListEntry(ctx, entry, name, pt, &counters)
		if found != nil {
			data = overlay(entry.Fields, found.Data)
			sourceURL = found.SourceURL
			sourceType = found.SourceType
		} else {
			data = withPartialFlag(entry.Fields)
		}
	default:
		// All budgets spent; keep what the list page gave us.
		data = withPartialFlag(entry.Fields)
	}

	wres := o.writer.Write(ctx, &writer.Request{
		Data:            data,
		SourceURL:       sourceURL,
		ProductType:     pt,
		DiscoverySource: "list_page",
		SourceType:      sourceType,
		Enrich:          enrich,
	})
	if wres.Error != "" {
		counters.ErrorCount++
		return counters
	}
	counters.ProductsFound++
	if wres.Created {
		counters.ProductsNew++
	} else {
		counters.ProductsUpdated++
	}
	return counters
}

// searchListEntry runs one search for a list entry without a usable
// link and extracts the best non-competition, non-skip result.
func (o *Orchestrator) searchListEntry(ctx context.Context, entry *extractor.Extraction, name string, pt model.ProductType, counters *model.JobCounters) *crawler.Result {
	brand, _ := entry.Fields["brand"].(string)
	query := strings.TrimSpace(fmt.Sprintf("%s %s %s", brand, name, productTypeLabel(pt)))

	o.budget.RecordSearch(name)
	counters.SerpAPICalls++
	resp, err := o.searcher.Search(ctx, query, 5)
	if err != nil {
		return nil
	}
	for _, r := range resp.OrganicResults {
		if r.Link == "" || o.registry.Skip(r.Link) || o.registry.Competition(r.Link) {
			continue
		}
		res := o.crawler.ExtractFromURL(ctx, &crawler.Request{
			ExpectedName: name,
			ProductType:  pt,
		}, r.Link)
		counters.URLsCrawled++
		counters.ScrapingBeeCalls += res.ScrapingBeeCalls
		counters.AICalls += res.AICalls
		if res.Success {
			return res
		}
		return nil
	}
	return nil
}

// handleCompetitionURL routes a competition URL: covered domains defer
// to their schedule, unknown ones get an inactive schedule for review.
func (o *Orchestrator) handleCompetitionURL(ctx context.Context, pageURL string, pt model.ProductType) error {
	domain := domains.Domain(pageURL)

	schedules, err := o.st.ListSchedules(ctx)
	if err != nil {
		return eris.Wrap(err, "discovery: list schedules")
	}
	for i := range schedules {
		if schedules[i].Category != model.CategoryCompetition {
			continue
		}
		if domains.Domain(schedules[i].BaseURL) == domain {
			return nil
		}
	}

	parserKey := o.registry.CompetitionParser(pageURL)
	description := "Auto-discovered competition domain, pending review"
	if parserKey != "" {
		description = fmt.Sprintf("Auto-discovered competition domain (parser: %s), pending review", parserKey)
	}
	sched := &model.Schedule{
		Slug:              "discovered-" + store.Slugify(domain),
		Category:          model.CategoryCompetition,
		Description:       description,
		Frequency:         7 * 24 * time.Hour,
		BaseURL:           pageURL,
		ProductTypeFilter: pt,
		IsActive:          false,
	}
	if err := o.st.CreateSchedule(ctx, sched); err != nil {
		if eris.Is(err, store.ErrDuplicate) {
			return nil
		}
		return eris.Wrapf(err, "discovery: create schedule %s", sched.Slug)
	}
	o.logger.Info("competition domain discovered",
		zap.String("domain", domain), zap.String("slug", sched.Slug))
	return nil
}

// existingProduct runs the discovery-side dedup: exact source URL, then
// fuzzy name.
func (o *Orchestrator) existingProduct(ctx context.Context, sourceURL, name string, pt model.ProductType) (bool, error) {
	if sourceURL != "" {
		if _, err := o.st.GetProductBySourceURL(ctx, sourceURL); err == nil {
			return true, nil
		} else if !eris.Is(err, store.ErrNotFound) {
			return false, err
		}
	}
	if strings.TrimSpace(name) == "" {
		return false, nil
	}
	candidates, err := o.st.SearchProductsByNamePrefix(ctx, fingerprint.CandidatePrefix(name), pt, 50)
	if err != nil {
		return false, err
	}
	for i := range candidates {
		if fingerprint.SameProduct(name, candidates[i].Name) {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) checkCancelled(ctx context.Context, jobID string) error {
	if jobID == "" {
		return nil
	}
	job, err := o.st.GetJob(ctx, jobID)
	if err != nil {
		return nil
	}
	if job.Cancelled {
		return ErrCancelled
	}
	return nil
}

// coerceType maps generic spirits terms onto the writable MVP set.
func coerceType(pt model.ProductType) model.ProductType {
	if pt.Valid() {
		return pt
	}
	return model.ProductTypeWhiskey
}

func productTypeLabel(pt model.ProductType) string {
	if pt == model.ProductTypePortWine {
		return "port wine"
	}
	return "whiskey"
}

// cleanTitle strips the site suffix from a search result title.
func cleanTitle(title string) string {
	for _, sep := range []string{" | ", " - ", " – ", " — "} {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
			break
		}
	}
	return strings.TrimSpace(title)
}

func resolveLink(base, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

func overlay(base, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(incoming))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func withPartialFlag(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["partial"] = true
	return out
}
