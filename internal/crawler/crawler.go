// Package crawler finds and extracts product data from the open web,
// preferring cached content and official sources over paid fetches.
package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/spirits-cli/internal/budget"
	"github.com/sells-group/spirits-cli/internal/domains"
	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/pkg/extractor"
	"github.com/sells-group/spirits-cli/pkg/scrapingbee"
	"github.com/sells-group/spirits-cli/pkg/serpapi"
)

const (
	// DefaultMatchThreshold accepts an extraction outright.
	DefaultMatchThreshold = 0.6
	// PartialMatchThreshold returns a needs-review partial result.
	PartialMatchThreshold = 0.4
	// DefaultMaxSources bounds a multi-source merge.
	DefaultMaxSources = 3
)

// SourceCache is the slice of the store the crawler needs.
type SourceCache interface {
	GetCrawledSource(ctx context.Context, url string) (*model.CrawledSource, error)
	UpsertCrawledSource(ctx context.Context, src *model.CrawledSource) error
}

// Request asks for one product's data.
type Request struct {
	ExpectedName string
	ProductType  model.ProductType
	SeedURL      string
	// AwardInfo is merged into the extracted awards list when set.
	AwardInfo map[string]any
}

// Conflict records a scalar disagreement between merged sources.
type Conflict struct {
	Field  string          `json:"field"`
	Values []ConflictValue `json:"values"`
	Chosen any             `json:"chosen"`
	Reason string          `json:"reason"`
}

// ConflictValue is one source's vote in a conflict.
type ConflictValue struct {
	Source string `json:"source"`
	Value  any    `json:"value"`
}

// Result is one extraction outcome, possibly merged across sources.
type Result struct {
	Success          bool
	Data             map[string]any
	Confidences      map[string]float64
	SourceURL        string
	SourceType       model.SourceType
	NameMatchScore   float64
	NeedsReview      bool
	ReviewReasons    []string
	Errors           []string
	Conflicts        []Conflict
	ScrapingBeeCalls int
	AICalls          int
	SourcesUsed      int
}

// Crawler extracts product data cache-first, budget-aware.
type Crawler struct {
	cache     SourceCache
	fetcher   scrapingbee.Client
	extractor extractor.Client
	searcher  serpapi.Client
	registry  *domains.Registry
	budget    *budget.Tracker
	threshold float64
	logger    *zap.Logger
}

// New creates a crawler over the given clients.
func New(cache SourceCache, fetcher scrapingbee.Client, ex extractor.Client, searcher serpapi.Client, registry *domains.Registry, tracker *budget.Tracker) *Crawler {
	return &Crawler{
		cache:     cache,
		fetcher:   fetcher,
		extractor: ex,
		searcher:  searcher,
		registry:  registry,
		budget:    tracker,
		threshold: DefaultMatchThreshold,
		logger:    zap.L().With(zap.String("component", "crawler")),
	}
}

// WithThreshold overrides the accept threshold, used in tests.
func (c *Crawler) WithThreshold(t float64) *Crawler {
	c.threshold = t
	return c
}

type fetchedPage struct {
	content    string
	sourceType model.SourceType
	fromCache  bool
	// membersOnly pages are unusable; the caller refunds the search
	// that surfaced them.
	membersOnly bool
}

// fetchPage returns usable page content, consulting the cache before
// spending a proxy call.
func (c *Crawler) fetchPage(ctx context.Context, url string, res *Result) (*fetchedPage, error) {
	sourceType := c.sourceType(url)

	if cached, err := c.cache.GetCrawledSource(ctx, url); err == nil && cached.Cacheable() {
		return &fetchedPage{content: cached.RawContent, sourceType: cached.SourceType, fromCache: true}, nil
	}

	fetched, err := c.fetcher.Fetch(ctx, url, scrapingbee.FetchOptions{RenderJS: true})
	if err != nil {
		return nil, eris.Wrapf(err, "crawler: fetch %s", url)
	}
	res.ScrapingBeeCalls++

	if domains.MembersOnly(fetched.StatusCode, fetched.Body) {
		c.budget.Blacklist(domains.Domain(url))
		return &fetchedPage{membersOnly: true, sourceType: sourceType}, nil
	}
	if fetched.StatusCode >= 400 {
		return nil, eris.Errorf("crawler: fetch %s returned status %d", url, fetched.StatusCode)
	}

	content := fetched.Body
	if len(content) > model.MaxCachedContentBytes {
		content = content[:model.MaxCachedContentBytes]
	}
	hash := sha256.Sum256([]byte(content))
	src := &model.CrawledSource{
		URL:              url,
		Title:            pageTitle(content, url),
		RawContent:       content,
		ContentHash:      hex.EncodeToString(hash[:]),
		SourceType:       sourceType,
		ExtractionStatus: model.ExtractionPending,
	}
	if err := c.cache.UpsertCrawledSource(ctx, src); err != nil {
		c.logger.Warn("cache upsert failed", zap.String("url", url), zap.Error(err))
	}
	return &fetchedPage{content: content, sourceType: sourceType}, nil
}

func (c *Crawler) sourceType(url string) model.SourceType {
	switch {
	case c.registry.Official(url):
		return model.SourceOfficial
	case c.registry.Retailer(url):
		return model.SourceRetailer
	case c.registry.Review(url):
		return model.SourceReview
	case c.registry.Competition(url):
		return model.SourceCompetition
	default:
		return model.SourceOther
	}
}

// markExtracted updates the cache row's extraction status after an
// extractor call.
func (c *Crawler) markExtracted(ctx context.Context, url string, status model.ExtractionStatus, lastError string) {
	cached, err := c.cache.GetCrawledSource(ctx, url)
	if err != nil {
		return
	}
	cached.ExtractionStatus = status
	cached.LastError = lastError
	if err := c.cache.UpsertCrawledSource(ctx, cached); err != nil {
		c.logger.Warn("cache status update failed", zap.String("url", url), zap.Error(err))
	}
}

type attempt struct {
	url        string
	data       map[string]any
	confs      map[string]float64
	sourceType model.SourceType
	score      float64
}

// tryURL fetches and extracts one URL, scoring the name match. A nil
// attempt with nil error means the URL was unusable (members-only).
func (c *Crawler) tryURL(ctx context.Context, url string, req *Request, res *Result, fromSearch bool) (*attempt, error) {
	page, err := c.fetchPage(ctx, url, res)
	if err != nil {
		return nil, err
	}
	if page.membersOnly {
		if fromSearch {
			c.budget.RefundSearch(req.ExpectedName)
		}
		return nil, nil
	}

	resp, err := c.extractor.Extract(ctx, &extractor.ExtractRequest{
		URL:         url,
		Content:     TrimContent(page.content),
		ProductType: string(req.ProductType),
		ProductName: req.ExpectedName,
		SourceType:  string(page.sourceType),
	})
	if err != nil {
		c.markExtracted(ctx, url, model.ExtractionFailed, err.Error())
		return nil, err
	}
	res.AICalls++

	switch resp.Kind {
	case extractor.KindSingle:
		extracted, _ := resp.Single.Fields["name"].(string)
		score := NameMatchScore(req.ExpectedName, extracted)
		status := model.ExtractionProcessed
		if score < c.threshold {
			status = model.ExtractionNeedsReview
		}
		c.markExtracted(ctx, url, status, "")
		return &attempt{
			url:        url,
			data:       resp.Single.Fields,
			confs:      resp.Single.Confidences,
			sourceType: page.sourceType,
			score:      score,
		}, nil
	case extractor.KindMulti:
		// A product page that came back as a list; take the best
		// name match among its entries.
		best := &attempt{url: url, sourceType: page.sourceType}
		for _, p := range resp.Multi {
			name := p.Name
			if name == "" {
				name, _ = p.Fields["name"].(string)
			}
			if s := NameMatchScore(req.ExpectedName, name); s > best.score {
				best.data = p.Fields
				best.confs = p.Confidences
				best.score = s
			}
		}
		if best.data == nil {
			c.markExtracted(ctx, url, model.ExtractionNeedsReview, "")
			return nil, eris.Errorf("crawler: no matching entry on %s", url)
		}
		c.markExtracted(ctx, url, model.ExtractionProcessed, "")
		return best, nil
	default:
		c.markExtracted(ctx, url, model.ExtractionFailed, resp.Failure.Error)
		return nil, eris.Errorf("crawler: extraction failed for %s: %s", url, resp.Failure.Error)
	}
}

// searchCandidates runs one search and returns usable URLs in source
// preference order.
func (c *Crawler) searchCandidates(ctx context.Context, req *Request, res *Result, tried map[string]bool) ([]string, error) {
	c.budget.RecordSearch(req.ExpectedName)
	resp, err := c.searcher.Search(ctx, req.ExpectedName, 10)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: search")
	}

	type ranked struct {
		url  string
		pref int
		rank int
	}
	var out []ranked
	for i, r := range resp.OrganicResults {
		if r.Link == "" || tried[r.Link] {
			continue
		}
		if c.registry.Skip(r.Link) || c.registry.Competition(r.Link) {
			continue
		}
		if c.budget.Blacklisted(domains.Domain(r.Link)) {
			continue
		}
		out = append(out, ranked{url: r.Link, pref: c.registry.SourcePreference(r.Link), rank: i})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].pref != out[j].pref {
			return out[i].pref > out[j].pref
		}
		return out[i].rank < out[j].rank
	})
	urls := make([]string, len(out))
	for i, r := range out {
		urls[i] = r.url
	}
	return urls, nil
}

// ExtractProduct finds one product from a seed URL or a search,
// accepting the first source whose name match clears the threshold.
func (c *Crawler) ExtractProduct(ctx context.Context, req *Request) *Result {
	res := &Result{SourcesUsed: 1}
	tried := make(map[string]bool)
	var best *attempt

	consider := func(a *attempt) bool {
		if a == nil {
			return false
		}
		if best == nil || a.score > best.score {
			best = a
		}
		return a.score >= c.threshold
	}

	runQueue := func(urls []string, fromSearch bool) bool {
		for _, url := range urls {
			if tried[url] {
				continue
			}
			if ok, reason := c.budget.CanContinue(req.ExpectedName); !ok {
				res.Errors = append(res.Errors, reason)
				return false
			}
			tried[url] = true
			c.budget.RecordURL(req.ExpectedName)
			a, err := c.tryURL(ctx, url, req, res, fromSearch)
			if err != nil {
				res.Errors = append(res.Errors, err.Error())
				continue
			}
			if consider(a) {
				return true
			}
		}
		return false
	}

	accepted := false
	if req.SeedURL != "" && !c.registry.Skip(req.SeedURL) && !c.registry.Competition(req.SeedURL) {
		accepted = runQueue([]string{req.SeedURL}, false)
	}
	for !accepted {
		if ok, reason := c.budget.CanContinue(req.ExpectedName); !ok {
			res.Errors = append(res.Errors, reason)
			break
		}
		urls, err := c.searchCandidates(ctx, req, res, tried)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			break
		}
		if len(urls) == 0 {
			break
		}
		accepted = runQueue(urls, true)
	}

	if best == nil {
		return res
	}

	res.Data = best.data
	res.Confidences = best.confs
	res.SourceURL = best.url
	res.SourceType = best.sourceType
	res.NameMatchScore = best.score

	switch {
	case best.score >= c.threshold:
		res.Success = true
	case best.score >= PartialMatchThreshold:
		res.Success = true
		res.NeedsReview = true
		res.ReviewReasons = append(res.ReviewReasons,
			fmt.Sprintf("Name match score %.2f below threshold %.2f", best.score, c.threshold))
	default:
		res.Data = nil
		res.Confidences = nil
		res.Success = false
	}

	if res.Success && req.AwardInfo != nil {
		res.Data = mergeAwardInfo(res.Data, req.AwardInfo)
	}
	return res
}

// FetchListPage returns page content for list-page extraction,
// cache-first like any other fetch, plus whether a paid fetch happened.
func (c *Crawler) FetchListPage(ctx context.Context, url string) (string, bool, error) {
	res := &Result{}
	page, err := c.fetchPage(ctx, url, res)
	if err != nil {
		return "", res.ScrapingBeeCalls > 0, err
	}
	if page.membersOnly {
		return "", res.ScrapingBeeCalls > 0, eris.Errorf("crawler: list page %s is members-only", url)
	}
	return page.content, res.ScrapingBeeCalls > 0, nil
}

// ExtractFromURL extracts from exactly one URL with no search
// fallback, used by the verification pipeline.
func (c *Crawler) ExtractFromURL(ctx context.Context, req *Request, url string) *Result {
	res := &Result{SourcesUsed: 1}
	if c.registry.Skip(url) || c.registry.Competition(url) {
		res.Errors = append(res.Errors, fmt.Sprintf("crawler: url not extractable: %s", url))
		return res
	}
	if ok, reason := c.budget.CanContinue(req.ExpectedName); !ok {
		res.Errors = append(res.Errors, reason)
		return res
	}
	c.budget.RecordURL(req.ExpectedName)
	a, err := c.tryURL(ctx, url, req, res, false)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	if a == nil {
		return res
	}

	res.Data = a.data
	res.Confidences = a.confs
	res.SourceURL = a.url
	res.SourceType = a.sourceType
	res.NameMatchScore = a.score
	switch {
	case a.score >= c.threshold:
		res.Success = true
	case a.score >= PartialMatchThreshold:
		res.Success = true
		res.NeedsReview = true
		res.ReviewReasons = append(res.ReviewReasons,
			fmt.Sprintf("Name match score %.2f below threshold %.2f", a.score, c.threshold))
	default:
		res.Data = nil
		res.Confidences = nil
	}
	return res
}

// ExtractProductMultiSource collects up to maxSources accepted
// extractions and merges them field by field.
func (c *Crawler) ExtractProductMultiSource(ctx context.Context, req *Request, maxSources int) *Result {
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	res := &Result{}
	tried := make(map[string]bool)
	var accepted []*attempt

	collect := func(urls []string, fromSearch bool) {
		for _, url := range urls {
			if len(accepted) >= maxSources || tried[url] {
				continue
			}
			if ok, reason := c.budget.CanContinue(req.ExpectedName); !ok {
				res.Errors = append(res.Errors, reason)
				return
			}
			tried[url] = true
			c.budget.RecordURL(req.ExpectedName)
			a, err := c.tryURL(ctx, url, req, res, fromSearch)
			if err != nil {
				res.Errors = append(res.Errors, err.Error())
				continue
			}
			if a != nil && a.score >= c.threshold {
				accepted = append(accepted, a)
			}
		}
	}

	if req.SeedURL != "" && !c.registry.Skip(req.SeedURL) && !c.registry.Competition(req.SeedURL) {
		collect([]string{req.SeedURL}, false)
	}
	for len(accepted) < maxSources {
		if ok, reason := c.budget.CanContinue(req.ExpectedName); !ok {
			res.Errors = append(res.Errors, reason)
			break
		}
		urls, err := c.searchCandidates(ctx, req, res, tried)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			break
		}
		if len(urls) == 0 {
			break
		}
		before := len(accepted)
		collect(urls, true)
		if len(accepted) == before {
			break
		}
	}

	if len(accepted) == 0 {
		return res
	}

	merged, confs, conflicts := mergeSources(accepted)
	res.Success = true
	res.Data = merged
	res.Confidences = confs
	res.SourceURL = accepted[0].url
	res.SourceType = accepted[0].sourceType
	res.NameMatchScore = accepted[0].score
	res.Conflicts = conflicts
	res.NeedsReview = len(conflicts) > 0
	res.SourcesUsed = len(accepted)

	if req.AwardInfo != nil {
		res.Data = mergeAwardInfo(res.Data, req.AwardInfo)
	}
	return res
}
