package crawler

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/spirits-cli/internal/budget"
	"github.com/sells-group/spirits-cli/internal/domains"
	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/pkg/extractor"
	"github.com/sells-group/spirits-cli/pkg/scrapingbee"
	"github.com/sells-group/spirits-cli/pkg/serpapi"
)

type fakeCache struct {
	sources map[string]*model.CrawledSource
}

func newFakeCache() *fakeCache {
	return &fakeCache{sources: make(map[string]*model.CrawledSource)}
}

func (f *fakeCache) GetCrawledSource(_ context.Context, url string) (*model.CrawledSource, error) {
	if s, ok := f.sources[url]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, eris.New("fake: not found")
}

func (f *fakeCache) UpsertCrawledSource(_ context.Context, src *model.CrawledSource) error {
	cp := *src
	f.sources[src.URL] = &cp
	return nil
}

type fakeFetcher struct {
	pages map[string]*scrapingbee.FetchResult
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string, _ scrapingbee.FetchOptions) (*scrapingbee.FetchResult, error) {
	f.calls = append(f.calls, pageURL)
	if r, ok := f.pages[pageURL]; ok {
		return r, nil
	}
	return &scrapingbee.FetchResult{StatusCode: 404, Body: ""}, nil
}

type fakeExtractor struct {
	responses map[string]*extractor.ExtractResponse
	calls     int
}

func (f *fakeExtractor) Extract(_ context.Context, req *extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
	f.calls++
	if r, ok := f.responses[req.URL]; ok {
		return r, nil
	}
	return nil, eris.New("fake: no response configured")
}

type fakeSearcher struct {
	results []serpapi.OrganicResult
	calls   int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ int) (*serpapi.SearchResponse, error) {
	f.calls++
	return &serpapi.SearchResponse{OrganicResults: f.results}, nil
}

func singleResponse(fields map[string]any) *extractor.ExtractResponse {
	return &extractor.ExtractResponse{
		Kind:   extractor.KindSingle,
		Single: &extractor.Extraction{Fields: fields, Confidences: map[string]float64{}},
	}
}

type crawlerFixture struct {
	crawler   *Crawler
	cache     *fakeCache
	fetcher   *fakeFetcher
	extractor *fakeExtractor
	searcher  *fakeSearcher
	budget    *budget.Tracker
}

func newFixture() *crawlerFixture {
	f := &crawlerFixture{
		cache:     newFakeCache(),
		fetcher:   &fakeFetcher{pages: make(map[string]*scrapingbee.FetchResult)},
		extractor: &fakeExtractor{responses: make(map[string]*extractor.ExtractResponse)},
		searcher:  &fakeSearcher{},
		budget:    budget.NewTracker(budget.DefaultLimits()),
	}
	f.crawler = New(f.cache, f.fetcher, f.extractor, f.searcher, domains.NewRegistry(domains.Config{}), f.budget)
	return f
}

func TestExtractProduct_SeedURLSuccess(t *testing.T) {
	f := newFixture()
	seed := "https://ardbeg.com/whisky/uigeadail"
	f.fetcher.pages[seed] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html><title>Uigeadail</title></html>"}
	f.extractor.responses[seed] = singleResponse(map[string]any{"name": "Ardbeg Uigeadail", "abv": 54.2})

	res := f.crawler.ExtractProduct(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
		SeedURL:      seed,
	})

	require.True(t, res.Success)
	assert.False(t, res.NeedsReview)
	assert.Equal(t, seed, res.SourceURL)
	assert.Equal(t, model.SourceOfficial, res.SourceType)
	assert.Equal(t, 1.0, res.NameMatchScore)
	assert.Equal(t, 1, res.ScrapingBeeCalls)
	assert.Equal(t, 1, res.AICalls)
	assert.Zero(t, f.searcher.calls)

	// The fetched page landed in the cache.
	cached, err := f.cache.GetCrawledSource(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionProcessed, cached.ExtractionStatus)
	assert.NotEmpty(t, cached.ContentHash)
}

func TestExtractProduct_CacheHitSkipsFetch(t *testing.T) {
	f := newFixture()
	url := "https://masterofmalt.com/whiskies/ardbeg/uigeadail"
	f.cache.sources[url] = &model.CrawledSource{
		URL:              url,
		RawContent:       "<html>cached</html>",
		SourceType:       model.SourceRetailer,
		ExtractionStatus: model.ExtractionProcessed,
	}
	f.extractor.responses[url] = singleResponse(map[string]any{"name": "Ardbeg Uigeadail"})

	res := f.crawler.ExtractProduct(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
		SeedURL:      url,
	})

	require.True(t, res.Success)
	assert.Empty(t, f.fetcher.calls)
	assert.Zero(t, res.ScrapingBeeCalls)
	assert.Equal(t, model.SourceRetailer, res.SourceType)
}

func TestExtractProduct_SearchFallbackPrefersOfficial(t *testing.T) {
	f := newFixture()
	official := "https://ardbeg.com/whisky/uigeadail"
	retailer := "https://masterofmalt.com/whiskies/ardbeg-uigeadail"
	f.searcher.results = []serpapi.OrganicResult{
		{Link: retailer, Title: "Ardbeg Uigeadail - Master of Malt"},
		{Link: "https://reddit.com/r/scotch/uigeadail", Title: "review thread"},
		{Link: official, Title: "Uigeadail | Ardbeg"},
	}
	f.fetcher.pages[official] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>ok</html>"}
	f.extractor.responses[official] = singleResponse(map[string]any{"name": "Ardbeg Uigeadail"})

	res := f.crawler.ExtractProduct(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
	})

	require.True(t, res.Success)
	assert.Equal(t, official, res.SourceURL)
	// Official outranks the retailer, and the reddit link is skipped.
	require.NotEmpty(t, f.fetcher.calls)
	assert.Equal(t, official, f.fetcher.calls[0])
	assert.Equal(t, 1, f.searcher.calls)
}

func TestExtractProduct_PartialMatchNeedsReview(t *testing.T) {
	f := newFixture()
	seed := "https://masterofmalt.com/whiskies/ardbeg"
	f.fetcher.pages[seed] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>ok</html>"}
	f.extractor.responses[seed] = singleResponse(map[string]any{"name": "Ardbeg Corryvreckan"})

	// Keep the crawler on the seed only.
	f.budget = budget.NewTracker(budget.Limits{MaxURLsPerProduct: 1})
	f.crawler = New(f.cache, f.fetcher, f.extractor, f.searcher, domains.NewRegistry(domains.Config{}), f.budget)

	res := f.crawler.ExtractProduct(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
		SeedURL:      seed,
	})

	require.True(t, res.Success)
	assert.True(t, res.NeedsReview)
	assert.Equal(t, 0.5, res.NameMatchScore)
	require.Len(t, res.ReviewReasons, 1)
	assert.Equal(t, "Name match score 0.50 below threshold 0.60", res.ReviewReasons[0])
}

func TestExtractProduct_MatchAtThresholdAccepted(t *testing.T) {
	f := newFixture()
	seed := "https://ardbeg.com/whisky/an-oa"
	f.fetcher.pages[seed] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>ok</html>"}
	// 3 of 7 normalized tokens line up: score is exactly 2*3/(3+7) = 0.60.
	f.extractor.responses[seed] = singleResponse(map[string]any{"name": "Ardbeg An Oa The Ultimate Islay Experience"})

	res := f.crawler.ExtractProduct(context.Background(), &Request{
		ExpectedName: "Ardbeg An Oa",
		ProductType:  model.ProductTypeWhiskey,
		SeedURL:      seed,
	})

	require.True(t, res.Success)
	assert.False(t, res.NeedsReview)
	assert.Equal(t, 0.6, res.NameMatchScore)
	assert.Empty(t, res.ReviewReasons)
	assert.Zero(t, f.searcher.calls)
}

func TestExtractProduct_NoMatchFails(t *testing.T) {
	f := newFixture()
	seed := "https://masterofmalt.com/port/fonseca"
	f.fetcher.pages[seed] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>ok</html>"}
	f.extractor.responses[seed] = singleResponse(map[string]any{"name": "Fonseca Bin 27"})

	f.budget = budget.NewTracker(budget.Limits{MaxURLsPerProduct: 1})
	f.crawler = New(f.cache, f.fetcher, f.extractor, f.searcher, domains.NewRegistry(domains.Config{}), f.budget)

	res := f.crawler.ExtractProduct(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
		SeedURL:      seed,
	})

	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
}

func TestExtractProduct_MembersOnlyBlacklistsAndRefunds(t *testing.T) {
	f := newFixture()
	// The official site outranks the retailer, so the gated page is
	// attempted first.
	gated := "https://ardbeg.com/whisky/uigeadail"
	open := "https://masterofmalt.com/whiskies/ardbeg-uigeadail"
	f.searcher.results = []serpapi.OrganicResult{
		{Link: open, Title: "shop"},
		{Link: gated, Title: "official"},
	}
	f.fetcher.pages[gated] = &scrapingbee.FetchResult{StatusCode: 403, Body: "members only"}
	f.fetcher.pages[open] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>ok</html>"}
	f.extractor.responses[open] = singleResponse(map[string]any{"name": "Ardbeg Uigeadail"})

	res := f.crawler.ExtractProduct(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
	})

	require.True(t, res.Success)
	assert.Equal(t, open, res.SourceURL)
	assert.True(t, f.budget.Blacklisted("ardbeg.com"))
}

func TestExtractProduct_BudgetExhaustedReportsReason(t *testing.T) {
	f := newFixture()
	f.budget = budget.NewTracker(budget.Limits{MaxSessionSources: 1})
	f.crawler = New(f.cache, f.fetcher, f.extractor, f.searcher, domains.NewRegistry(domains.Config{}), f.budget)

	seed := "https://masterofmalt.com/a"
	f.fetcher.pages[seed] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>ok</html>"}
	f.extractor.responses[seed] = singleResponse(map[string]any{"name": "Something Else Entirely"})

	res := f.crawler.ExtractProduct(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
		SeedURL:      seed,
	})

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[len(res.Errors)-1], "session source budget exceeded")
}

func TestExtractProduct_MultiEntryPagePicksBestName(t *testing.T) {
	f := newFixture()
	seed := "https://masterofmalt.com/whiskies/ardbeg"
	f.fetcher.pages[seed] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>list</html>"}
	f.extractor.responses[seed] = &extractor.ExtractResponse{
		Kind: extractor.KindMulti,
		Multi: []extractor.Extraction{
			{Name: "Ardbeg Corryvreckan", Fields: map[string]any{"name": "Ardbeg Corryvreckan"}},
			{Name: "Ardbeg Uigeadail", Fields: map[string]any{"name": "Ardbeg Uigeadail", "abv": 54.2}},
		},
	}

	res := f.crawler.ExtractProduct(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
		SeedURL:      seed,
	})

	require.True(t, res.Success)
	assert.Equal(t, "Ardbeg Uigeadail", res.Data["name"])
	assert.Equal(t, 54.2, res.Data["abv"])
}

func TestExtractProductMultiSource_MergesAcceptedSources(t *testing.T) {
	f := newFixture()
	official := "https://ardbeg.com/whisky/uigeadail"
	retailer := "https://masterofmalt.com/whiskies/ardbeg-uigeadail"
	f.searcher.results = []serpapi.OrganicResult{
		{Link: retailer, Title: "shop"},
		{Link: official, Title: "official"},
	}
	f.fetcher.pages[official] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>a</html>"}
	f.fetcher.pages[retailer] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>b</html>"}
	f.extractor.responses[official] = singleResponse(map[string]any{"name": "Ardbeg Uigeadail", "abv": 54.2})
	f.extractor.responses[retailer] = singleResponse(map[string]any{"name": "Ardbeg Uigeadail", "region": "Islay", "abv": 54.2})

	res := f.crawler.ExtractProductMultiSource(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
	}, 2)

	require.True(t, res.Success)
	assert.Equal(t, 2, res.SourcesUsed)
	// Official is primary; retailer fills the gap.
	assert.Equal(t, official, res.SourceURL)
	assert.Equal(t, 54.2, res.Data["abv"])
	assert.Equal(t, "Islay", res.Data["region"])
	assert.False(t, res.NeedsReview)
}

func TestExtractProductMultiSource_ConflictFlagsReview(t *testing.T) {
	f := newFixture()
	official := "https://ardbeg.com/whisky/uigeadail"
	retailer := "https://masterofmalt.com/whiskies/ardbeg-uigeadail"
	f.searcher.results = []serpapi.OrganicResult{
		{Link: official, Title: "official"},
		{Link: retailer, Title: "shop"},
	}
	f.fetcher.pages[official] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>a</html>"}
	f.fetcher.pages[retailer] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>b</html>"}
	f.extractor.responses[official] = singleResponse(map[string]any{"name": "Ardbeg Uigeadail", "abv": 54.2})
	f.extractor.responses[retailer] = singleResponse(map[string]any{"name": "Ardbeg Uigeadail", "abv": 54.5})

	res := f.crawler.ExtractProductMultiSource(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
	}, 2)

	require.True(t, res.Success)
	assert.True(t, res.NeedsReview)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "abv", res.Conflicts[0].Field)
	assert.Equal(t, 54.2, res.Conflicts[0].Chosen)
	assert.Equal(t, 54.2, res.Data["abv"])
}

func TestExtractProduct_AwardInfoMerged(t *testing.T) {
	f := newFixture()
	seed := "https://ardbeg.com/whisky/uigeadail"
	f.fetcher.pages[seed] = &scrapingbee.FetchResult{StatusCode: 200, Body: "<html>ok</html>"}
	f.extractor.responses[seed] = singleResponse(map[string]any{"name": "Ardbeg Uigeadail"})

	res := f.crawler.ExtractProduct(context.Background(), &Request{
		ExpectedName: "Ardbeg Uigeadail",
		ProductType:  model.ProductTypeWhiskey,
		SeedURL:      seed,
		AwardInfo:    map[string]any{"competition": "IWSC", "year": float64(2024), "medal": "Gold"},
	})

	require.True(t, res.Success)
	require.Len(t, res.Data["awards"], 1)
}
