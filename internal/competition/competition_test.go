package competition

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/spirits-cli/internal/domains"
	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/internal/store"
	"github.com/sells-group/spirits-cli/internal/writer"
	"github.com/sells-group/spirits-cli/pkg/extractor"
)

type fakeExtractor struct {
	resp *extractor.ExtractResponse
	err  error
	last *extractor.ExtractRequest
}

func (f *fakeExtractor) Extract(_ context.Context, req *extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
	f.last = req
	return f.resp, f.err
}

type fakeQueue struct {
	productIDs []string
}

func (f *fakeQueue) QueueEnrichment(_ context.Context, productID string) error {
	f.productIDs = append(f.productIDs, productID)
	return nil
}

type fixture struct {
	orch  *Orchestrator
	st    store.Store
	ex    *fakeExtractor
	queue *fakeQueue
	w     *writer.Writer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "competition_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	f := &fixture{
		st:    st,
		ex:    &fakeExtractor{},
		queue: &fakeQueue{},
		w:     writer.New(st, nil),
	}
	f.orch = New(st, f.ex, f.w, nil, domains.NewRegistry(domains.Config{}), f.queue)
	return f
}

func multiResponse(entries ...extractor.Extraction) *extractor.ExtractResponse {
	return &extractor.ExtractResponse{Kind: extractor.KindMulti, Multi: entries}
}

func TestNormalizeMedal(t *testing.T) {
	tests := []struct {
		raw       string
		wantMedal string
		wantScore float64
	}{
		{"Gold", "gold", 0},
		{"Double Gold Medal", "double gold", 0},
		{"Gold Outstanding", "gold outstanding", 0},
		{"Best in Class - Single Malt", "best in class", 0},
		{"95 points", "", 95},
		{"97.5 pts", "", 97.5},
		{"Commended", "commended", 0},
		{"", "", 0},
	}
	for _, tt := range tests {
		medal, score := normalizeMedal(tt.raw)
		assert.Equal(t, tt.wantMedal, medal, tt.raw)
		assert.Equal(t, tt.wantScore, score, tt.raw)
	}
}

func TestParseEntry(t *testing.T) {
	entry := &extractor.Extraction{
		Name: "Ardbeg Uigeadail",
		Fields: map[string]any{
			"medal":    "Double Gold",
			"category": "Single Malt Scotch 2025",
			"brand":    "Ardbeg",
		},
	}
	pa := parseEntry(entry, "IWSC", 0)

	require.NotNil(t, pa)
	assert.Equal(t, "Ardbeg Uigeadail", pa.Name)
	assert.Equal(t, "Ardbeg", pa.Brand)
	assert.Equal(t, "double gold", pa.Medal)
	assert.Equal(t, "IWSC", pa.Competition)
	assert.Equal(t, model.ProductTypeWhiskey, pa.ProductType)
	// Year falls back to the category string when the row has none.
	assert.Equal(t, 2025, pa.Year)
}

func TestParseEntry_PortTypeFromCategory(t *testing.T) {
	entry := &extractor.Extraction{
		Name:   "Graham's 20 Year Old Tawny",
		Fields: map[string]any{"category": "Port & Fortified Wine", "medal": "Gold"},
	}
	pa := parseEntry(entry, "Decanter World Wine Awards", 2024)

	require.NotNil(t, pa)
	assert.Equal(t, model.ProductTypePortWine, pa.ProductType)
	assert.Equal(t, 2024, pa.Year)
}

func TestParseEntry_NoNameSkipped(t *testing.T) {
	assert.Nil(t, parseEntry(&extractor.Extraction{Fields: map[string]any{"medal": "Gold"}}, "IWSC", 2025))
}

func TestRun_CreatesSkeletons(t *testing.T) {
	f := newFixture(t)
	f.ex.resp = multiResponse(
		extractor.Extraction{Name: "Ardbeg Uigeadail",
			Fields: map[string]any{"medal": "Gold", "brand": "Ardbeg"}},
		extractor.Extraction{Name: "Lagavulin 16",
			Fields: map[string]any{"medal": "Double Gold"}},
	)

	res := f.orch.Run(context.Background(), &Request{
		SourceContent: "<html>results</html>",
		SourceURL:     "https://iwsc.net/results/2025",
	})

	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.AwardsFound)
	assert.Equal(t, 2, res.SkeletonsCreated)
	assert.Zero(t, res.SkeletonsUpdated)
	require.Len(t, res.Awards, 2)
	assert.Equal(t, "IWSC", res.Awards[0].Competition)
	assert.Equal(t, 2025, res.Awards[0].Year)

	products, err := f.st.ListProductsByStatus(context.Background(), model.StatusSkeleton, 10)
	require.NoError(t, err)
	require.Len(t, products, 2)
	for _, p := range products {
		assert.Equal(t, "competition", p.DiscoverySource)
		awards, ok := p.Fields["awards"].([]any)
		require.True(t, ok)
		require.Len(t, awards, 1)
	}

	// Both skeletons queued for enrichment.
	assert.Len(t, f.queue.productIDs, 2)
}

func TestRun_AppendsAwardToExisting(t *testing.T) {
	f := newFixture(t)
	seeded := f.w.Write(context.Background(), &writer.Request{
		Data: map[string]any{
			"name": "Ardbeg Uigeadail", "brand": "Ardbeg",
			"awards": []any{map[string]any{"competition": "IWSC", "year": 2024, "medal": "silver"}},
		},
		ProductType: model.ProductTypeWhiskey,
	})
	require.Empty(t, seeded.Error)

	f.ex.resp = multiResponse(extractor.Extraction{
		Name:   "Ardbeg Uigeadail",
		Fields: map[string]any{"medal": "Gold"},
	})

	res := f.orch.Run(context.Background(), &Request{
		SourceContent: "<html>results</html>",
		SourceURL:     "https://iwsc.net/results/2025",
	})

	assert.Empty(t, res.Errors)
	assert.Zero(t, res.SkeletonsCreated)
	assert.Equal(t, 1, res.SkeletonsUpdated)

	got, err := f.st.GetProduct(context.Background(), seeded.Product.ID)
	require.NoError(t, err)
	awards, ok := got.Fields["awards"].([]any)
	require.True(t, ok)
	assert.Len(t, awards, 2)
}

func TestRun_DuplicateCompetitionYearSkipped(t *testing.T) {
	f := newFixture(t)
	seeded := f.w.Write(context.Background(), &writer.Request{
		Data: map[string]any{
			"name":   "Ardbeg Uigeadail",
			"awards": []any{map[string]any{"competition": "IWSC", "year": 2025, "medal": "gold"}},
		},
		ProductType: model.ProductTypeWhiskey,
	})
	require.Empty(t, seeded.Error)

	f.ex.resp = multiResponse(extractor.Extraction{
		Name:   "Ardbeg Uigeadail",
		Fields: map[string]any{"medal": "Gold"},
	})

	res := f.orch.Run(context.Background(), &Request{
		SourceContent: "<html>results</html>",
		SourceURL:     "https://iwsc.net/results/2025",
	})

	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.AwardsFound)
	assert.Zero(t, res.SkeletonsCreated)
	assert.Zero(t, res.SkeletonsUpdated)

	got, err := f.st.GetProduct(context.Background(), seeded.Product.ID)
	require.NoError(t, err)
	awards, ok := got.Fields["awards"].([]any)
	require.True(t, ok)
	assert.Len(t, awards, 1)
}

func TestRun_ProductTypeFilter(t *testing.T) {
	f := newFixture(t)
	f.ex.resp = multiResponse(
		extractor.Extraction{Name: "Ardbeg Uigeadail",
			Fields: map[string]any{"category": "Single Malt Scotch"}},
		extractor.Extraction{Name: "Graham's 20 Year Old Tawny",
			Fields: map[string]any{"category": "Port"}},
	)

	res := f.orch.Run(context.Background(), &Request{
		SourceContent: "<html>results</html>",
		SourceURL:     "https://iwsc.net/results/2025",
		ProductTypes:  []model.ProductType{model.ProductTypePortWine},
	})

	assert.Equal(t, 1, res.AwardsFound)
	require.Len(t, res.Awards, 1)
	assert.Equal(t, "Graham's 20 Year Old Tawny", res.Awards[0].Name)
}

func TestRun_MaxResultsCap(t *testing.T) {
	f := newFixture(t)
	f.ex.resp = multiResponse(
		extractor.Extraction{Name: "Ardbeg Uigeadail", Fields: map[string]any{"medal": "Gold"}},
		extractor.Extraction{Name: "Lagavulin 16", Fields: map[string]any{"medal": "Gold"}},
		extractor.Extraction{Name: "Laphroaig 10", Fields: map[string]any{"medal": "Gold"}},
	)

	res := f.orch.Run(context.Background(), &Request{
		SourceContent: "<html>results</html>",
		SourceURL:     "https://iwsc.net/results/2025",
		MaxResults:    2,
	})

	assert.Equal(t, 2, res.AwardsFound)
	assert.Equal(t, 2, res.SkeletonsCreated)
}

func TestRun_ExtractionFailure(t *testing.T) {
	f := newFixture(t)
	f.ex.resp = &extractor.ExtractResponse{
		Kind:    extractor.KindFailure,
		Failure: &extractor.FailureResult{Error: "no table found"},
	}

	res := f.orch.Run(context.Background(), &Request{
		SourceContent: "<html>garbage</html>",
		SourceURL:     "https://iwsc.net/results/2025",
	})

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "no table found")
	assert.Zero(t, res.AwardsFound)
}

func TestRun_UnknownDomainUsesDomainName(t *testing.T) {
	f := newFixture(t)
	f.ex.resp = multiResponse(extractor.Extraction{
		Name:   "Highland Park 12",
		Fields: map[string]any{"medal": "Gold"},
	})

	res := f.orch.Run(context.Background(), &Request{
		SourceContent: "<html>results</html>",
		SourceURL:     "https://obscure-spirits-comp.example/winners-2023",
	})

	require.Len(t, res.Awards, 1)
	assert.Equal(t, "obscure-spirits-comp.example", res.Awards[0].Competition)
	assert.Equal(t, 2023, res.Awards[0].Year)
}
