package writer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/internal/store"
)

func newTestWriter(t *testing.T) (*Writer, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "writer_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, nil), st
}

func baseData() map[string]any {
	return map[string]any{
		"name":     "Ardbeg Uigeadail",
		"brand":    "Ardbeg",
		"category": "single malt scotch whisky",
		"abv":      "54.2%",
		"country":  "Scotland",
		"region":   "Islay",
	}
}

func TestWrite_InvalidProductType(t *testing.T) {
	w, _ := newTestWriter(t)

	for _, pt := range []model.ProductType{"", "unknown", "wine", "gin"} {
		res := w.Write(context.Background(), &Request{
			Data:        baseData(),
			ProductType: pt,
		})
		assert.False(t, res.Created)
		assert.Nil(t, res.Product)
		assert.Equal(t, "invalid product type: "+string(pt), res.Error)
	}
}

func TestWrite_CreatesProduct(t *testing.T) {
	w, st := newTestWriter(t)

	res := w.Write(context.Background(), &Request{
		Data:            baseData(),
		SourceURL:       "https://ardbeg.com/uigeadail",
		ProductType:     model.ProductTypeWhiskey,
		DiscoverySource: "scheduled_search",
		SourceType:      model.SourceOfficial,
	})

	require.Empty(t, res.Error)
	require.True(t, res.Created)
	require.NotNil(t, res.Product)
	assert.NotEmpty(t, res.Product.ID)
	assert.Len(t, res.Product.Fingerprint, 64)
	assert.Equal(t, "Ardbeg Uigeadail", res.Product.Name)
	require.NotNil(t, res.Product.ABV)
	assert.Equal(t, 54.2, *res.Product.ABV)
	assert.NotEmpty(t, res.Product.BrandID)
	assert.Greater(t, res.Product.ECPTotal, 0.0)
	assert.NotEqual(t, model.ProductStatus(""), res.Product.Status)

	got, err := st.GetProduct(context.Background(), res.Product.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Product.Fingerprint, got.Fingerprint)
	assert.Equal(t, "https://ardbeg.com/uigeadail", got.SourceURL)
}

func TestWrite_DedupBySourceURL(t *testing.T) {
	w, _ := newTestWriter(t)
	url := "https://ardbeg.com/uigeadail"

	first := w.Write(context.Background(), &Request{
		Data: baseData(), SourceURL: url, ProductType: model.ProductTypeWhiskey,
	})
	require.True(t, first.Created)

	data := baseData()
	data["description"] = "A peated Islay classic."
	second := w.Write(context.Background(), &Request{
		Data: data, SourceURL: url, ProductType: model.ProductTypeWhiskey,
	})

	require.Empty(t, second.Error)
	assert.False(t, second.Created)
	assert.Equal(t, first.Product.ID, second.Product.ID)
	assert.Equal(t, "A peated Islay classic.", second.Product.Description)
}

func TestWrite_DedupByFingerprint(t *testing.T) {
	w, _ := newTestWriter(t)

	first := w.Write(context.Background(), &Request{
		Data: baseData(), SourceURL: "https://a.com/1", ProductType: model.ProductTypeWhiskey,
	})
	require.True(t, first.Created)

	// Same identity attributes from a different URL.
	second := w.Write(context.Background(), &Request{
		Data: baseData(), SourceURL: "https://b.com/2", ProductType: model.ProductTypeWhiskey,
	})

	assert.False(t, second.Created)
	assert.Equal(t, first.Product.ID, second.Product.ID)
}

func TestWrite_DedupByFuzzyName(t *testing.T) {
	w, _ := newTestWriter(t)

	first := w.Write(context.Background(), &Request{
		Data:        map[string]any{"name": "Graham's Quinta dos Malvedos Vintage", "abv": 20.0},
		ProductType: model.ProductTypePortWine,
	})
	require.True(t, first.Created)

	// Different ABV changes the fingerprint; the year-stripped token
	// set still matches.
	second := w.Write(context.Background(), &Request{
		Data:        map[string]any{"name": "Graham's Quinta dos Malvedos Vintage 2018", "abv": 19.5},
		ProductType: model.ProductTypePortWine,
	})

	assert.False(t, second.Created)
	assert.Equal(t, first.Product.ID, second.Product.ID)
}

func TestWrite_SkipDedupForcesCreate(t *testing.T) {
	w, _ := newTestWriter(t)

	first := w.Write(context.Background(), &Request{
		Data: baseData(), ProductType: model.ProductTypeWhiskey,
	})
	require.True(t, first.Created)

	// A second identical write without dedup hits the fingerprint
	// uniqueness constraint and falls back to the update path.
	second := w.Write(context.Background(), &Request{
		Data: baseData(), ProductType: model.ProductTypeWhiskey, SkipDedup: true,
	})
	require.Empty(t, second.Error)
	assert.False(t, second.Created)
	assert.Equal(t, first.Product.ID, second.Product.ID)
}

func TestWrite_UpdateFillsOnlyEmptyColumns(t *testing.T) {
	w, _ := newTestWriter(t)
	url := "https://ardbeg.com/uigeadail"

	first := w.Write(context.Background(), &Request{
		Data: baseData(), SourceURL: url, ProductType: model.ProductTypeWhiskey,
	})
	require.True(t, first.Created)

	data := baseData()
	data["region"] = "Speyside" // conflicting value, must not overwrite
	data["description"] = "fills the gap"
	second := w.Write(context.Background(), &Request{
		Data: data, SourceURL: url, ProductType: model.ProductTypeWhiskey,
	})

	require.Empty(t, second.Error)
	assert.Equal(t, "Islay", second.Product.Region)
	assert.Equal(t, "fills the gap", second.Product.Description)
}

func TestWrite_ListFieldsAppendWithoutDuplicates(t *testing.T) {
	w, _ := newTestWriter(t)
	url := "https://ardbeg.com/uigeadail"

	data := baseData()
	data["palate_flavors"] = []any{"smoke", "honey"}
	first := w.Write(context.Background(), &Request{
		Data: data, SourceURL: url, ProductType: model.ProductTypeWhiskey,
	})
	require.True(t, first.Created)

	data2 := baseData()
	data2["palate_flavors"] = []any{"honey", "raisin"}
	second := w.Write(context.Background(), &Request{
		Data: data2, SourceURL: url, ProductType: model.ProductTypeWhiskey,
	})

	require.Empty(t, second.Error)
	flavors := second.Product.Fields["palate_flavors"].([]any)
	assert.Equal(t, []any{"smoke", "honey", "raisin"}, flavors)
}

func TestWrite_StatusNeverDowngrades(t *testing.T) {
	w, _ := newTestWriter(t)
	url := "https://ardbeg.com/uigeadail"

	rich := baseData()
	rich["description"] = "desc"
	rich["nose_description"] = "smoke"
	rich["palate_description"] = "sweet peat"
	rich["finish_description"] = "long"
	rich["palate_flavors"] = []any{"smoke"}
	rich["primary_cask"] = "bourbon"
	first := w.Write(context.Background(), &Request{
		Data: rich, SourceURL: url, ProductType: model.ProductTypeWhiskey,
	})
	require.True(t, first.Created)
	firstRank := first.Product.Status.Rank()

	// A thin re-crawl of the same URL must not pull the status down.
	second := w.Write(context.Background(), &Request{
		Data: map[string]any{"name": "Ardbeg Uigeadail"}, SourceURL: url,
		ProductType: model.ProductTypeWhiskey,
	})

	require.Empty(t, second.Error)
	assert.GreaterOrEqual(t, second.Product.Status.Rank(), firstRank)
}

func TestWrite_RejectedWithoutName(t *testing.T) {
	w, _ := newTestWriter(t)

	res := w.Write(context.Background(), &Request{
		Data:        map[string]any{"abv": 40.0},
		ProductType: model.ProductTypeWhiskey,
	})

	require.Empty(t, res.Error)
	require.True(t, res.Created)
	assert.Equal(t, model.StatusRejected, res.Product.Status)
}

type recordingDispatcher struct {
	productIDs []string
}

func (d *recordingDispatcher) QueueVerification(_ context.Context, productID string) error {
	d.productIDs = append(d.productIDs, productID)
	return nil
}

func TestWrite_EnrichDispatchesVerification(t *testing.T) {
	_, st := newTestWriter(t)
	d := &recordingDispatcher{}
	w := New(st, d)

	res := w.Write(context.Background(), &Request{
		Data: baseData(), ProductType: model.ProductTypeWhiskey, Enrich: true,
	})

	require.Empty(t, res.Error)
	require.Len(t, d.productIDs, 1)
	assert.Equal(t, res.Product.ID, d.productIDs[0])
}

func TestWrite_LowConfidenceFieldNotCounted(t *testing.T) {
	w, _ := newTestWriter(t)

	data := baseData()
	res := w.Write(context.Background(), &Request{
		Data:        data,
		ProductType: model.ProductTypeWhiskey,
		Confidences: map[string]float64{"region": 0.2},
	})

	require.Empty(t, res.Error)
	// The region value persists but does not count toward the gate.
	assert.Equal(t, "Islay", res.Product.Region)
}
