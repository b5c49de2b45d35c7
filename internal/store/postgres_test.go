package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/spirits-cli/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgres_GetProduct_NotFound(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery("FROM products WHERE id =").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FindOrCreateBrand(t *testing.T) {
	st, mock := newMockPostgres(t)
	created := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO brands").
		WithArgs("glenfiddich", "Glenfiddich").
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug", "name", "producer", "created_at"}).
			AddRow("b-1", "glenfiddich", "Glenfiddich", "", created))

	b, err := st.FindOrCreateBrand(context.Background(), "glenfiddich", "Glenfiddich")
	require.NoError(t, err)
	assert.Equal(t, "b-1", b.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertCrawledSource_TruncatesContent(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec("INSERT INTO crawled_sources").
		WithArgs("https://example.com/p", "", pgxmock.AnyArg(), "", "retailer", "processed", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	big := make([]byte, model.MaxCachedContentBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	src := &model.CrawledSource{
		URL:              "https://example.com/p",
		RawContent:       string(big),
		SourceType:       model.SourceRetailer,
		ExtractionStatus: model.ExtractionProcessed,
	}
	require.NoError(t, st.UpsertCrawledSource(context.Background(), src))
	assert.Len(t, src.RawContent, model.MaxCachedContentBytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteJob_RejectsNonTerminal(t *testing.T) {
	st, _ := newMockPostgres(t)

	err := st.CompleteJob(context.Background(), "j-1", model.JobRunning, model.JobCounters{}, "")
	assert.Error(t, err)
}

func TestPostgres_SetScheduleActive_NotFound(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET is_active")).
		WithArgs("missing", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.SetScheduleActive(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateScheduleTerms(t *testing.T) {
	st, mock := newMockPostgres(t)

	terms := []model.ScheduleTerm{{Term: "best islay whisky", SearchCount: 2}}
	raw, err := marshalJSON(terms)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET terms")).
		WithArgs("weekly-whiskey", raw).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.UpdateScheduleTerms(context.Background(), "weekly-whiskey", terms))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordRunStats_AdvancesNextRun(t *testing.T) {
	st, mock := newMockPostgres(t)
	completed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT frequency FROM schedules WHERE slug = (.+) FOR UPDATE").
		WithArgs("weekly-whiskey").
		WillReturnRows(pgxmock.NewRows([]string{"frequency"}).AddRow("168h0m0s"))
	next := completed.Add(168 * time.Hour)
	mock.ExpectExec("UPDATE schedules SET").
		WithArgs("weekly-whiskey", 10, 4, 6, 0, completed, &next).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	counters := model.JobCounters{ProductsFound: 10, ProductsNew: 4, ProductsDuplicate: 6}
	err := st.RecordRunStats(context.Background(), "weekly-whiskey", counters, completed, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FinishDiscoveryResult_Terminal(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec("UPDATE discovery_results SET").
		WithArgs("r-1", "success", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.FinishDiscoveryResult(context.Background(), "r-1", model.DiscoverySuccess, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
