package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/internal/queue"
	"github.com/sells-group/spirits-cli/internal/scheduler"
	"github.com/sells-group/spirits-cli/internal/store"
)

func testEnv(t *testing.T) *appEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	broker := queue.NewBrokerWithClient(rdb)

	return &appEnv{
		st:        st,
		broker:    broker,
		scheduler: scheduler.New(st, broker, nil, nil, nil, nil, nil),
	}
}

func TestServeHealth(t *testing.T) {
	router := newRouter(testEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeTriggerSchedule(t *testing.T) {
	env := testEnv(t)
	require.NoError(t, env.st.CreateSchedule(context.Background(), &model.Schedule{
		Slug:      "weekly-discovery",
		Category:  model.CategoryDiscovery,
		Frequency: 24 * time.Hour,
		IsActive:  true,
	}))
	router := newRouter(env)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/trigger/weekly-discovery", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var job model.CrawlJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, "weekly-discovery", job.ScheduleSlug)

	n, err := env.broker.Len(context.Background(), queue.QueueDiscovery)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestServeTriggerUnknownSchedule(t *testing.T) {
	router := newRouter(testEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/trigger/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeJobStatus(t *testing.T) {
	env := testEnv(t)
	job, err := env.st.CreateJob(context.Background(), "")
	require.NoError(t, err)
	router := newRouter(env)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.CrawlJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
}

func TestServeJobNotFound(t *testing.T) {
	router := newRouter(testEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
