package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/baebong3/fruitbasket-legal/internal/cache"
	"github.com/baebong3/fruitbasket-legal/internal/metrics"
	"github.com/baebong3/fruitbasket-legal/internal/model"
	"github.com/baebong3/fruitbasket-legal/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var feb1 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	_, err := st.AcquireRunMarker(ctx, "2026-02-01", "run-1")
	require.NoError(t, err)

	v := decimal.NewFromInt(48000)
	require.NoError(t, st.UpsertBatch(ctx, store.Batch{
		Aggregates: []model.Aggregate{
			{ItemCode: "111", MarketCode: model.AllMarkets, Date: feb1, Avg: v, Min: v, Max: v, Count: 2},
			{ItemCode: "111", MarketCode: "1101", Date: feb1, Avg: v, Min: v, Max: v, Count: 1},
			{ItemCode: "111", MarketCode: "2100", Date: feb1, Avg: v, Min: v, Max: v, Count: 1},
		},
		Trends: []model.TrendResult{
			{ItemCode: "111", MarketCode: "1101", Date: feb1, Avg: v, Label: model.LabelInsufficientHistory},
		},
		Marker: model.RunMarker{Interval: "2026-02-01", RunID: "run-1"},
	}))
	return st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAggregates(t *testing.T) {
	h := NewServer(seededStore(t), nil, nil).Router()

	rec := get(t, h, "/api/v1/items/111/aggregates?date=2026-02-01")
	require.Equal(t, http.StatusOK, rec.Code)
	var body aggregatesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Aggregates, 3)

	rec = get(t, h, "/api/v1/items/111/aggregates?date=2026-02-01&market=1101")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Aggregates, 1)
	assert.Equal(t, "1101", body.Aggregates[0].MarketCode)
	assert.True(t, decimal.NewFromInt(48000).Equal(body.Aggregates[0].Avg))

	rec = get(t, h, "/api/v1/items/111/aggregates?date=2026-02-01&market=")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Aggregates, 1)
	assert.Equal(t, 2, body.Aggregates[0].Count)
}

func TestAggregates_Validation(t *testing.T) {
	h := NewServer(seededStore(t), nil, nil).Router()

	rec := get(t, h, "/api/v1/items/111/aggregates")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, TypeValidation, p.Type)

	rec = get(t, h, "/api/v1/items/111/aggregates?date=02/01/2026")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, h, "/api/v1/items/999/aggregates?date=2026-02-01")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrends(t *testing.T) {
	h := NewServer(seededStore(t), nil, nil).Router()

	rec := get(t, h, "/api/v1/items/111/trends?date=2026-02-01")
	require.Equal(t, http.StatusOK, rec.Code)
	var body trendsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Trends, 1)
	assert.Equal(t, model.LabelInsufficientHistory, body.Trends[0].Label)
}

func TestAggregates_ServedFromCache(t *testing.T) {
	st := seededStore(t)
	c := cache.NewMemoryCache(time.Minute)
	reg := metrics.NewRegistry()
	h := NewServer(st, c, reg).Router()

	first := get(t, h, "/api/v1/items/111/aggregates?date=2026-02-01&market=1101")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, 1, c.Len())

	// a later commit is not visible until the entry expires
	_, err := st.AcquireRunMarker(context.Background(), "2026-02-02", "run-2")
	require.NoError(t, err)
	v := decimal.NewFromInt(1)
	require.NoError(t, st.UpsertBatch(context.Background(), store.Batch{
		Aggregates: []model.Aggregate{{ItemCode: "111", MarketCode: "1101", Date: feb1, Avg: v, Min: v, Max: v, Count: 1}},
		Marker:     model.RunMarker{Interval: "2026-02-02", RunID: "run-2"},
	}))

	second := get(t, h, "/api/v1/items/111/aggregates?date=2026-02-01&market=1101")
	assert.Equal(t, first.Body.String(), second.Body.String())

	metricsBody := get(t, h, "/metrics").Body.String()
	assert.Contains(t, metricsBody, `agri_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, metricsBody, `agri_cache_lookups_total{result="miss"} 1`)
}

func TestRunMarker(t *testing.T) {
	h := NewServer(seededStore(t), nil, nil).Router()

	rec := get(t, h, "/api/v1/runs/2026-02-01")
	require.Equal(t, http.StatusOK, rec.Code)
	var mk model.RunMarker
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mk))
	assert.Equal(t, "run-1", mk.RunID)
	assert.Equal(t, model.MarkerCompleted, mk.Status)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/runs/2026-03-01").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/runs/latest").Code)

	rec = get(t, h, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var ms []model.RunMarker
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ms))
	assert.Len(t, ms, 1)
}

func TestHealth(t *testing.T) {
	rec := get(t, NewServer(store.NewMemoryStore(), nil, nil).Router(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
