package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/baebong3/fruitbasket-legal/internal/cache"
	"github.com/baebong3/fruitbasket-legal/internal/collector"
	"github.com/baebong3/fruitbasket-legal/internal/config"
	"github.com/baebong3/fruitbasket-legal/internal/metrics"
	"github.com/baebong3/fruitbasket-legal/internal/model"
	"github.com/baebong3/fruitbasket-legal/internal/runlog"
	"github.com/baebong3/fruitbasket-legal/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c, err := config.Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	c.DataSource.Kind = "mock"
	c.Store.Driver = "memory"
	c.RunLog.Path = filepath.Join(dir, "runs.json")
	c.Collector.RatePerSecond = 0
	return c
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "run", "status", "report"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestCommandFlags(t *testing.T) {
	assert.NotNil(t, runCmd.Flags().Lookup("date"))
	assert.NotNil(t, runCmd.Flags().Lookup("notify"))
	assert.NotNil(t, reportCmd.Flags().Lookup("from"))
	assert.NotNil(t, reportCmd.Flags().Lookup("to"))
	assert.NotNil(t, reportCmd.Flags().Lookup("out"))
	assert.NotNil(t, serveCmd.Flags().Lookup("run-on-start"))
	assert.NotNil(t, statusCmd.Flags().Lookup("limit"))
}

func TestInitStore(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)

	st, err := initStore(ctx, c)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)

	c.Store.Driver = "sqlite"
	c.Store.Path = filepath.Join(t.TempDir(), "agri.db")
	st, err = initStore(ctx, c)
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, st)
	require.NoError(t, st.Close())

	c.Store.Driver = "mysql"
	_, err = initStore(ctx, c)
	assert.Error(t, err)
}

func TestInitCache_DefaultsToMemory(t *testing.T) {
	c, err := initCache(testConfig(t))
	require.NoError(t, err)
	assert.IsType(t, &cache.MemoryCache{}, c)
}

func TestInitFetcher(t *testing.T) {
	c := testConfig(t)
	recs := []model.RawRecord{{ItemCode: "111", MarketCode: "A", Date: "2026-02-01", Price: "48000", Unit: "10kg", Source: "mock"}}
	data, err := json.Marshal(recs)
	require.NoError(t, err)
	c.DataSource.MockFile = filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(c.DataSource.MockFile, data, 0o644))

	f, err := initFetcher(c)
	require.NoError(t, err)
	mock, ok := f.(*collector.MockFetcher)
	require.True(t, ok)
	assert.Len(t, mock.Records, 1)

	c.DataSource.Kind = "kamis"
	f, err = initFetcher(c)
	require.NoError(t, err)
	assert.Equal(t, "kamis", f.Name())
}

func TestInitEnv_RunsEndToEnd(t *testing.T) {
	c := testConfig(t)
	c.Report.Dir = t.TempDir()
	recs := []model.RawRecord{
		{ItemCode: "111", MarketCode: "A", Date: "2026-02-01", Price: "48000", Unit: "10kg", Source: "mock"},
		{ItemCode: "111", MarketCode: "B", Date: "2026-02-01", Price: "52000", Unit: "10kg", Source: "mock"},
	}
	data, err := json.Marshal(recs)
	require.NoError(t, err)
	c.DataSource.MockFile = filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(c.DataSource.MockFile, data, 0o644))

	ctx := context.Background()
	e, err := initEnv(ctx, c, true)
	require.NoError(t, err)
	defer e.Close()
	assert.Nil(t, e.Telegram)

	rep, err := e.Orch.Run(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, rep.State)

	entry, ok := e.Journal.Last("2026-02-01")
	require.True(t, ok)
	assert.Equal(t, rep.RunID, entry.RunID)
	assert.FileExists(t, filepath.Join(c.Report.Dir, "agri-2026-02-01.xlsx"))

	markers, err := e.Store.ListRunMarkers(ctx, 5)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, writeStatus(&out, markers, e.Journal))
	assert.Contains(t, out.String(), "2026-02-01")
	assert.Contains(t, out.String(), "completed")
}

func TestWriteStatus_Empty(t *testing.T) {
	j, err := runlog.Open(filepath.Join(t.TempDir(), "runs.json"), 0)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, writeStatus(&out, nil, j))
	assert.Equal(t, "No runs recorded yet.\n", out.String())
}

func TestInitCollector_RetryLoggedOnceAndCounted(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(zap.NewNop())

	c := testConfig(t)
	c.Collector.BackoffUnit = time.Millisecond
	reg := metrics.NewRegistry()
	col, err := initCollector(c, reg)
	require.NoError(t, err)
	mock := col.Fetcher.(*collector.MockFetcher)
	mock.Records = []model.RawRecord{{ItemCode: "111", MarketCode: "A", Date: "2026-02-01", Price: "48000", Unit: "10kg"}}
	mock.Failures = map[int][]error{1: {&collector.NetworkError{StatusCode: 503, Err: errors.New("unavailable")}}}

	_, err = col.FetchPage(context.Background(), collector.Query{}, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("collector: retrying request").Len())

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `agri_request_retries_total{source="mock"} 1`)
}
