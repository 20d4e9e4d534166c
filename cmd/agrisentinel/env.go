package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/baebong3/fruitbasket-legal/internal/cache"
	"github.com/baebong3/fruitbasket-legal/internal/collector"
	"github.com/baebong3/fruitbasket-legal/internal/config"
	"github.com/baebong3/fruitbasket-legal/internal/metrics"
	"github.com/baebong3/fruitbasket-legal/internal/model"
	"github.com/baebong3/fruitbasket-legal/internal/notifier"
	"github.com/baebong3/fruitbasket-legal/internal/pipeline"
	"github.com/baebong3/fruitbasket-legal/internal/report"
	"github.com/baebong3/fruitbasket-legal/internal/runlog"
	"github.com/baebong3/fruitbasket-legal/internal/store"
	"github.com/baebong3/fruitbasket-legal/internal/transform"
	"github.com/baebong3/fruitbasket-legal/internal/trend"
)

// env holds everything a command needs, built from the loaded config.
type env struct {
	Store    store.Store
	Metrics  *metrics.Registry
	Journal  *runlog.Journal
	Telegram *notifier.TelegramNotifier
	Orch     *pipeline.Orchestrator

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("shutdown: close resource", zap.Error(err))
		}
	}
}

// initStore opens the store selected by cfg.Store.Driver.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(c.Store.Path)
		if err != nil {
			return nil, err
		}
		s.StaleAfter = c.Store.StaleAfter
		return s, nil
	case "postgres":
		s, err := store.NewPostgresStore(ctx, c.Store.DSN, c.Store.Pool)
		if err != nil {
			return nil, err
		}
		s.StaleAfter = c.Store.StaleAfter
		return s, nil
	case "pebble":
		s, err := store.NewPebbleStore(c.Store.Path)
		if err != nil {
			return nil, err
		}
		s.StaleAfter = c.Store.StaleAfter
		return s, nil
	case "memory":
		s := store.NewMemoryStore()
		s.StaleAfter = c.Store.StaleAfter
		return s, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", c.Store.Driver)
	}
}

// initCache returns a Redis cache when configured, otherwise an in-process one.
func initCache(c *config.Config) (cache.Cache, error) {
	if c.Cache.Redis.Addr == "" {
		return cache.NewMemoryCache(c.Cache.TTL), nil
	}
	return cache.NewRedisCache(c.Cache.Redis)
}

func initFetcher(c *config.Config) (collector.Fetcher, error) {
	ds := c.DataSource
	if ds.Kind != "mock" {
		return collector.NewKamisFetcher(ds.BaseURL, ds.CertKey, ds.CertID, ds.Rows, c.Proxy), nil
	}
	mock := &collector.MockFetcher{PageSize: ds.Rows}
	if ds.MockFile == "" {
		return mock, nil
	}
	data, err := os.ReadFile(ds.MockFile)
	if err != nil {
		return nil, eris.Wrapf(err, "read mock records %s", ds.MockFile)
	}
	var recs []model.RawRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, eris.Wrapf(err, "decode mock records %s", ds.MockFile)
	}
	mock.Records = recs
	return mock, nil
}

func initCollector(c *config.Config, reg *metrics.Registry) (*collector.Collector, error) {
	fetcher, err := initFetcher(c)
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if c.Collector.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.Collector.RatePerSecond), c.Collector.Burst)
	}
	col := collector.NewCollector(fetcher, c.Collector.Workers, c.Collector.MaxPages, limiter)
	col.Policy = collector.RetryPolicy{
		MaxAttempts:    c.Collector.MaxAttempts,
		BackoffUnit:    c.Collector.BackoffUnit,
		AttemptTimeout: c.Collector.AttemptTimeout,
	}
	source := fetcher.Name()
	// FetchPage already logs each backoff; the hook only counts it.
	col.OnRetry = func(int, *collector.RetryState) { reg.Retry(source) }
	zap.L().Info("collector: data source", zap.String("source", source))
	return col, nil
}

func initAnalyzer(c *config.Config) (*trend.Analyzer, error) {
	levels, err := trend.LevelsFromConfig(c.Trend.Levels)
	if err != nil {
		return nil, err
	}
	return trend.NewAnalyzer(c.Trend.Window, decimal.NewFromFloat(c.Trend.AnomalyThreshold), levels), nil
}

func initNormalizer(c *config.Config) (*transform.Normalizer, error) {
	custom, err := transform.UnitsFromConfig(c.Units)
	if err != nil {
		return nil, err
	}
	return transform.NewNormalizer(transform.DefaultUnits().Merge(custom)), nil
}

// initEnv wires the store, pipeline and sinks. Notification sinks are only
// attached when notify is set, so read-only commands never publish.
func initEnv(ctx context.Context, c *config.Config, notify bool) (*env, error) {
	e := &env{Metrics: metrics.NewRegistry()}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	e.Store = st
	e.closers = append(e.closers, st.Close)

	journal, err := runlog.Open(c.RunLog.Path, c.RunLog.Capacity)
	if err != nil {
		return nil, eris.Wrap(err, "init run log")
	}
	e.Journal = journal

	col, err := initCollector(c, e.Metrics)
	if err != nil {
		return nil, eris.Wrap(err, "init collector")
	}
	norm, err := initNormalizer(c)
	if err != nil {
		return nil, eris.Wrap(err, "init normalizer")
	}
	an, err := initAnalyzer(c)
	if err != nil {
		return nil, eris.Wrap(err, "init analyzer")
	}

	sinks := []pipeline.Sink{e.Metrics, e.Journal}
	if c.Report.Dir != "" {
		sinks = append(sinks, &report.Exporter{Dir: c.Report.Dir})
	}
	if notify {
		var fanout notifier.Multi
		if c.Telegram.BotToken != "" {
			e.Telegram = notifier.NewTelegramNotifier(c.Telegram.BotToken, c.Telegram.ChatID, c.Proxy)
			e.Telegram.MaxAnomalies = c.Telegram.MaxAnomalies
			fanout = append(fanout, e.Telegram)
		}
		if c.Kafka.Brokers != "" {
			kp := notifier.NewKafkaPublisher(c.Kafka.Brokers, c.Kafka.Topic)
			e.closers = append(e.closers, kp.Close)
			fanout = append(fanout, kp)
		}
		if len(fanout) > 0 {
			sinks = append(sinks, fanout)
		}
	}

	opts := pipeline.Options{
		ItemCodes:     c.DataSource.ItemCodes,
		MarketCodes:   c.DataSource.MarketCodes,
		LookbackDays:  c.Collector.LookbackDays,
		SeasonalYears: c.Compare.SeasonalYears,
	}
	cleaner := transform.NewCleaner(transform.DedupStrategy(c.Cleaner.Strategy), c.Cleaner.SourceRank)
	e.Orch = pipeline.NewOrchestrator(col, cleaner, norm, an, st, opts, sinks...)

	ok = true
	return e, nil
}
