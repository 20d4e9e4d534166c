package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/baebong3/fruitbasket-legal/internal/aggregator"
	"github.com/baebong3/fruitbasket-legal/internal/collector"
	"github.com/baebong3/fruitbasket-legal/internal/compare"
	"github.com/baebong3/fruitbasket-legal/internal/model"
	"github.com/baebong3/fruitbasket-legal/internal/store"
	"github.com/baebong3/fruitbasket-legal/internal/transform"
	"github.com/baebong3/fruitbasket-legal/internal/trend"
)

// DefaultSeasonalYears is how many prior years the seasonal comparison looks back.
const DefaultSeasonalYears = 5

// Source collects raw records for a query.
type Source interface {
	CollectAll(ctx context.Context, q collector.Query) (*collector.Collection, error)
}

// Sink receives every finished run report. Sinks are best-effort: their
// errors are logged and never change the run's outcome.
type Sink interface {
	RunFinished(ctx context.Context, rep *model.RunReport, aggs []model.Aggregate) error
}

// Options configures what a run collects.
type Options struct {
	ItemCodes     []string
	MarketCodes   []string
	LookbackDays  int // extra days fetched before the interval date
	SeasonalYears int
}

// Orchestrator runs the collect-clean-normalize-aggregate-analyze-compare
// pipeline for one interval and commits its output atomically.
type Orchestrator struct {
	Source     Source
	Cleaner    *transform.Cleaner
	Normalizer *transform.Normalizer
	Analyzer   *trend.Analyzer
	Store      store.Store
	Sinks      []Sink
	Options    Options

	newRunID func() string
	now      func() time.Time
}

func NewOrchestrator(src Source, cleaner *transform.Cleaner, norm *transform.Normalizer, an *trend.Analyzer, st store.Store, opts Options, sinks ...Sink) *Orchestrator {
	if opts.SeasonalYears < 0 {
		opts.SeasonalYears = 0
	}
	return &Orchestrator{
		Source:     src,
		Cleaner:    cleaner,
		Normalizer: norm,
		Analyzer:   an,
		Store:      st,
		Sinks:      sinks,
		Options:    opts,
		newRunID:   uuid.NewString,
		now:        time.Now,
	}
}

// run carries one invocation's working state.
type run struct {
	rep    *model.RunReport
	date   time.Time
	marker model.RunMarker
	log    *zap.Logger
}

// Run executes the pipeline for the day containing date. The returned report
// is never nil; the error is a *DuplicateRunError, *EmptyStageError,
// *StoreCommitError, a cancellation, or a store read failure.
func (o *Orchestrator) Run(ctx context.Context, date time.Time) (*model.RunReport, error) {
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	interval := date.Format(model.DateLayout)
	runID := o.newRunID()

	r := &run{
		rep:  model.NewRunReport(runID, interval),
		date: date,
		log:  zap.L().With(zap.String("run_id", runID), zap.String("interval", interval)),
	}
	r.rep.StartedAt = o.now().UTC()

	held, err := o.Store.AcquireRunMarker(ctx, interval, runID)
	if errors.Is(err, store.ErrMarkerHeld) {
		derr := &DuplicateRunError{Interval: interval, Existing: held}
		o.finish(ctx, r, model.StateAborted, derr, nil)
		return r.rep, derr
	}
	if err != nil {
		err = eris.Wrapf(err, "pipeline: acquire marker for %s", interval)
		o.finish(ctx, r, model.StateAborted, err, nil)
		return r.rep, err
	}
	r.marker = *held
	r.log.Info("pipeline: run started")

	aggs, err := o.execute(ctx, r)
	if err != nil {
		o.releaseMarker(ctx, r)
		var empty *EmptyStageError
		if errors.As(err, &empty) {
			o.finish(ctx, r, model.StatePartiallyFailed, err, nil)
		} else {
			o.finish(ctx, r, model.StateAborted, err, nil)
		}
		return r.rep, err
	}
	o.finish(ctx, r, model.StateCompleted, nil, aggs)
	return r.rep, nil
}

// execute walks the stages through Committing. On success the batch has been
// committed and the marker is completed.
func (o *Orchestrator) execute(ctx context.Context, r *run) ([]model.Aggregate, error) {
	rep := r.rep

	// Collecting
	if err := o.enter(ctx, rep, model.StateCollecting); err != nil {
		return nil, err
	}
	coll, err := o.Source.CollectAll(ctx, o.query(r.date))
	if err != nil {
		return nil, err
	}
	raw := coll.Records()
	rep.PagesFetched = coll.Fetched()
	for k, n := range coll.Failures() {
		rep.PageFailures[k] += n
	}
	rep.RawCount = len(raw)
	if len(raw) == 0 {
		return nil, &EmptyStageError{Stage: model.StateCollecting}
	}

	// Cleaning
	if err := o.enter(ctx, rep, model.StateCleaning); err != nil {
		return nil, err
	}
	cleaned, drops := o.Cleaner.Clean(raw)
	rep.Drops.Merge(drops)
	rep.CleanedCount = len(cleaned)
	if len(cleaned) == 0 {
		return nil, &EmptyStageError{Stage: model.StateCleaning}
	}

	// Normalizing
	if err := o.enter(ctx, rep, model.StateNormalizing); err != nil {
		return nil, err
	}
	normalized, drops := o.Normalizer.NormalizeAll(cleaned)
	rep.Drops.Merge(drops)
	rep.Normalized = len(normalized)
	if len(normalized) == 0 {
		return nil, &EmptyStageError{Stage: model.StateNormalizing}
	}

	// Aggregating
	if err := o.enter(ctx, rep, model.StateAggregating); err != nil {
		return nil, err
	}
	items, markets := aggregator.Both(normalized)
	aggs := append(items, markets...)
	aggregator.Sort(aggs)
	rep.Aggregates = len(aggs)

	// Analyzing
	if err := o.enter(ctx, rep, model.StateAnalyzing); err != nil {
		return nil, err
	}
	trends, err := o.analyze(ctx, aggs)
	if err != nil {
		return nil, err
	}
	rep.Trends = trends
	for _, t := range trends {
		if t.Anomaly {
			rep.Anomalies = append(rep.Anomalies, t)
		}
	}

	// Comparing
	if err := o.enter(ctx, rep, model.StateComparing); err != nil {
		return nil, err
	}
	rep.Comparisons = compare.CompareAll(aggs)
	seasonal, err := o.seasonal(ctx, r.date, aggs)
	if err != nil {
		return nil, err
	}
	rep.Seasonal = seasonal

	// Committing
	if err := o.enter(ctx, rep, model.StateCommitting); err != nil {
		return nil, err
	}
	batch := store.Batch{Normalized: normalized, Aggregates: aggs, Trends: trends, Marker: r.marker}
	if err := o.Store.UpsertBatch(ctx, batch); err != nil {
		return nil, &StoreCommitError{Interval: rep.Interval, Err: err}
	}
	return aggs, nil
}

// enter checks for cancellation, then advances the state machine.
func (o *Orchestrator) enter(ctx context.Context, rep *model.RunReport, next model.RunState) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "pipeline: cancelled before %s", next)
	}
	if err := advance(rep, next); err != nil {
		return err
	}
	zap.L().Debug("pipeline: stage", zap.String("run_id", rep.RunID), zap.String("state", string(next)))
	return nil
}

func (o *Orchestrator) query(date time.Time) collector.Query {
	start := date
	if o.Options.LookbackDays > 0 {
		start = date.AddDate(0, 0, -o.Options.LookbackDays)
	}
	return collector.Query{
		ItemCodes:   o.Options.ItemCodes,
		MarketCodes: o.Options.MarketCodes,
		StartDate:   start,
		EndDate:     date,
	}
}

// analyze groups aggregates into series and classifies each against stored
// history plus the run's own earlier dates.
func (o *Orchestrator) analyze(ctx context.Context, aggs []model.Aggregate) ([]model.TrendResult, error) {
	series := make(map[model.SeriesKey][]model.Aggregate)
	var keys []model.SeriesKey
	for _, a := range aggs {
		k := a.SeriesKey()
		if _, ok := series[k]; !ok {
			keys = append(keys, k)
		}
		series[k] = append(series[k], a)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ItemCode != keys[j].ItemCode {
			return keys[i].ItemCode < keys[j].ItemCode
		}
		return keys[i].MarketCode < keys[j].MarketCode
	})

	var out []model.TrendResult
	for _, k := range keys {
		s := series[k]
		earliest, latest := s[0].Date, s[0].Date
		for _, a := range s[1:] {
			if a.Date.Before(earliest) {
				earliest = a.Date
			}
			if a.Date.After(latest) {
				latest = a.Date
			}
		}
		// Stored days inside the series span count too: the fetch may skip
		// days an earlier run committed. One row per day, so the span in days
		// plus Window reaches back far enough for the earliest entry.
		span := int(latest.Sub(earliest).Hours() / 24)
		prior, err := o.Store.QueryHistory(ctx, k.ItemCode, k.MarketCode, latest, o.Analyzer.Window+span)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: history for %s/%s", k.ItemCode, k.MarketCode)
		}
		out = append(out, o.Analyzer.AnalyzeSeries(s, prior)...)
	}
	return out, nil
}

// seasonal compares the interval date's aggregates with the same month-day in
// each of the prior SeasonalYears years.
func (o *Orchestrator) seasonal(ctx context.Context, date time.Time, aggs []model.Aggregate) ([]model.SeasonalComparison, error) {
	if o.Options.SeasonalYears == 0 {
		return nil, nil
	}
	var pool []model.Aggregate
	for _, a := range aggs {
		if !a.Date.Equal(date) {
			continue
		}
		pool = append(pool, a)
		for y := 1; y <= o.Options.SeasonalYears; y++ {
			target := date.AddDate(-y, 0, 0)
			if target.Day() != date.Day() {
				continue // Feb 29 has no counterpart
			}
			hist, err := o.Store.QueryHistory(ctx, a.ItemCode, a.MarketCode, target.AddDate(0, 0, 1), 1)
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: seasonal history for %s/%s", a.ItemCode, a.MarketCode)
			}
			if len(hist) == 1 && hist[0].Date.Equal(target) {
				pool = append(pool, hist[0])
			}
		}
	}
	return compare.CompareSeasonal(pool), nil
}

// releaseMarker marks the run's marker failed so a later run may retry the
// interval. It runs even when ctx is cancelled.
func (o *Orchestrator) releaseMarker(ctx context.Context, r *run) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.Store.SetRunMarker(ctx, r.rep.Interval, r.rep.RunID, model.MarkerFailed); err != nil {
		r.log.Error("pipeline: release marker", zap.Error(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, r *run, state model.RunState, runErr error, aggs []model.Aggregate) {
	rep := r.rep
	if err := advance(rep, state); err != nil {
		r.log.Error("pipeline: final transition", zap.Error(err))
		rep.State = state
	}
	rep.FinishedAt = o.now().UTC()
	if runErr != nil {
		rep.Error = runErr.Error()
	}

	fields := []zap.Field{
		zap.String("outcome", rep.Outcome()),
		zap.Int("raw", rep.RawCount),
		zap.Int("cleaned", rep.CleanedCount),
		zap.Int("normalized", rep.Normalized),
		zap.Int("aggregates", rep.Aggregates),
		zap.Int("anomalies", len(rep.Anomalies)),
		zap.String("drops", rep.Drops.String()),
		zap.Duration("elapsed", rep.Duration()),
	}
	var dup *DuplicateRunError
	switch {
	case runErr == nil:
		r.log.Info("pipeline: run finished", fields...)
	case errors.As(runErr, &dup):
		r.log.Info("pipeline: interval already handled", zap.Error(runErr))
	default:
		r.log.Warn("pipeline: run failed", append(fields, zap.Error(runErr))...)
	}

	sctx := context.WithoutCancel(ctx)
	for _, s := range o.Sinks {
		if err := s.RunFinished(sctx, rep, aggs); err != nil {
			r.log.Warn("pipeline: sink failed", zap.Error(err))
		}
	}
}
