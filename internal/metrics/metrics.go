package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

type Registry struct {
	reg            *prometheus.Registry
	Runs           *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	PagesFetched   prometheus.Counter
	PageFailures   *prometheus.CounterVec
	RecordsDropped *prometheus.CounterVec
	Aggregates     prometheus.Counter
	Anomalies      prometheus.Counter
	Retries        *prometheus.CounterVec
	LastSuccess    prometheus.Gauge
	CacheLookups   *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "agri_runs_total"}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "agri_run_duration_seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
	pages := prometheus.NewCounter(prometheus.CounterOpts{Name: "agri_pages_fetched_total"})
	pageFailures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "agri_page_failures_total"}, []string{"kind"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "agri_records_dropped_total"}, []string{"cause"})
	aggs := prometheus.NewCounter(prometheus.CounterOpts{Name: "agri_aggregates_committed_total"})
	anomalies := prometheus.NewCounter(prometheus.CounterOpts{Name: "agri_anomalies_total"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "agri_request_retries_total"}, []string{"source"})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{Name: "agri_last_success_timestamp_seconds"})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "agri_cache_lookups_total"}, []string{"result"})

	r.MustRegister(runs, duration, pages, pageFailures, dropped, aggs, anomalies, retries, lastSuccess, cache)
	return &Registry{
		reg:            r,
		Runs:           runs,
		RunDuration:    duration,
		PagesFetched:   pages,
		PageFailures:   pageFailures,
		RecordsDropped: dropped,
		Aggregates:     aggs,
		Anomalies:      anomalies,
		Retries:        retries,
		LastSuccess:    lastSuccess,
		CacheLookups:   cache,
	}
}

// RunFinished records a finished run. It satisfies pipeline.Sink.
func (r *Registry) RunFinished(_ context.Context, rep *model.RunReport, _ []model.Aggregate) error {
	r.Runs.WithLabelValues(rep.Outcome()).Inc()
	if d := rep.Duration(); d > 0 {
		r.RunDuration.Observe(d.Seconds())
	}
	r.PagesFetched.Add(float64(rep.PagesFetched))
	for kind, n := range rep.PageFailures {
		r.PageFailures.WithLabelValues(string(kind)).Add(float64(n))
	}
	for cause, n := range rep.Drops {
		r.RecordsDropped.WithLabelValues(string(cause)).Add(float64(n))
	}
	if rep.State == model.StateCompleted {
		r.Aggregates.Add(float64(rep.Aggregates))
		r.Anomalies.Add(float64(len(rep.Anomalies)))
		r.LastSuccess.Set(float64(rep.FinishedAt.Unix()))
	}
	return nil
}

// Retry counts one backoff for source.
func (r *Registry) Retry(source string) { r.Retries.WithLabelValues(source).Inc() }

// CacheLookup counts a read-cache hit or miss.
func (r *Registry) CacheLookup(hit bool) {
	if hit {
		r.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	r.CacheLookups.WithLabelValues("miss").Inc()
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
