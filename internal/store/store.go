package store

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

var (
	// ErrMarkerHeld is returned by AcquireRunMarker when an in-progress or
	// completed marker already owns the interval.
	ErrMarkerHeld = errors.New("store: run marker held by another run")
	// ErrMarkerLost is returned when a run updates a marker it does not own.
	ErrMarkerLost = errors.New("store: run marker not owned by run")
)

// staleCutoff is the updated_at before which an in_progress marker may be
// reclaimed. With staleness disabled it is the epoch, which no marker predates.
func staleCutoff(now time.Time, staleAfter time.Duration) time.Time {
	if staleAfter <= 0 {
		return time.Unix(0, 0).UTC()
	}
	return now.Add(-staleAfter)
}

// Batch is everything one run commits. Marker is flipped to completed in
// the same transaction.
type Batch struct {
	Normalized []model.NormalizedRecord
	Aggregates []model.Aggregate
	Trends     []model.TrendResult
	Marker     model.RunMarker
}

// Filter selects persisted aggregates or trends. Zero values are unbounded.
type Filter struct {
	ItemCode string
	From     time.Time // inclusive
	To       time.Time // inclusive
}

func (f Filter) match(item string, date time.Time) bool {
	if f.ItemCode != "" && f.ItemCode != item {
		return false
	}
	if !f.From.IsZero() && date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && date.After(f.To) {
		return false
	}
	return true
}

// Store is the pipeline's persistence contract. Implementations upsert by
// natural key and never expose a partially applied batch.
type Store interface {
	// AcquireRunMarker atomically claims interval for runID. It returns the
	// existing marker and ErrMarkerHeld if another run holds it; a failed
	// marker is replaced.
	AcquireRunMarker(ctx context.Context, interval, runID string) (*model.RunMarker, error)
	// GetRunMarker returns nil when no marker exists.
	GetRunMarker(ctx context.Context, interval string) (*model.RunMarker, error)
	// SetRunMarker updates the status of the marker owned by runID.
	SetRunMarker(ctx context.Context, interval, runID string, status model.MarkerStatus) error
	// ListRunMarkers returns up to limit markers, newest interval first.
	ListRunMarkers(ctx context.Context, limit int) ([]model.RunMarker, error)

	// UpsertBatch writes the batch atomically, all or nothing.
	UpsertBatch(ctx context.Context, b Batch) error

	// QueryHistory returns up to limit aggregates of the series dated
	// strictly before before, oldest first.
	QueryHistory(ctx context.Context, item, market string, before time.Time, limit int) ([]model.Aggregate, error)

	ListAggregates(ctx context.Context, f Filter) ([]model.Aggregate, error)
	ListTrends(ctx context.Context, f Filter) ([]model.TrendResult, error)

	Close() error
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return math.MaxInt32
	}
	return limit
}

func sortTrends(ts []model.TrendResult) {
	sort.Slice(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.ItemCode != b.ItemCode {
			return a.ItemCode < b.ItemCode
		}
		if a.MarketCode != b.MarketCode {
			return a.MarketCode < b.MarketCode
		}
		return a.Date.Before(b.Date)
	})
}

func sortAggregates(as []model.Aggregate) {
	sort.Slice(as, func(i, j int) bool {
		a, b := as[i], as[j]
		if a.ItemCode != b.ItemCode {
			return a.ItemCode < b.ItemCode
		}
		if a.MarketCode != b.MarketCode {
			return a.MarketCode < b.MarketCode
		}
		return a.Date.Before(b.Date)
	})
}

func dateKey(t time.Time) string { return t.Format(model.DateLayout) }

func parseDateKey(s string) (time.Time, error) { return time.Parse(model.DateLayout, s) }
