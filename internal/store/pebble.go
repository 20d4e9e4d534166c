package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rotisserie/eris"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

const (
	pebbleNormPrefix   = "norm/"
	pebbleAggPrefix    = "agg/"
	pebbleTrendPrefix  = "trend/"
	pebbleMarkerPrefix = "marker/"
)

// PebbleStore is an embedded key-value Store. Keys sort by series then date
// so history scans are a bounded range. Marker acquisition is serialised by
// an in-process mutex; pebble's directory lock keeps other processes out.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex

	// StaleAfter lets an in_progress marker older than this be reclaimed.
	StaleAfter time.Duration
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:             64 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    8,
	}
	db, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, eris.Wrap(err, "pebble: open")
	}
	return &PebbleStore{db: db}, nil
}

func seriesPrefix(prefix, item, market string) string {
	return prefix + item + "/" + market + "/"
}

func normPebbleKey(r model.NormalizedRecord) []byte {
	return []byte(seriesPrefix(pebbleNormPrefix, r.ItemCode, r.MarketCode) + dateKey(r.Date) + "/" + r.Source)
}

func aggPebbleKey(a model.Aggregate) []byte {
	return []byte(seriesPrefix(pebbleAggPrefix, a.ItemCode, a.MarketCode) + dateKey(a.Date))
}

func trendPebbleKey(t model.TrendResult) []byte {
	return []byte(seriesPrefix(pebbleTrendPrefix, t.ItemCode, t.MarketCode) + dateKey(t.Date))
}

func markerPebbleKey(interval string) []byte {
	return []byte(pebbleMarkerPrefix + interval)
}

// prefixUpper returns the smallest key greater than every key with prefix.
func prefixUpper(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}

func (p *PebbleStore) getJSON(key []byte, v any) (bool, error) {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "pebble: get %s", key)
	}
	defer closer.Close()
	if err := json.Unmarshal(val, v); err != nil {
		return false, eris.Wrapf(err, "pebble: decode %s", key)
	}
	return true, nil
}

func (p *PebbleStore) AcquireRunMarker(_ context.Context, interval, runID string) (*model.RunMarker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cur model.RunMarker
	ok, err := p.getJSON(markerPebbleKey(interval), &cur)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if ok && cur.HeldAt(now, p.StaleAfter) {
		return &cur, ErrMarkerHeld
	}
	mk := model.RunMarker{Interval: interval, RunID: runID, Status: model.MarkerInProgress, StartedAt: now, UpdatedAt: now}
	if err := p.putMarker(mk); err != nil {
		return nil, err
	}
	return &mk, nil
}

func (p *PebbleStore) putMarker(mk model.RunMarker) error {
	val, err := json.Marshal(mk)
	if err != nil {
		return eris.Wrap(err, "pebble: encode marker")
	}
	if err := p.db.Set(markerPebbleKey(mk.Interval), val, pebble.Sync); err != nil {
		return eris.Wrap(err, "pebble: write marker")
	}
	return nil
}

func (p *PebbleStore) GetRunMarker(_ context.Context, interval string) (*model.RunMarker, error) {
	var mk model.RunMarker
	ok, err := p.getJSON(markerPebbleKey(interval), &mk)
	if err != nil || !ok {
		return nil, err
	}
	return &mk, nil
}

func (p *PebbleStore) SetRunMarker(_ context.Context, interval, runID string, status model.MarkerStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var mk model.RunMarker
	ok, err := p.getJSON(markerPebbleKey(interval), &mk)
	if err != nil {
		return err
	}
	if !ok || mk.RunID != runID {
		return ErrMarkerLost
	}
	mk.Status = status
	mk.UpdatedAt = time.Now().UTC()
	return p.putMarker(mk)
}

func (p *PebbleStore) ListRunMarkers(_ context.Context, limit int) ([]model.RunMarker, error) {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleMarkerPrefix),
		UpperBound: prefixUpper(pebbleMarkerPrefix),
	})
	if err != nil {
		return nil, eris.Wrap(err, "pebble: iterate markers")
	}
	defer it.Close()

	n := historyLimit(limit)
	var out []model.RunMarker
	for it.Last(); it.Valid() && len(out) < n; it.Prev() {
		var mk model.RunMarker
		if err := json.Unmarshal(it.Value(), &mk); err != nil {
			return nil, eris.Wrapf(err, "pebble: decode %s", it.Key())
		}
		out = append(out, mk)
	}
	return out, nil
}

func (p *PebbleStore) UpsertBatch(_ context.Context, b Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var mk model.RunMarker
	ok, err := p.getJSON(markerPebbleKey(b.Marker.Interval), &mk)
	if err != nil {
		return err
	}
	if !ok || mk.RunID != b.Marker.RunID || mk.Status != model.MarkerInProgress {
		return ErrMarkerLost
	}

	wb := p.db.NewBatch()
	defer wb.Close()
	set := func(key []byte, v any) error {
		val, err := json.Marshal(v)
		if err != nil {
			return eris.Wrapf(err, "pebble: encode %s", key)
		}
		return wb.Set(key, val, nil)
	}
	for _, r := range b.Normalized {
		if err := set(normPebbleKey(r), r); err != nil {
			return err
		}
	}
	for _, a := range b.Aggregates {
		if err := set(aggPebbleKey(a), a); err != nil {
			return err
		}
	}
	for _, t := range b.Trends {
		if err := set(trendPebbleKey(t), t); err != nil {
			return err
		}
	}
	mk.Status = model.MarkerCompleted
	mk.UpdatedAt = time.Now().UTC()
	if err := set(markerPebbleKey(mk.Interval), mk); err != nil {
		return err
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return eris.Wrap(err, "pebble: commit batch")
	}
	return nil
}

func (p *PebbleStore) QueryHistory(_ context.Context, item, market string, before time.Time, limit int) ([]model.Aggregate, error) {
	prefix := seriesPrefix(pebbleAggPrefix, item, market)
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + dateKey(before)),
	})
	if err != nil {
		return nil, eris.Wrap(err, "pebble: iterate history")
	}
	defer it.Close()

	n := historyLimit(limit)
	var out []model.Aggregate
	for it.Last(); it.Valid() && len(out) < n; it.Prev() {
		var a model.Aggregate
		if err := json.Unmarshal(it.Value(), &a); err != nil {
			return nil, eris.Wrapf(err, "pebble: decode %s", it.Key())
		}
		out = append(out, a)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// scanPrefix decodes every value under prefix whose series item and date pass f.
func scanPrefix[T any](db *pebble.DB, prefix string, f Filter, keyOf func(T) (string, time.Time)) ([]T, error) {
	lower := prefix
	if f.ItemCode != "" {
		lower = prefix + f.ItemCode + "/"
	}
	it, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(lower),
		UpperBound: prefixUpper(lower),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pebble: iterate %s", strings.TrimSuffix(prefix, "/"))
	}
	defer it.Close()

	var out []T
	for it.First(); it.Valid(); it.Next() {
		var v T
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return nil, eris.Wrapf(err, "pebble: decode %s", it.Key())
		}
		if item, date := keyOf(v); f.match(item, date) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (p *PebbleStore) ListAggregates(_ context.Context, f Filter) ([]model.Aggregate, error) {
	out, err := scanPrefix(p.db, pebbleAggPrefix, f, func(a model.Aggregate) (string, time.Time) {
		return a.ItemCode, a.Date
	})
	if err != nil {
		return nil, err
	}
	sortAggregates(out)
	return out, nil
}

func (p *PebbleStore) ListTrends(_ context.Context, f Filter) ([]model.TrendResult, error) {
	out, err := scanPrefix(p.db, pebbleTrendPrefix, f, func(t model.TrendResult) (string, time.Time) {
		return t.ItemCode, t.Date
	})
	if err != nil {
		return nil, err
	}
	sortTrends(out)
	return out, nil
}

func (p *PebbleStore) Close() error {
	return eris.Wrap(p.db.Close(), "pebble: close")
}
