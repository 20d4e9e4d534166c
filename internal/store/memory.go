package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

type aggKey struct {
	item, market, date string
}

type normKey struct {
	item, market, date, source string
}

// MemoryStore keeps everything in process memory. It is used in tests and
// when no persistent store is configured.
type MemoryStore struct {
	mu         sync.Mutex
	markers    map[string]model.RunMarker
	normalized map[normKey]model.NormalizedRecord
	aggregates map[aggKey]model.Aggregate
	trends     map[aggKey]model.TrendResult

	// FailCommit, if set, makes UpsertBatch fail before applying anything.
	FailCommit error
	// StaleAfter lets an in_progress marker older than this be reclaimed.
	StaleAfter time.Duration
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markers:    make(map[string]model.RunMarker),
		normalized: make(map[normKey]model.NormalizedRecord),
		aggregates: make(map[aggKey]model.Aggregate),
		trends:     make(map[aggKey]model.TrendResult),
		now:        time.Now,
	}
}

func (m *MemoryStore) AcquireRunMarker(_ context.Context, interval, runID string) (*model.RunMarker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if cur, ok := m.markers[interval]; ok && cur.HeldAt(now, m.StaleAfter) {
		return &cur, ErrMarkerHeld
	}
	mk := model.RunMarker{Interval: interval, RunID: runID, Status: model.MarkerInProgress, StartedAt: now, UpdatedAt: now}
	m.markers[interval] = mk
	return &mk, nil
}

func (m *MemoryStore) GetRunMarker(_ context.Context, interval string) (*model.RunMarker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.markers[interval]; ok {
		return &cur, nil
	}
	return nil, nil
}

func (m *MemoryStore) SetRunMarker(_ context.Context, interval, runID string, status model.MarkerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setMarkerLocked(interval, runID, status)
}

func (m *MemoryStore) setMarkerLocked(interval, runID string, status model.MarkerStatus) error {
	cur, ok := m.markers[interval]
	if !ok || cur.RunID != runID {
		return ErrMarkerLost
	}
	cur.Status = status
	cur.UpdatedAt = m.now().UTC()
	m.markers[interval] = cur
	return nil
}

func (m *MemoryStore) ListRunMarkers(_ context.Context, limit int) ([]model.RunMarker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RunMarker, 0, len(m.markers))
	for _, mk := range m.markers {
		out = append(out, mk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval > out[j].Interval })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpsertBatch(_ context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCommit != nil {
		return m.FailCommit
	}
	cur, ok := m.markers[b.Marker.Interval]
	if !ok || cur.RunID != b.Marker.RunID || cur.Status != model.MarkerInProgress {
		return ErrMarkerLost
	}
	for _, r := range b.Normalized {
		m.normalized[normKey{r.ItemCode, r.MarketCode, dateKey(r.Date), r.Source}] = r
	}
	for _, a := range b.Aggregates {
		m.aggregates[aggKey{a.ItemCode, a.MarketCode, dateKey(a.Date)}] = a
	}
	for _, t := range b.Trends {
		m.trends[aggKey{t.ItemCode, t.MarketCode, dateKey(t.Date)}] = t
	}
	return m.setMarkerLocked(b.Marker.Interval, b.Marker.RunID, model.MarkerCompleted)
}

func (m *MemoryStore) QueryHistory(_ context.Context, item, market string, before time.Time, limit int) ([]model.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Aggregate
	for k, a := range m.aggregates {
		if k.item == item && k.market == market && a.Date.Before(before) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if n := historyLimit(limit); len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (m *MemoryStore) ListAggregates(_ context.Context, f Filter) ([]model.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Aggregate
	for _, a := range m.aggregates {
		if f.match(a.ItemCode, a.Date) {
			out = append(out, a)
		}
	}
	sortAggregates(out)
	return out, nil
}

func (m *MemoryStore) ListTrends(_ context.Context, f Filter) ([]model.TrendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TrendResult
	for _, t := range m.trends {
		if f.match(t.ItemCode, t.Date) {
			out = append(out, t)
		}
	}
	sortTrends(out)
	return out, nil
}

// NormalizedCount returns how many normalized records are stored.
func (m *MemoryStore) NormalizedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.normalized)
}

func (m *MemoryStore) Close() error { return nil }
