package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type storeFactory func(t *testing.T) Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "agri.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"pebble": func(t *testing.T) Store {
			s, err := NewPebbleStore(filepath.Join(t.TempDir(), "pebble"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func sampleBatch(interval, runID string) Batch {
	return Batch{
		Normalized: []model.NormalizedRecord{
			{ItemCode: "111", MarketCode: "1101", Date: day(3), Source: "kamis", Price: dec("48000"), CanonicalUnit: "10kg"},
		},
		Aggregates: []model.Aggregate{
			{ItemCode: "111", MarketCode: "1101", Date: day(1), Avg: dec("100.00"), Min: dec("100"), Max: dec("100"), Count: 1},
			{ItemCode: "111", MarketCode: "1101", Date: day(2), Avg: dec("110.50"), Min: dec("110"), Max: dec("111"), Count: 2},
			{ItemCode: "111", MarketCode: "1101", Date: day(3), Avg: dec("120.00"), Min: dec("120"), Max: dec("120"), Count: 1},
			{ItemCode: "111", MarketCode: model.AllMarkets, Date: day(3), Avg: dec("120.00"), Min: dec("120"), Max: dec("120"), Count: 1},
			{ItemCode: "211", MarketCode: "1101", Date: day(3), Avg: dec("9.99"), Min: dec("9.99"), Max: dec("9.99"), Count: 1},
		},
		Trends: []model.TrendResult{
			{
				ItemCode: "111", MarketCode: "1101", Date: day(3),
				Avg: dec("120.00"), MovingAverage: dec("105.25"), Ratio: dec("1.1401"), Deviation: dec("0.1401"),
				Label: model.LabelHigh, HistoryDays: 2,
			},
		},
		Marker: model.RunMarker{Interval: interval, RunID: runID},
	}
}

func TestStoreContract(t *testing.T) {
	for name, mk := range factories() {
		t.Run(name, func(t *testing.T) {
			t.Run("acquire and complete", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()

				got, err := s.AcquireRunMarker(ctx, "2024-01-03", "run-a")
				require.NoError(t, err)
				assert.Equal(t, model.MarkerInProgress, got.Status)

				held, err := s.AcquireRunMarker(ctx, "2024-01-03", "run-b")
				assert.ErrorIs(t, err, ErrMarkerHeld)
				require.NotNil(t, held)
				assert.Equal(t, "run-a", held.RunID)

				require.NoError(t, s.UpsertBatch(ctx, sampleBatch("2024-01-03", "run-a")))

				cur, err := s.GetRunMarker(ctx, "2024-01-03")
				require.NoError(t, err)
				assert.Equal(t, model.MarkerCompleted, cur.Status)

				_, err = s.AcquireRunMarker(ctx, "2024-01-03", "run-c")
				assert.ErrorIs(t, err, ErrMarkerHeld)
			})

			t.Run("failed marker is reclaimable", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()

				_, err := s.AcquireRunMarker(ctx, "2024-01-03", "run-a")
				require.NoError(t, err)
				require.NoError(t, s.SetRunMarker(ctx, "2024-01-03", "run-a", model.MarkerFailed))

				got, err := s.AcquireRunMarker(ctx, "2024-01-03", "run-b")
				require.NoError(t, err)
				assert.Equal(t, "run-b", got.RunID)
				assert.Equal(t, model.MarkerInProgress, got.Status)

				assert.ErrorIs(t, s.SetRunMarker(ctx, "2024-01-03", "run-a", model.MarkerFailed), ErrMarkerLost)
				assert.ErrorIs(t, s.UpsertBatch(ctx, sampleBatch("2024-01-03", "run-a")), ErrMarkerLost)
			})

			t.Run("missing marker", func(t *testing.T) {
				s := mk(t)
				got, err := s.GetRunMarker(context.Background(), "2030-01-01")
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("upsert is idempotent", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()

				_, err := s.AcquireRunMarker(ctx, "2024-01-03", "run-a")
				require.NoError(t, err)
				require.NoError(t, s.UpsertBatch(ctx, sampleBatch("2024-01-03", "run-a")))
				require.NoError(t, s.SetRunMarker(ctx, "2024-01-03", "run-a", model.MarkerFailed))
				_, err = s.AcquireRunMarker(ctx, "2024-01-03", "run-b")
				require.NoError(t, err)
				require.NoError(t, s.UpsertBatch(ctx, sampleBatch("2024-01-03", "run-b")))

				aggs, err := s.ListAggregates(ctx, Filter{})
				require.NoError(t, err)
				assert.Len(t, aggs, 5)
				trends, err := s.ListTrends(ctx, Filter{})
				require.NoError(t, err)
				require.Len(t, trends, 1)
				assert.True(t, dec("1.1401").Equal(trends[0].Ratio))
				assert.Equal(t, model.LabelHigh, trends[0].Label)
				assert.Equal(t, 2, trends[0].HistoryDays)
			})

			t.Run("history is strictly before and oldest first", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()

				_, err := s.AcquireRunMarker(ctx, "2024-01-03", "run-a")
				require.NoError(t, err)
				require.NoError(t, s.UpsertBatch(ctx, sampleBatch("2024-01-03", "run-a")))

				hist, err := s.QueryHistory(ctx, "111", "1101", day(3), 0)
				require.NoError(t, err)
				require.Len(t, hist, 2)
				assert.True(t, hist[0].Date.Equal(day(1)))
				assert.True(t, hist[1].Date.Equal(day(2)))
				assert.True(t, dec("110.50").Equal(hist[1].Avg))
				assert.Equal(t, 2, hist[1].Count)

				hist, err = s.QueryHistory(ctx, "111", "1101", day(4), 1)
				require.NoError(t, err)
				require.Len(t, hist, 1)
				assert.True(t, hist[0].Date.Equal(day(3)))

				hist, err = s.QueryHistory(ctx, "111", model.AllMarkets, day(4), 0)
				require.NoError(t, err)
				require.Len(t, hist, 1)
				assert.Equal(t, model.AllMarkets, hist[0].MarketCode)
			})

			t.Run("filters", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()

				_, err := s.AcquireRunMarker(ctx, "2024-01-03", "run-a")
				require.NoError(t, err)
				require.NoError(t, s.UpsertBatch(ctx, sampleBatch("2024-01-03", "run-a")))

				aggs, err := s.ListAggregates(ctx, Filter{ItemCode: "211"})
				require.NoError(t, err)
				require.Len(t, aggs, 1)
				assert.True(t, dec("9.99").Equal(aggs[0].Avg))

				aggs, err = s.ListAggregates(ctx, Filter{ItemCode: "111", From: day(2), To: day(2)})
				require.NoError(t, err)
				require.Len(t, aggs, 1)
				assert.True(t, aggs[0].Date.Equal(day(2)))
			})

			t.Run("list markers newest first", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()
				for _, iv := range []string{"2024-01-01", "2024-01-03", "2024-01-02"} {
					_, err := s.AcquireRunMarker(ctx, iv, "run-"+iv)
					require.NoError(t, err)
				}
				ms, err := s.ListRunMarkers(ctx, 2)
				require.NoError(t, err)
				require.Len(t, ms, 2)
				assert.Equal(t, "2024-01-03", ms[0].Interval)
				assert.Equal(t, "2024-01-02", ms[1].Interval)
			})

			t.Run("concurrent acquire has one winner", func(t *testing.T) {
				s := mk(t)
				ctx := context.Background()

				const racers = 8
				var (
					wg   sync.WaitGroup
					mu   sync.Mutex
					wins int
				)
				for i := 0; i < racers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						_, err := s.AcquireRunMarker(ctx, "2024-01-03", "run-"+string(rune('a'+i)))
						if err == nil {
							mu.Lock()
							wins++
							mu.Unlock()
						}
					}(i)
				}
				wg.Wait()
				assert.Equal(t, 1, wins)
			})
		})
	}
}

func TestMemoryStoreFailCommitLeavesNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.AcquireRunMarker(ctx, "2024-01-03", "run-a")
	require.NoError(t, err)

	s.FailCommit = assert.AnError
	assert.ErrorIs(t, s.UpsertBatch(ctx, sampleBatch("2024-01-03", "run-a")), assert.AnError)
	assert.Zero(t, s.NormalizedCount())

	aggs, err := s.ListAggregates(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, aggs)

	cur, err := s.GetRunMarker(ctx, "2024-01-03")
	require.NoError(t, err)
	assert.Equal(t, model.MarkerInProgress, cur.Status)
}

func TestStaleInProgressMarker(t *testing.T) {
	const interval = "2024-01-03"
	old := time.Now().UTC().Add(-3 * time.Hour)

	cases := map[string]func(t *testing.T, staleAfter time.Duration) Store{
		"memory": func(t *testing.T, staleAfter time.Duration) Store {
			s := NewMemoryStore()
			s.StaleAfter = staleAfter
			s.now = func() time.Time { return old }
			_, err := s.AcquireRunMarker(context.Background(), interval, "run-a")
			require.NoError(t, err)
			s.now = time.Now
			return s
		},
		"sqlite": func(t *testing.T, staleAfter time.Duration) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "agri.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			s.StaleAfter = staleAfter
			_, err = s.AcquireRunMarker(context.Background(), interval, "run-a")
			require.NoError(t, err)
			_, err = s.db.Exec("UPDATE run_markers SET updated_at = ? WHERE run_interval = ?", old.Unix(), interval)
			require.NoError(t, err)
			return s
		},
		"pebble": func(t *testing.T, staleAfter time.Duration) Store {
			s, err := NewPebbleStore(filepath.Join(t.TempDir(), "pebble"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			s.StaleAfter = staleAfter
			mk, err := s.AcquireRunMarker(context.Background(), interval, "run-a")
			require.NoError(t, err)
			mk.UpdatedAt = old
			require.NoError(t, s.putMarker(*mk))
			return s
		},
	}

	for name, mk := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("held without a cutoff", func(t *testing.T) {
				s := mk(t, 0)
				held, err := s.AcquireRunMarker(ctx, interval, "run-b")
				assert.ErrorIs(t, err, ErrMarkerHeld)
				require.NotNil(t, held)
				assert.Equal(t, "run-a", held.RunID)
			})

			t.Run("fresh marker stays held", func(t *testing.T) {
				s := mk(t, 4*time.Hour)
				_, err := s.AcquireRunMarker(ctx, interval, "run-b")
				assert.ErrorIs(t, err, ErrMarkerHeld)
			})

			t.Run("stale marker is reclaimed", func(t *testing.T) {
				s := mk(t, 2*time.Hour)
				got, err := s.AcquireRunMarker(ctx, interval, "run-b")
				require.NoError(t, err)
				assert.Equal(t, "run-b", got.RunID)
				assert.Equal(t, model.MarkerInProgress, got.Status)

				// The abandoned run can no longer write.
				assert.ErrorIs(t, s.UpsertBatch(ctx, sampleBatch(interval, "run-a")), ErrMarkerLost)
			})

			t.Run("completed marker never goes stale", func(t *testing.T) {
				s := mk(t, 2*time.Hour)
				require.NoError(t, s.UpsertBatch(ctx, sampleBatch(interval, "run-a")))
				_, err := s.AcquireRunMarker(ctx, interval, "run-b")
				assert.ErrorIs(t, err, ErrMarkerHeld)
			})
		})
	}
}

func TestRunMarkerHeldAt(t *testing.T) {
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	mk := model.RunMarker{Status: model.MarkerInProgress, UpdatedAt: now.Add(-time.Hour)}
	assert.True(t, mk.HeldAt(now, 0))
	assert.True(t, mk.HeldAt(now, 2*time.Hour))
	assert.False(t, mk.HeldAt(now, 30*time.Minute))

	mk.Status = model.MarkerFailed
	assert.False(t, mk.HeldAt(now, 0))
	mk.Status = model.MarkerCompleted
	assert.True(t, mk.HeldAt(now, time.Nanosecond))
}
