// Package runlog keeps a small on-disk journal of recent run outcomes for
// the status command and the Telegram /status reply.
package runlog

import (
	"context"
	"sync"
	"time"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// DefaultCapacity is how many entries the journal keeps.
const DefaultCapacity = 60

// Entry is the condensed form of one RunReport.
type Entry struct {
	RunID        string                        `json:"run_id"`
	Interval     string                        `json:"interval"`
	Outcome      string                        `json:"outcome"`
	StartedAt    time.Time                     `json:"started_at"`
	Duration     time.Duration                 `json:"duration"`
	PagesFetched int                           `json:"pages_fetched"`
	PageFailures map[model.PageFailureKind]int `json:"page_failures,omitempty"`
	Drops        model.DropCounts              `json:"drops,omitempty"`
	Normalized   int                           `json:"normalized"`
	Aggregates   int                           `json:"aggregates"`
	Anomalies    int                           `json:"anomalies"`
	Error        string                        `json:"error,omitempty"`
}

// EntryOf condenses rep.
func EntryOf(rep *model.RunReport) Entry {
	return Entry{
		RunID:        rep.RunID,
		Interval:     rep.Interval,
		Outcome:      rep.Outcome(),
		StartedAt:    rep.StartedAt,
		Duration:     rep.Duration(),
		PagesFetched: rep.PagesFetched,
		PageFailures: rep.PageFailures,
		Drops:        rep.Drops,
		Normalized:   rep.Normalized,
		Aggregates:   rep.Aggregates,
		Anomalies:    len(rep.Anomalies),
		Error:        rep.Error,
	}
}

// Journal is a bounded, file-backed list of entries, newest last. It is
// safe for concurrent use.
type Journal struct {
	mu       sync.Mutex
	state    *State
	filePath string
	capacity int
}

// Open loads the journal at filePath, creating it empty if absent.
func Open(filePath string, capacity int) (*Journal, error) {
	state, err := LoadState(filePath)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	j := &Journal{state: state, filePath: filePath, capacity: capacity}
	j.trim()
	return j, nil
}

func (j *Journal) trim() {
	if n := len(j.state.Entries); n > j.capacity {
		j.state.Entries = append([]Entry(nil), j.state.Entries[n-j.capacity:]...)
	}
}

// Append records rep and persists the journal.
func (j *Journal) Append(rep *model.RunReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.Entries = append(j.state.Entries, EntryOf(rep))
	j.trim()
	return SaveState(j.filePath, j.state)
}

// RunFinished satisfies pipeline.Sink.
func (j *Journal) RunFinished(_ context.Context, rep *model.RunReport, _ []model.Aggregate) error {
	return j.Append(rep)
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	es := j.state.Entries
	if n <= 0 || n > len(es) {
		n = len(es)
	}
	out := make([]Entry, 0, n)
	for i := len(es) - 1; i >= len(es)-n; i-- {
		out = append(out, es[i])
	}
	return out
}

// Last returns the newest entry for interval.
func (j *Journal) Last(interval string) (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.state.Entries) - 1; i >= 0; i-- {
		if j.state.Entries[i].Interval == interval {
			return j.state.Entries[i], true
		}
	}
	return Entry{}, false
}
