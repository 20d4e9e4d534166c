package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RunState is a pipeline run's position in its state machine.
type RunState string

const (
	StateIdle            RunState = "idle"
	StateCollecting      RunState = "collecting"
	StateCleaning        RunState = "cleaning"
	StateNormalizing     RunState = "normalizing"
	StateAggregating     RunState = "aggregating"
	StateAnalyzing       RunState = "analyzing"
	StateComparing       RunState = "comparing"
	StateCommitting      RunState = "committing"
	StateCompleted       RunState = "completed"
	StatePartiallyFailed RunState = "partially_failed"
	StateAborted         RunState = "aborted"
)

// Terminal reports whether no further transition is possible from s.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StatePartiallyFailed || s == StateAborted
}

// MarkerStatus is the lifecycle status persisted with a run marker.
type MarkerStatus string

const (
	MarkerInProgress MarkerStatus = "in_progress"
	MarkerCompleted  MarkerStatus = "completed"
	MarkerFailed     MarkerStatus = "failed"
)

// RunMarker records which run owns an interval.
type RunMarker struct {
	Interval  string       `json:"interval"`
	RunID     string       `json:"run_id"`
	Status    MarkerStatus `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Held reports whether the marker blocks another run for its interval.
func (m RunMarker) Held() bool {
	return m.Status == MarkerInProgress || m.Status == MarkerCompleted
}

// HeldAt is Held with an in_progress marker older than staleAfter counted as
// abandoned. A zero staleAfter never expires a marker.
func (m RunMarker) HeldAt(now time.Time, staleAfter time.Duration) bool {
	if m.Status == MarkerInProgress && staleAfter > 0 && m.UpdatedAt.Before(now.Add(-staleAfter)) {
		return false
	}
	return m.Held()
}

// DropCause names why a record or page was excluded.
type DropCause string

const (
	DropMissingField DropCause = "missing_field"
	DropInvalidPrice DropCause = "invalid_price"
	DropInvalidDate  DropCause = "invalid_date"
	DropDuplicate    DropCause = "duplicate"
	DropUnknownUnit  DropCause = "unknown_unit"
)

// DropCounts tallies excluded records per cause.
type DropCounts map[DropCause]int

// Add increments the count for cause by n.
func (d DropCounts) Add(cause DropCause, n int) {
	if n > 0 {
		d[cause] += n
	}
}

// Merge adds every count in o to d.
func (d DropCounts) Merge(o DropCounts) {
	for k, v := range o {
		d.Add(k, v)
	}
}

// Total returns the sum over all causes.
func (d DropCounts) Total() int {
	n := 0
	for _, v := range d {
		n += v
	}
	return n
}

// Lossy returns the total excluding duplicates, which are resolved rather than lost.
func (d DropCounts) Lossy() int {
	return d.Total() - d[DropDuplicate]
}

// String renders the counts in a stable order, e.g. "invalid_price=2 missing_field=1".
func (d DropCounts) String() string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, d[DropCause(k)]))
	}
	return strings.Join(parts, " ")
}

// PageFailureKind names why a page was skipped.
type PageFailureKind string

const (
	PageClient    PageFailureKind = "client"
	PageMalformed PageFailureKind = "malformed"
	PageNetwork   PageFailureKind = "network"
)

// RunReport describes the outcome of one pipeline run.
type RunReport struct {
	RunID        string                  `json:"run_id"`
	Interval     string                  `json:"interval"`
	State        RunState                `json:"state"`
	Transitions  []RunState              `json:"transitions"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
	PagesFetched int                     `json:"pages_fetched"`
	PageFailures map[PageFailureKind]int `json:"page_failures,omitempty"`
	Drops        DropCounts              `json:"drops,omitempty"`
	RawCount     int                     `json:"raw_count"`
	CleanedCount int                     `json:"cleaned_count"`
	Normalized   int                     `json:"normalized_count"`
	Aggregates   int                     `json:"aggregate_count"`
	Trends       []TrendResult           `json:"-"`
	Comparisons  []MarketComparison      `json:"-"`
	Seasonal     []SeasonalComparison    `json:"-"`
	Anomalies    []TrendResult           `json:"anomalies,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

// NewRunReport returns an empty report in the idle state.
func NewRunReport(runID, interval string) *RunReport {
	return &RunReport{
		RunID:        runID,
		Interval:     interval,
		State:        StateIdle,
		Transitions:  []RunState{StateIdle},
		PageFailures: make(map[PageFailureKind]int),
		Drops:        make(DropCounts),
	}
}

// Lossy reports whether any page or record was lost during the run.
func (r *RunReport) Lossy() bool {
	if r.Drops.Lossy() > 0 {
		return true
	}
	for _, n := range r.PageFailures {
		if n > 0 {
			return true
		}
	}
	return false
}

// Outcome is the operator-facing status: a committed run with losses reads
// "completed_with_losses" while State stays completed.
func (r *RunReport) Outcome() string {
	if r.State == StateCompleted && r.Lossy() {
		return "completed_with_losses"
	}
	return string(r.State)
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
