package pipeline

import (
	"fmt"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// DuplicateRunError is returned when another run already holds the
// interval's marker. Nothing was written.
type DuplicateRunError struct {
	Interval string
	Existing *model.RunMarker
}

func (e *DuplicateRunError) Error() string {
	if e.Existing == nil {
		return fmt.Sprintf("pipeline: duplicate run for %s", e.Interval)
	}
	return fmt.Sprintf("pipeline: duplicate run for %s (held by %s, %s)",
		e.Interval, e.Existing.RunID, e.Existing.Status)
}

// StoreCommitError is returned when the atomic batch upsert fails. The
// store holds nothing from the run and the whole run may be retried.
type StoreCommitError struct {
	Interval string
	Err      error
}

func (e *StoreCommitError) Error() string {
	return fmt.Sprintf("pipeline: commit for %s failed: %v", e.Interval, e.Err)
}

func (e *StoreCommitError) Unwrap() error { return e.Err }

// EmptyStageError is returned when a stage leaves no records to pass on.
// The run ends partially failed without committing.
type EmptyStageError struct {
	Stage model.RunState
}

func (e *EmptyStageError) Error() string {
	return fmt.Sprintf("pipeline: %s stage produced no records", e.Stage)
}

// TransitionError reports an attempt to move the state machine out of order.
type TransitionError struct {
	From, To model.RunState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("pipeline: invalid transition %s -> %s", e.From, e.To)
}
