package collector

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RetryPhase is a request's position in the retry state machine.
type RetryPhase int

const (
	PhaseIdle RetryPhase = iota
	PhaseRequesting
	PhaseBackoffWait
	PhaseSucceeded
	PhaseFailed
)

func (p RetryPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequesting:
		return "requesting"
	case PhaseBackoffWait:
		return "backoff_wait"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// RetryPolicy bounds retries for a single request.
type RetryPolicy struct {
	MaxAttempts    int           // total attempts including the first
	BackoffUnit    time.Duration // delay after attempt n is BackoffUnit * 2^(n+1)
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy waits 2s then 4s and gives each attempt 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BackoffUnit:    time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BackoffUnit <= 0 {
		p.BackoffUnit = d.BackoffUnit
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// NextDelay returns the wait after the zero-based attempt failed.
func NextDelay(attempt int, unit time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return unit * time.Duration(int64(1)<<uint(attempt+1))
}

// RetryState tracks one request through Idle → Requesting → BackoffWait →
// Succeeded | Failed. It does no I/O.
type RetryState struct {
	Phase       RetryPhase
	Attempt     int // attempts started so far
	MaxAttempts int
	LastErr     error
	NextDelay   time.Duration
}

// NewRetryState returns an idle state allowing maxAttempts attempts.
func NewRetryState(maxAttempts int) *RetryState {
	return &RetryState{Phase: PhaseIdle, MaxAttempts: maxAttempts}
}

// Begin moves to Requesting and counts a new attempt.
func (s *RetryState) Begin() error {
	if s.Phase != PhaseIdle && s.Phase != PhaseBackoffWait {
		return eris.Errorf("retry: cannot begin attempt from %s", s.Phase)
	}
	if s.Attempt >= s.MaxAttempts {
		return eris.Errorf("retry: attempt limit %d reached", s.MaxAttempts)
	}
	s.Attempt++
	s.Phase = PhaseRequesting
	s.NextDelay = 0
	return nil
}

// Record applies the outcome of the current attempt.
func (s *RetryState) Record(err error, unit time.Duration) {
	if s.Phase != PhaseRequesting {
		return
	}
	s.LastErr = err
	switch {
	case err == nil:
		s.Phase = PhaseSucceeded
	case !IsRetryable(err) || s.Attempt >= s.MaxAttempts:
		s.Phase = PhaseFailed
	default:
		s.Phase = PhaseBackoffWait
		s.NextDelay = NextDelay(s.Attempt-1, unit)
	}
}

// Done reports whether the state is terminal.
func (s *RetryState) Done() bool {
	return s.Phase == PhaseSucceeded || s.Phase == PhaseFailed
}

// Retry drives fn through the retry state machine. An in-flight attempt runs
// to completion or its own timeout even if ctx is cancelled; cancellation is
// observed between attempts.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error), onRetry func(*RetryState)) (T, error) {
	policy = policy.withDefaults()
	st := NewRetryState(policy.MaxAttempts)
	var zero T

	for {
		if err := ctx.Err(); err != nil {
			return zero, eris.Wrap(err, "retry: cancelled")
		}
		if err := st.Begin(); err != nil {
			return zero, err
		}

		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), policy.AttemptTimeout)
		val, err := fn(attemptCtx)
		cancel()

		st.Record(err, policy.BackoffUnit)
		switch st.Phase {
		case PhaseSucceeded:
			return val, nil
		case PhaseFailed:
			return zero, st.LastErr
		}

		if onRetry != nil {
			onRetry(st)
		}
		timer := time.NewTimer(st.NextDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, eris.Wrapf(ctx.Err(), "retry: cancelled after attempt %d: %v", st.Attempt, st.LastErr)
		case <-timer.C:
		}
	}
}

// RetryLogger returns an onRetry callback that logs each backoff.
func RetryLogger(source string, page int) func(*RetryState) {
	return func(st *RetryState) {
		zap.L().Warn("collector: retrying request",
			zap.String("source", source),
			zap.Int("page", page),
			zap.Int("attempt", st.Attempt),
			zap.Duration("delay", st.NextDelay),
			zap.Error(st.LastErr),
		)
	}
}
