package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, NextDelay(0, time.Second))
	assert.Equal(t, 4*time.Second, NextDelay(1, time.Second))
	assert.Equal(t, 8*time.Millisecond, NextDelay(2, time.Millisecond))
	assert.Equal(t, 2*time.Second, NextDelay(-1, time.Second))
}

func TestRetryState_Transitions(t *testing.T) {
	st := NewRetryState(3)
	assert.Equal(t, PhaseIdle, st.Phase)

	require.NoError(t, st.Begin())
	assert.Equal(t, PhaseRequesting, st.Phase)
	st.Record(&NetworkError{StatusCode: 503, Err: errors.New("unavailable")}, time.Second)
	assert.Equal(t, PhaseBackoffWait, st.Phase)
	assert.Equal(t, 2*time.Second, st.NextDelay)

	require.NoError(t, st.Begin())
	st.Record(&NetworkError{Err: errors.New("reset")}, time.Second)
	assert.Equal(t, PhaseBackoffWait, st.Phase)
	assert.Equal(t, 4*time.Second, st.NextDelay)

	require.NoError(t, st.Begin())
	st.Record(&NetworkError{Err: errors.New("reset")}, time.Second)
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, 3, st.Attempt)
	assert.True(t, st.Done())

	assert.Error(t, st.Begin())
}

func TestRetryState_ClientErrorIsTerminal(t *testing.T) {
	st := NewRetryState(3)
	require.NoError(t, st.Begin())
	st.Record(&ClientError{StatusCode: 404, Message: "not found"}, time.Second)
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, 1, st.Attempt)
}

func TestRetryState_Success(t *testing.T) {
	st := NewRetryState(3)
	require.NoError(t, st.Begin())
	st.Record(nil, time.Second)
	assert.Equal(t, PhaseSucceeded, st.Phase)
	assert.NoError(t, st.LastErr)
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffUnit: time.Millisecond, AttemptTimeout: time.Second}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retries []int
	v, err := Retry(context.Background(), fastPolicy(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &NetworkError{StatusCode: 502, Err: errors.New("bad gateway")}
		}
		return "ok", nil
	}, func(st *RetryState) { retries = append(retries, st.Attempt) })

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, &NetworkError{Err: errors.New("timeout")}
	}, nil)

	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 3, calls)
}

func TestRetry_NoRetryOnMalformed(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, &MalformedResponseError{Page: 1, Err: errors.New("bad json")}
	}, nil)

	var me *MalformedResponseError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 1, calls)
}

func TestRetry_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 3, BackoffUnit: time.Hour, AttemptTimeout: time.Second}

	calls := 0
	_, err := Retry(ctx, policy, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, &NetworkError{Err: errors.New("refused")}
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetry_InFlightAttemptSurvivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	v, err := Retry(ctx, fastPolicy(), func(actx context.Context) (string, error) {
		cancel()
		if actx.Err() != nil {
			return "", actx.Err()
		}
		return "done", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "client", string(FailureKind(&ClientError{StatusCode: 400})))
	assert.Equal(t, "malformed", string(FailureKind(&MalformedResponseError{})))
	assert.Equal(t, "network", string(FailureKind(&NetworkError{})))
}
