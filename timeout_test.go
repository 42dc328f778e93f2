package asyncrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleep_ElapsesAtLeastDuration(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	task := NewTask(func(tc *TaskContext) (time.Duration, error) {
		start := time.Now()
		if err := Sleep(tc, 50*time.Millisecond); err != nil {
			return 0, err
		}
		return time.Since(start), nil
	})
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)

	elapsed, ok := task.Result()
	require.True(t, ok)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestSleep_ZeroDurationCompletesSynchronously(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))

	task := NewTask(func(tc *TaskContext) (None, error) {
		return None{}, Sleep(tc, 0)
	})
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)
	assert.NoError(t, task.Err())
}

func TestTimeout_TimerWins(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	start := time.Now()
	task := NewTask(func(tc *TaskContext) (string, error) {
		return Timeout(tc, 10*time.Millisecond, func(ctc *TaskContext) (string, error) {
			if err := Sleep(ctc, time.Second); err != nil {
				return "", err
			}
			return "inner", nil
		})
	})
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)

	require.Error(t, task.Err())
	assert.True(t, IsTimeout(task.Err()), "expected AsyncTimeoutError, got %v", task.Err())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestTimeout_InnerWins(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	start := time.Now()
	task := NewTask(func(tc *TaskContext) (string, error) {
		return Timeout(tc, time.Second, func(ctc *TaskContext) (string, error) {
			if err := Sleep(ctc, 10*time.Millisecond); err != nil {
				return "", err
			}
			return "inner", nil
		})
	})
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)

	require.NoError(t, task.Err())
	v, ok := task.Result()
	require.True(t, ok)
	assert.Equal(t, "inner", v)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestTimeout_InnerErrorPropagates(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	task := NewTask(func(tc *TaskContext) (string, error) {
		return Timeout(tc, time.Second, func(ctc *TaskContext) (string, error) {
			return "", opError(CallRecvError, 0)
		})
	})
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)

	require.Error(t, task.Err())
	assert.ErrorIs(t, task.Err(), &OpError{Kind: CallRecvError})
}
