// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRuntime builds and starts a runtime, registering cleanup.
func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, rt.Start())
	t.Cleanup(func() { _ = rt.Stop() })
	return rt
}

// waitDone fails the test if the task does not finish within d.
func waitDone(t *testing.T, done <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("task did not finish in time")
	}
}

func TestTask_ResultAndStatus(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	task := NewTask(func(tc *TaskContext) (string, error) {
		return "done", nil
	})
	assert.Equal(t, TaskRunning, task.Status())

	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)

	assert.Equal(t, TaskFinished, task.Status())
	v, ok := task.Result()
	require.True(t, ok)
	assert.Equal(t, "done", v)
	assert.NoError(t, task.Err())
}

func TestTask_StatusMonotonicity(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))

	var observed []TaskStatus
	var mu sync.Mutex
	record := func(s TaskStatus) {
		mu.Lock()
		observed = append(observed, s)
		mu.Unlock()
	}

	task := NewTask(func(tc *TaskContext) (None, error) {
		record(tc.core.status.Load()) // Running
		_ = Sleep(tc, 10*time.Millisecond)
		record(tc.core.status.Load()) // Running again after wake
		return None{}, nil
	})
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)
	record(task.Status()) // Finished

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []TaskStatus{TaskRunning, TaskRunning, TaskFinished}, observed)
}

func TestTask_DeferLIFO(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))

	var order []string
	var mu sync.Mutex
	push := func(name string) func(WeakTask) {
		return func(w WeakTask) {
			st, _ := w.Status()
			mu.Lock()
			order = append(order, name+":"+st.String())
			mu.Unlock()
		}
	}

	task := NewTask(func(tc *TaskContext) (None, error) {
		tc.Defer(push("d1"))
		tc.Defer(push("d2"))
		tc.Defer(push("d3"))
		return None{}, nil
	})
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)

	mu.Lock()
	defer mu.Unlock()
	// LIFO, and every defer observes the Finished status.
	require.Equal(t, []string{"d3:Finished", "d2:Finished", "d1:Finished"}, order)
}

func TestTask_PanicIsCaptured(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))

	task := NewTask(func(tc *TaskContext) (None, error) {
		panic("boom")
	})
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)

	_, ok := task.Result()
	assert.False(t, ok)
	require.Error(t, task.Err())
	assert.True(t, strings.Contains(task.Err().Error(), "panicked"))
}

func TestTask_Then(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	second := NewTask(func(tc *TaskContext) (string, error) {
		return "second", nil
	})
	// Bind (but park) the continuation on a scheduler so Then can resume it.
	secondCore := second.taskCore()
	secondCore.sched.Store(rt.scheds[0])

	first := NewTask(func(tc *TaskContext) (string, error) {
		_ = Sleep(tc, 10*time.Millisecond)
		return "first", nil
	})
	first.Then(second)

	require.NoError(t, rt.Schedule(first))
	waitDone(t, first.Done(), 5*time.Second)
	waitDone(t, second.Done(), 5*time.Second)

	v, ok := second.Result()
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestTask_WaitForResult(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	target := NewTask(func(tc *TaskContext) (int, error) {
		_ = Sleep(tc, 20*time.Millisecond)
		return 42, nil
	})

	waiter := NewTask(func(tc *TaskContext) (int, error) {
		return target.Wait(tc)
	})

	require.NoError(t, rt.Schedule(target))
	require.NoError(t, rt.Schedule(waiter))
	waitDone(t, waiter.Done(), 5*time.Second)

	v, ok := waiter.Result()
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestTask_WaitFinishedTargetIsImmediate(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))

	target := NewTask(func(tc *TaskContext) (int, error) { return 7, nil })
	require.NoError(t, rt.Schedule(target))
	waitDone(t, target.Done(), 5*time.Second)

	waiter := NewTask(func(tc *TaskContext) (int, error) {
		return target.Wait(tc)
	})
	require.NoError(t, rt.Schedule(waiter))
	waitDone(t, waiter.Done(), 5*time.Second)

	v, ok := waiter.Result()
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestTask_DestroyWhileSuspended(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))

	var deferRan bool
	var mu sync.Mutex

	task := NewTask(func(tc *TaskContext) (string, error) {
		tc.Defer(func(WeakTask) {
			mu.Lock()
			deferRan = true
			mu.Unlock()
		})
		_ = Sleep(tc, 10*time.Second)
		return "never", nil
	})
	require.NoError(t, rt.Schedule(task))

	// Let the task reach its suspension point.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, rt.scheds[0].Destroy(task.Weak()))

	waitDone(t, task.Done(), 5*time.Second)
	assert.Equal(t, TaskFinished, task.Status())
	_, ok := task.Result()
	assert.False(t, ok, "destroyed task must not produce a result")

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, deferRan, "defers still run on destroy")
}

func TestTask_RescheduleAfterFinishIsNoop(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))

	task := NewTask(func(tc *TaskContext) (None, error) { return None{}, nil })
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)

	// A second submission of a finished task is skipped by the worker.
	require.NoError(t, rt.scheds[0].Resume(task.Weak()))

	// The scheduler must still be operational afterwards.
	probe := NewTask(func(tc *TaskContext) (None, error) { return None{}, nil })
	require.NoError(t, rt.ScheduleTo(probe, 0))
	waitDone(t, probe.Done(), 5*time.Second)
}

func TestAwait_ReadyFastPathSkipsSuspension(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))

	task := NewTask(func(tc *TaskContext) (int, error) {
		return Await[int](tc, &readyValue[int]{value: 9})
	})
	require.NoError(t, rt.Schedule(task))
	waitDone(t, task.Done(), 5*time.Second)

	v, ok := task.Result()
	require.True(t, ok)
	assert.Equal(t, 9, v)
}
