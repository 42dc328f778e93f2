package asyncrt

import (
	"sync"
	"time"
)

// sleepEvent suspends a task for a fixed duration via the timer service.
type sleepEvent struct {
	d time.Duration

	mu    sync.Mutex
	timer *Timer
	err   error
}

func (e *sleepEvent) Ready() bool {
	return e.d <= 0
}

func (e *sleepEvent) Suspend(w Waker) bool {
	s := w.Scheduler()
	if s == nil || s.Timers() == nil {
		e.err = opError(NotInitializedError, 0)
		return false
	}
	t, err := s.Timers().Schedule(e.d, func() { w.WakeUp() })
	if err != nil {
		e.err = err
		return false
	}
	e.mu.Lock()
	e.timer = t
	e.mu.Unlock()
	return true
}

func (e *sleepEvent) Resume() (None, error) {
	return None{}, e.err
}

// cancelPending releases the timer when the sleeping task is destroyed.
func (e *sleepEvent) cancelPending() {
	e.mu.Lock()
	t := e.timer
	e.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

// Sleep suspends the calling task for at least d.
func Sleep(tc *TaskContext, d time.Duration) error {
	_, err := Await[None](tc, &sleepEvent{d: d})
	return err
}

// Timeout runs fn as a child task racing a timer for d. Whichever finishes
// first notifies a LimitWaiter, which destroys the loser. The result is
// fn's value, or an AsyncTimeoutError operation failure if the timer won.
func Timeout[T any](tc *TaskContext, d time.Duration, fn func(*TaskContext) (T, error)) (T, error) {
	s := tc.Scheduler()
	if s == nil || s.Timers() == nil {
		var zero T
		return zero, opError(NotInitializedError, 0)
	}

	lw := NewLimitWaiter[T]()

	child := NewTask(func(ctc *TaskContext) (None, error) {
		v, err := fn(ctc)
		lw.Notify(v, err)
		return None{}, nil
	})
	lw.AppendTask(child)

	timer, err := s.Timers().Schedule(d, func() {
		var zero T
		lw.Notify(zero, opError(AsyncTimeoutError, 0))
	})
	if err != nil {
		var zero T
		lw.destroyChildren()
		return zero, err
	}

	v, werr := lw.Wait(tc)
	// Either branch may still hold a live timer registration: cancel is
	// idempotent and a no-op for the already-fired case.
	timer.Cancel()
	return v, werr
}
