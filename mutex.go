package asyncrt

import (
	"sync"
	"sync/atomic"
)

// AsyncMutex is an ownership lock awaited by tasks. If the lock is free it
// is taken synchronously; otherwise the caller's waker joins a FIFO queue
// and the task suspends. Unlock hands the lock directly to the oldest
// waiter, so waiters acquire in arrival order ahead of any later arrival.
//
// The zero value is an unlocked mutex.
type AsyncMutex struct {
	locked atomic.Bool

	mu      sync.Mutex
	waiters []Waker
}

// Locked reports whether the mutex is currently held.
func (m *AsyncMutex) Locked() bool {
	return m.locked.Load()
}

// TryLock attempts to take the lock without suspending.
func (m *AsyncMutex) TryLock() bool {
	return m.locked.CompareAndSwap(false, true)
}

// Lock suspends the calling task until it owns the lock.
func (m *AsyncMutex) Lock(tc *TaskContext) {
	_, _ = Await[None](tc, &lockEvent{m: m})
}

// Unlock releases the lock. If tasks are waiting, ownership transfers to
// the oldest waiter without the lock ever appearing free, preserving FIFO
// fairness; an expired waiter forfeits its turn.
func (m *AsyncMutex) Unlock() {
	for {
		m.mu.Lock()
		if len(m.waiters) == 0 {
			m.locked.Store(false)
			m.mu.Unlock()
			return
		}
		w := m.waiters[0]
		m.waiters[0] = Waker{}
		m.waiters = m.waiters[1:]
		m.mu.Unlock()
		if w.WakeUp() {
			return
		}
		// Expired or unwakeable waiter; pass the lock on.
	}
}

// lockEvent is the awaitable returned by Lock.
type lockEvent struct {
	m *AsyncMutex
}

func (e *lockEvent) Ready() bool {
	return e.m.TryLock()
}

func (e *lockEvent) Suspend(w Waker) bool {
	m := e.m
	m.mu.Lock()
	// Retry under the queue lock: an unlock that ran between Ready and here
	// must not leave the task parked on a free mutex.
	if m.TryLock() {
		m.mu.Unlock()
		return false
	}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()
	return true
}

func (e *lockEvent) Resume() (None, error) {
	// Either acquired synchronously, or ownership was handed off by Unlock.
	return None{}, nil
}
