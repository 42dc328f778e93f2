// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// monoAnchor is the package monotonic reference point. All deadlines are
// millisecond offsets from it; time.Since uses the monotonic clock, so
// wall-clock adjustments (NTP) do not affect timer accuracy.
var monoAnchor = time.Now()

// monoNowMs returns the current monotonic time in milliseconds.
func monoNowMs() int64 {
	return time.Since(monoAnchor).Milliseconds()
}

// Timer is a single scheduled deadline. Owned by the timer service until it
// fires or is cancelled; holders that may wish to cancel or delay it keep
// the returned handle.
type Timer struct {
	deadline int64 // monotonic ms; fixed at schedule, re-read on patch
	seq      uint64
	callback func()

	cancelled atomic.Bool

	// delayedUntil is the lazily applied deadline patch: the heap position
	// is not updated until the timer reaches the head, where the patch is
	// observed and the timer re-inserted.
	delayedUntil atomic.Int64
}

// Cancel marks the timer cancelled. Idempotent, O(1); a cancelled timer
// that reaches the heap head is silently dropped on fire. Cancellation is
// not retroactive to an already-running callback.
func (t *Timer) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *Timer) Cancelled() bool {
	return t.cancelled.Load()
}

// Delay requests a new deadline of now+d, applied lazily at the next
// observation. The deadline never moves earlier than its current value.
func (t *Timer) Delay(d time.Duration) {
	patched := monoNowMs() + d.Milliseconds()
	for {
		cur := t.delayedUntil.Load()
		if patched <= cur {
			return
		}
		if t.delayedUntil.CompareAndSwap(cur, patched) {
			return
		}
	}
}

// Remaining returns the time until the (possibly patched) deadline, never
// negative.
func (t *Timer) Remaining() time.Duration {
	deadline := t.deadline
	if patched := t.delayedUntil.Load(); patched > deadline {
		deadline = patched
	}
	if rem := deadline - monoNowMs(); rem > 0 {
		return time.Duration(rem) * time.Millisecond
	}
	return 0
}

// timerHeap is a min-heap of timers ordered by deadline, FIFO on ties
// (insertion sequence).
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*Timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// TimerService maintains the set of unfired deadlines and keeps a single
// kernel timer armed for the earliest one.
//
// Invariants:
//   - The kernel timer deadline equals the heap head's deadline, or the
//     kernel is unarmed when the set is empty.
//   - A not-yet-cancelled callback runs at most once per Schedule call, on
//     the reactor goroutine, in deadline order.
type TimerService struct {
	reactor *EventReactor

	mu      sync.Mutex
	heap    timerHeap
	seq     uint64
	armedAt int64 // current kernel deadline, 0 = unarmed
	stopped bool

	ident   int
	fireEv  *timerFireEvent
	started bool

	log     *logiface.Logger[logiface.Event]
	metrics *Metrics
}

// timerFireEvent is the reactor event backing the service's kernel timer.
// On Linux its direction is Read (timerfd readiness); on Darwin it is the
// virtual Timer direction (EVFILT_TIMER).
type timerFireEvent struct {
	svc *TimerService
}

func (e *timerFireEvent) Kind() EventKind { return timerEventKind }
func (e *timerFireEvent) Handle() int     { return e.svc.ident }
func (e *timerFireEvent) HandleEvent()    { e.svc.fire() }

// newTimerService creates a timer service bound to the reactor. The kernel
// timer is created and registered at start.
func newTimerService(r *EventReactor) *TimerService {
	return &TimerService{reactor: r, log: r.log, metrics: r.metrics}
}

// start creates the kernel timer and parks the fire event in the reactor's
// dispatcher. Until a timer is scheduled the kernel stays unarmed.
func (s *TimerService) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	ident, err := s.reactor.poller.createTimer()
	if err != nil {
		return err
	}
	s.ident = ident
	s.fireEv = &timerFireEvent{svc: s}
	if err := s.reactor.ArmEvent(s.fireEv); err != nil {
		_ = s.reactor.poller.closeTimer(ident)
		return err
	}
	s.started = true
	return nil
}

// stop disarms the kernel timer and rejects further scheduling. Pending
// timers are dropped without firing.
func (s *TimerService) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	ident := s.ident
	s.heap = nil
	s.armedAt = 0
	s.mu.Unlock()

	if started {
		_ = s.reactor.poller.stopTimer(ident)
		_ = s.reactor.poller.closeTimer(ident)
		s.reactor.ReleaseHandle(ident)
	}
}

// Schedule adds a timer with deadline now+d. If the new timer becomes the
// earliest, the kernel is re-armed. The callback is invoked on the reactor
// goroutine.
func (s *TimerService) Schedule(d time.Duration, callback func()) (*Timer, error) {
	t := &Timer{
		deadline: monoNowMs() + d.Milliseconds(),
		callback: callback,
	}

	s.mu.Lock()
	if s.stopped || !s.started {
		s.mu.Unlock()
		return nil, ErrTimerServiceStopped
	}
	s.seq++
	t.seq = s.seq
	heap.Push(&s.heap, t)
	// Kernel arming happens under the mutex so a concurrent Schedule or
	// fire cannot overwrite an earlier deadline with a later one.
	if s.heap[0] == t && (s.armedAt == 0 || t.deadline < s.armedAt) {
		s.armedAt = t.deadline
		_ = s.reactor.poller.setTimer(s.ident, t.deadline-monoNowMs())
	}
	s.mu.Unlock()
	return t, nil
}

// fire drains expired timers and re-arms for the new head. Runs on the
// reactor goroutine.
func (s *TimerService) fire() {
	drainTimer(s.ident)

	now := monoNowMs()

	s.mu.Lock()
	var due []*Timer
	for len(s.heap) > 0 {
		head := s.heap[0]
		if patched := head.delayedUntil.Load(); patched > head.deadline {
			// Lazy delay patch: re-insert at the new deadline.
			heap.Pop(&s.heap)
			if head.cancelled.Load() {
				continue
			}
			head.deadline = patched
			heap.Push(&s.heap, head)
			continue
		}
		if head.deadline > now {
			break
		}
		heap.Pop(&s.heap)
		if head.cancelled.Load() {
			continue
		}
		due = append(due, head)
	}
	var next int64
	if len(s.heap) > 0 {
		next = s.heap[0].deadline
	}
	s.armedAt = next
	if next != 0 && !s.stopped {
		_ = s.reactor.poller.setTimer(s.ident, next-monoNowMs())
	}
	stopped := s.stopped
	s.mu.Unlock()

	for _, t := range due {
		t.callback()
	}
	if s.metrics != nil {
		s.metrics.timersFired.Add(uint64(len(due)))
	}

	if stopped {
		return
	}

	// The fire event is oneshot in the dispatcher; park it again so the next
	// expiry finds a slot to hit.
	if err := s.reactor.ArmEvent(s.fireEv); err != nil && err != ErrReactorStopped {
		s.log.Err().Err(err).Log("timer service failed to re-arm fire event")
	}
}

// Len returns the number of pending (possibly cancelled) timers.
func (s *TimerService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}
