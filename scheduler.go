// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// actionKind is the verb of a scheduler queue entry.
type actionKind uint8

const (
	actionNone actionKind = iota
	actionResume
	actionDestroy
	actionMigrate
	actionStop
)

// schedAction is one multi-producer queue entry: an action applied to a
// weakly-held task.
type schedAction struct {
	kind   actionKind
	task   WeakTask
	target *TaskScheduler // Migrate only
}

var schedulerIDCounter atomic.Uint64

// TaskScheduler executes tasks one at a time on a dedicated worker
// goroutine, consuming a multi-producer queue of (action, task) pairs.
//
// Invariants:
//   - A task's scheduler pointer is stored before its action is enqueued
//     (publication discipline: the worker and any waker observe the binding
//     before the task can run).
//   - The worker processes one task execution segment at a time, waiting for
//     the task to suspend or finish before dequeuing the next action, which
//     makes execution cooperative and intra-scheduler ordering FIFO in wake
//     arrival order.
//   - Expired weak references are silently skipped.
type TaskScheduler struct {
	id uint64

	mu      sync.Mutex
	queue   chunkQueue[schedAction]
	stopped bool

	wake chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// Set by the owning Runtime so suspended operations can reach the
	// reactor and timer service through their waker.
	reactor *EventReactor
	timers  *TimerService

	log *logiface.Logger[logiface.Event]

	metrics *Metrics
}

// NewTaskScheduler creates a scheduler. It does not start the worker; call
// Start.
func NewTaskScheduler() *TaskScheduler {
	return &TaskScheduler{
		id:   schedulerIDCounter.Add(1),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// ID returns the scheduler's unique id.
func (s *TaskScheduler) ID() uint64 { return s.id }

// Reactor returns the event reactor serving this scheduler, or nil if the
// scheduler is standalone.
func (s *TaskScheduler) Reactor() *EventReactor { return s.reactor }

// Timers returns the timer service serving this scheduler, or nil if the
// scheduler is standalone.
func (s *TaskScheduler) Timers() *TimerService { return s.timers }

// Start launches the worker goroutine. Idempotent.
func (s *TaskScheduler) Start() {
	s.startOnce.Do(func() {
		go s.worker()
	})
}

// Stop enqueues the stop sentinel and joins the worker. Actions enqueued
// after Stop returns an error; actions already queued behind the sentinel
// are dropped. Idempotent.
func (s *TaskScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.queue.push(schedAction{kind: actionStop})
		s.stopped = true
		s.mu.Unlock()
		s.notify()
		<-s.done
	})
}

// Schedule submits a newly created task: the task is bound to this
// scheduler and resumed for the first time.
func (s *TaskScheduler) Schedule(t TaskHandle) error {
	c := t.taskCore()
	w := WeakTask{}
	if c != nil {
		w = (&TaskContext{core: c}).Weak()
	}
	return s.Resume(w)
}

// Resume binds the task to this scheduler and enqueues a Resume action.
func (s *TaskScheduler) Resume(w WeakTask) error {
	if c := w.get(); c != nil {
		c.sched.Store(s)
	}
	return s.enqueue(schedAction{kind: actionResume, task: w})
}

// Destroy enqueues a Destroy action. The task's frame unwinds at its
// current (or next) suspension point, on the worker, so releases run in the
// right context.
func (s *TaskScheduler) Destroy(w WeakTask) error {
	return s.enqueue(schedAction{kind: actionDestroy, task: w})
}

// Migrate reassigns the task to target and resumes it there. Only valid
// while the task is Suspended.
func (s *TaskScheduler) Migrate(w WeakTask, target *TaskScheduler) error {
	return s.enqueue(schedAction{kind: actionMigrate, task: w, target: target})
}

func (s *TaskScheduler) enqueue(a schedAction) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.queue.push(a)
	s.mu.Unlock()
	s.notify()
	return nil
}

// notify wakes the worker. The buffered channel deduplicates redundant
// wakes: a single pending token is enough, the worker drains the whole
// queue per token.
func (s *TaskScheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// worker is the scheduler's single consumer loop.
func (s *TaskScheduler) worker() {
	defer close(s.done)
	for {
		s.mu.Lock()
		a, ok := s.queue.pop()
		s.mu.Unlock()
		if !ok {
			<-s.wake
			continue
		}

		switch a.kind {
		case actionStop:
			return

		case actionResume:
			s.runSegment(a.task, signalResume)

		case actionDestroy:
			s.runSegment(a.task, signalDestroy)

		case actionMigrate:
			if a.target == nil || a.target == s {
				continue
			}
			c := a.task.get()
			if c == nil || c.isFinished() {
				continue
			}
			// Reassignment is only valid while the task is Suspended; the
			// CAS doubles as the wake that the follow-up resume delivers.
			if !c.status.TryTransition(TaskSuspended, TaskRunning) {
				s.log.Warning().
					Uint64("scheduler", s.id).
					Uint64("task", c.id).
					Log("migrate refused: task not suspended")
				continue
			}
			c.sched.Store(a.target)
			if err := a.target.enqueue(schedAction{kind: actionResume, task: a.task}); err != nil {
				s.log.Warning().
					Uint64("scheduler", s.id).
					Uint64("task", c.id).
					Err(err).
					Log("migrate target rejected task")
			}

		case actionNone:
		}
	}
}

// runSegment delivers a signal to the task and waits for it to quiesce
// (suspend or finish). Expired and finished tasks are skipped; the
// finished check is reliable here because the previous segment's yield was
// consumed before this action was dequeued, and the Finished store happens
// before that yield is sent.
func (s *TaskScheduler) runSegment(w WeakTask, sig taskSignal) {
	c := w.get()
	if c == nil || c.isFinished() {
		return
	}
	c.deliver(sig)
	<-c.yield
	if s.metrics != nil {
		s.metrics.segmentsExecuted.Add(1)
	}
}
