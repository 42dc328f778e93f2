// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"weak"
)

var taskIDCounter atomic.Uint64

// taskSignal is delivered to a parked task goroutine by its scheduler worker.
type taskSignal uint8

const (
	signalResume taskSignal = iota
	signalDestroy
)

// destroyUnwind is the panic value used to unwind a task frame on destroy.
// It never escapes the task trampoline.
type destroyUnwind struct{}

// taskCore is the scheduler-visible core of a task. It is strongly owned by
// the Task handle and the task goroutine; everything else (wakers, scheduler
// queues, the liveness manager, reactor slots) observes it through WeakTask
// and must tolerate expiry.
//
// Execution handshake: a scheduler worker delivers a signal on resume (cap 1,
// so delivery never blocks across the park window), then waits on yield. The
// task sends on yield exactly once per execution segment, at its next
// suspension or at completion. This serializes task execution per scheduler:
// the worker processes the next queue item only after the task quiesces.
type taskCore struct {
	id     uint64
	status statusAtom
	sched  atomic.Pointer[TaskScheduler]

	resume chan taskSignal
	yield  chan struct{}
	done   chan struct{}

	deferMu sync.Mutex
	defers  []func(WeakTask)

	waitMu    sync.Mutex
	waiter    Waker
	hasWaiter bool
}

func newTaskCore() *taskCore {
	return &taskCore{
		id:     taskIDCounter.Add(1),
		resume: make(chan taskSignal, 1),
		yield:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *taskCore) isFinished() bool {
	return c.status.Load() == TaskFinished
}

// deliver hands a signal to the (parked or about-to-park) task goroutine.
// Called by the owning scheduler worker, which serializes segments, or (to
// destroy a task that was never bound to a scheduler) by the liveness manager
// and Waiter.destroyChildren; in every case the buffered channel can never
// already hold a signal.
func (c *taskCore) deliver(sig taskSignal) {
	c.resume <- sig
}

// park ends the current execution segment and blocks until the next signal.
// Returns true if the task was destroyed while parked.
func (c *taskCore) park() bool {
	c.yield <- struct{}{}
	return <-c.resume == signalDestroy
}

// pushDefer pushes a callback onto the defer stack. Callbacks run LIFO
// between the Finished transition and destruction, see the task trampoline.
func (c *taskCore) pushDefer(fn func(WeakTask)) {
	c.deferMu.Lock()
	c.defers = append(c.defers, fn)
	c.deferMu.Unlock()
}

// finish performs the terminal transition: Finished status, LIFO defer
// drain, waiter wake, done close, and release of the worker (if one is
// waiting on this segment).
func (c *taskCore) finish() {
	c.status.Store(TaskFinished)

	w := WeakTask{p: weak.Make(c)}
	c.deferMu.Lock()
	defers := c.defers
	c.defers = nil
	c.deferMu.Unlock()
	for i := len(defers) - 1; i >= 0; i-- {
		defers[i](w)
	}

	c.waitMu.Lock()
	waiter := c.waiter
	hasWaiter := c.hasWaiter
	c.waiter = Waker{}
	c.hasWaiter = false
	c.waitMu.Unlock()
	if hasWaiter {
		waiter.WakeUp()
	}

	close(c.done)
	c.sched.Store(nil)

	// A worker waits on yield for every segment it initiated. On the direct
	// destroy path (task never bound to a scheduler) there is no worker, so
	// the token parks in the buffer where no consumer will ever see it: a
	// finished core is skipped before any further delivery.
	select {
	case c.yield <- struct{}{}:
	default:
	}
}

// weakOf builds the weak reference used wherever a task is observed without
// ownership.
func weakOf(c *taskCore) weak.Pointer[taskCore] {
	return weak.Make(c)
}

// WeakTask is a weak reference to a task. It is the only form in which
// schedulers, wakers, events, and the liveness manager hold tasks; the
// reference may expire between check and use, and every holder must treat an
// expired reference as a no-op.
type WeakTask struct {
	p weak.Pointer[taskCore]
}

func (w WeakTask) get() *taskCore {
	return w.p.Value()
}

// Expired reports whether the task has been garbage collected. A false
// result is advisory only; the reference may expire immediately after.
func (w WeakTask) Expired() bool {
	return w.p.Value() == nil
}

// Status returns the task's current status, or (TaskFinished, false) if the
// reference has expired.
func (w WeakTask) Status() (TaskStatus, bool) {
	c := w.get()
	if c == nil {
		return TaskFinished, false
	}
	return c.status.Load(), true
}

// TaskContext is passed to the task function and names the current task at
// every suspension point.
type TaskContext struct {
	core *taskCore
}

// ID returns the task's unique id.
func (tc *TaskContext) ID() uint64 { return tc.core.id }

// Weak returns a weak reference to the current task.
func (tc *TaskContext) Weak() WeakTask {
	return WeakTask{p: weak.Make(tc.core)}
}

// Defer pushes a callback onto the task's defer stack. Callbacks run in LIFO
// order after the task finishes, receive the task's weak handle, and must
// not await.
func (tc *TaskContext) Defer(fn func(WeakTask)) {
	tc.core.pushDefer(fn)
}

// Scheduler returns the scheduler the task is currently bound to, or nil if
// the task has not been submitted yet.
func (tc *TaskContext) Scheduler() *TaskScheduler {
	return tc.core.sched.Load()
}

// TaskHandle is the type-erased view of a *Task[T], accepted by submission
// APIs.
type TaskHandle interface {
	taskCore() *taskCore
}

// Task is the owning handle of a task. The task function starts executing on
// first resume (i.e. once submitted to a scheduler); until then the task is
// Running but not dispatched.
//
// A Task must be submitted at most once. After it finishes, Result holds the
// value and Err the error produced by the task function.
type Task[T any] struct {
	core *taskCore
	fn   func(*TaskContext) (T, error)

	mu     sync.Mutex
	result *T
	err    error
}

// NewTask creates a task running fn. The task is created in the Running
// state but is not dispatched until submitted to a scheduler (or runtime).
func NewTask[T any](fn func(*TaskContext) (T, error)) *Task[T] {
	t := &Task[T]{core: newTaskCore(), fn: fn}
	t.core.status.Store(TaskRunning)
	go t.run()
	return t
}

// run is the task trampoline. It parks until the first signal, executes the
// task function, records the result, and performs the terminal transition.
func (t *Task[T]) run() {
	c := t.core
	if sig := <-c.resume; sig == signalDestroy {
		// Destroyed before ever running.
		c.finish()
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(destroyUnwind); ok {
					return
				}
				t.mu.Lock()
				t.err = fmt.Errorf("asyncrt: task %d panicked: %v", c.id, r)
				t.mu.Unlock()
			}
		}()
		v, err := t.fn(&TaskContext{core: c})
		t.mu.Lock()
		if err == nil {
			t.result = &v
		}
		t.err = err
		t.mu.Unlock()
	}()

	c.finish()
}

func (t *Task[T]) taskCore() *taskCore { return t.core }

// ID returns the task's unique id.
func (t *Task[T]) ID() uint64 { return t.core.id }

// Weak returns a weak reference to the task.
func (t *Task[T]) Weak() WeakTask {
	return WeakTask{p: weak.Make(t.core)}
}

// Status returns the task's current status.
func (t *Task[T]) Status() TaskStatus {
	return t.core.status.Load()
}

// Done returns a channel closed when the task finishes. Intended for
// non-task observers (tests, shutdown paths); tasks should use Wait.
func (t *Task[T]) Done() <-chan struct{} {
	return t.core.done
}

// Result returns the task's result. ok is false until the task has finished
// with a value; a destroyed or failed task never produces one.
func (t *Task[T]) Result() (value T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		var zero T
		return zero, false
	}
	return *t.result, true
}

// Err returns the error produced by the task function, if any. Valid once
// the task has finished.
func (t *Task[T]) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Then registers other to be resumed when this task completes, implemented
// as a defer entry. The other task must already be bound to a scheduler by
// the time this task finishes; an unbound or expired task is skipped.
func (t *Task[T]) Then(other TaskHandle) {
	oc := other.taskCore()
	w := WeakTask{p: weak.Make(oc)}
	t.core.pushDefer(func(WeakTask) {
		c := w.get()
		if c == nil {
			return
		}
		if s := c.sched.Load(); s != nil {
			_ = s.Resume(w)
		}
	})
}

// waitEvent suspends a task until the target task finishes. At most one
// waiter per target; concurrent waiters need the Waiter primitive.
type waitEvent[T any] struct {
	target *Task[T]
	err    error
}

func (e *waitEvent[T]) Ready() bool {
	return e.target.core.isFinished()
}

func (e *waitEvent[T]) Suspend(w Waker) bool {
	c := e.target.core
	c.waitMu.Lock()
	if c.hasWaiter {
		c.waitMu.Unlock()
		e.err = opError(ConcurrentError, 0)
		return false
	}
	c.waiter = w
	c.hasWaiter = true
	// Recheck under the lock: finish() takes waitMu before waking, so a
	// finish that completed before registration is observed here rather
	// than lost.
	if c.isFinished() {
		c.waiter = Waker{}
		c.hasWaiter = false
		c.waitMu.Unlock()
		return false
	}
	c.waitMu.Unlock()
	return true
}

func (e *waitEvent[T]) Resume() (T, error) {
	if e.err != nil {
		var zero T
		return zero, e.err
	}
	if v, ok := e.target.Result(); ok {
		return v, nil
	}
	var zero T
	if err := e.target.Err(); err != nil {
		return zero, err
	}
	return zero, ErrTaskDestroyed
}

// Wait suspends the calling task until t finishes, then returns t's result.
// Only a single task may wait on a given target.
func (t *Task[T]) Wait(tc *TaskContext) (T, error) {
	return Await(tc, &waitEvent[T]{target: t})
}
