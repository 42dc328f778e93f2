package asyncrt

import (
	"sync"
	"sync/atomic"
	"weak"
)

// Waiter is a one-shot notification with a result slot. One task awaits
// Wait; any goroutine may call Notify, and exactly one Notify wins (CAS).
//
// Child tasks appended before Wait are scheduled on the waiting task's
// scheduler at the moment Wait first suspends, so they run concurrently
// with the waiter.
type Waiter[T any] struct {
	notified atomic.Bool

	mu        sync.Mutex
	waker     Waker
	hasWaker  bool
	value     T
	err       error
	children  []WeakTask
	scheduled bool
}

// NewWaiter creates a Waiter.
func NewWaiter[T any]() *Waiter[T] {
	return &Waiter[T]{}
}

// AppendTask adds a child task to be scheduled when Wait is first awaited.
func (w *Waiter[T]) AppendTask(t TaskHandle) {
	c := t.taskCore()
	w.mu.Lock()
	w.children = append(w.children, WeakTask{p: weak.Make(c)})
	w.mu.Unlock()
}

// Notify stores the result and wakes the waiter. Only the first call wins;
// later calls return false and their value is discarded.
func (w *Waiter[T]) Notify(value T, err error) bool {
	if !w.notified.CompareAndSwap(false, true) {
		return false
	}
	w.mu.Lock()
	w.value = value
	w.err = err
	waker := w.waker
	hasWaker := w.hasWaker
	w.mu.Unlock()
	if hasWaker {
		waker.WakeUp()
	}
	return true
}

// Notified reports whether a Notify has won.
func (w *Waiter[T]) Notified() bool {
	return w.notified.Load()
}

// Wait suspends the calling task until Notify, then returns the stored
// result.
func (w *Waiter[T]) Wait(tc *TaskContext) (T, error) {
	return Await(tc, &waiterEvent[T]{w: w})
}

// scheduleChildren submits pending children to the waiting task's
// scheduler.
func (w *Waiter[T]) scheduleChildren(s *TaskScheduler) {
	w.mu.Lock()
	if w.scheduled || s == nil {
		w.mu.Unlock()
		return
	}
	w.scheduled = true
	children := w.children
	w.mu.Unlock()
	for _, child := range children {
		_ = s.Resume(child)
	}
}

// destroyChildren requests destruction of every appended child. Children
// never bound to a scheduler are signalled directly.
func (w *Waiter[T]) destroyChildren() {
	w.mu.Lock()
	children := w.children
	w.mu.Unlock()
	for _, child := range children {
		c := child.get()
		if c == nil || c.isFinished() {
			continue
		}
		if s := c.sched.Load(); s != nil {
			_ = s.Destroy(child)
		} else {
			c.deliver(signalDestroy)
		}
	}
}

// waiterEvent is the awaitable behind Waiter.Wait.
type waiterEvent[T any] struct {
	w *Waiter[T]
}

func (e *waiterEvent[T]) Ready() bool {
	return e.w.notified.Load()
}

func (e *waiterEvent[T]) Suspend(waker Waker) bool {
	w := e.w
	w.mu.Lock()
	w.waker = waker
	w.hasWaker = true
	// Recheck after registering: a Notify that raced in stored its result
	// but may have missed the waker.
	if w.notified.Load() {
		w.hasWaker = false
		w.mu.Unlock()
		w.scheduleChildren(waker.Scheduler())
		return false
	}
	w.mu.Unlock()
	w.scheduleChildren(waker.Scheduler())
	return true
}

func (e *waiterEvent[T]) Resume() (T, error) {
	w := e.w
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, w.err
}

// LimitWaiter is a Waiter whose Notify additionally destroys every appended
// child task: the winning branch notifies, all losers are cancelled. Used
// to race a timer against an inner operation (see Timeout).
type LimitWaiter[T any] struct {
	Waiter[T]
}

// NewLimitWaiter creates a LimitWaiter.
func NewLimitWaiter[T any]() *LimitWaiter[T] {
	return &LimitWaiter[T]{}
}

// Notify stores the result, wakes the waiter, and destroys all appended
// children. Only the first call wins.
func (w *LimitWaiter[T]) Notify(value T, err error) bool {
	if !w.notified.CompareAndSwap(false, true) {
		return false
	}
	w.mu.Lock()
	w.value = value
	w.err = err
	waker := w.waker
	hasWaker := w.hasWaker
	w.mu.Unlock()
	if hasWaker {
		waker.WakeUp()
	}
	w.destroyChildren()
	return true
}
