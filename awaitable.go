package asyncrt

// None is the empty result type for awaitables that produce no value.
type None struct{}

// Awaitable is the three-method contract consumed by a task at a suspension
// point.
//
// Ready is the fast-path check; if it returns true, suspension is skipped
// and Resume is consulted immediately. Otherwise Suspend stores the waker
// (which names the current task) and registers with the reactor or timer
// service; it returns true if the task must actually suspend, false if the
// operation completed synchronously during suspension. After the wake,
// Resume reads and moves out the result.
//
// A single awaitable instance is awaited by exactly one task at a time;
// re-use requires resetting its state.
type Awaitable[T any] interface {
	Ready() bool
	Suspend(w Waker) bool
	Resume() (T, error)
}

// pendingCanceler is implemented by awaitables that hold a registration
// (reactor slot, timer) which must be released when the awaiting task is
// destroyed at the suspension point.
type pendingCanceler interface {
	cancelPending()
}

// Await suspends the current task on the given awaitable and returns the
// operation's result. It is the only suspension primitive; every other
// operation (Sleep, channel receive, mutex lock, socket I/O, ...) is an
// Awaitable driven through it.
//
// If the task is destroyed while suspended here, the awaitable's pending
// registration is cancelled and the task frame unwinds; Await does not
// return in that case.
func Await[T any](tc *TaskContext, a Awaitable[T]) (T, error) {
	if a.Ready() {
		return a.Resume()
	}

	c := tc.core

	// Publish Suspended before registering the waker, so a wake delivered
	// during Suspend (reactor or timer thread racing ahead) finds the status
	// it needs to CAS.
	c.status.Store(TaskSuspended)

	if !a.Suspend(newWaker(tc)) {
		// Completed synchronously during suspension; the waker was not
		// retained. A failed CAS here means a retained waker fired anyway,
		// which is a contract violation by the awaitable.
		c.status.TryTransition(TaskSuspended, TaskRunning)
		return a.Resume()
	}

	if c.park() {
		if pc, ok := a.(pendingCanceler); ok {
			pc.cancelPending()
		}
		panic(destroyUnwind{})
	}

	return a.Resume()
}

// yieldEvent implements cooperative rescheduling: it suspends and
// immediately wakes itself, so the task re-enters its scheduler's queue
// behind any already-pending work.
type yieldEvent struct{}

func (yieldEvent) Ready() bool { return false }

func (yieldEvent) Suspend(w Waker) bool {
	w.WakeUp()
	return true
}

func (yieldEvent) Resume() (None, error) { return None{}, nil }

// Yield reschedules the current task on the same scheduler, letting other
// ready tasks run first.
func Yield(tc *TaskContext) {
	_, _ = Await[None](tc, yieldEvent{})
}

// readyValue is an awaitable that completes immediately with a fixed
// result. Used where an operation resolves without suspension.
type readyValue[T any] struct {
	value T
	err   error
}

func (r *readyValue[T]) Ready() bool        { return true }
func (r *readyValue[T]) Suspend(Waker) bool { return false }
func (r *readyValue[T]) Resume() (T, error) { return r.value, r.err }
