package asyncrt

// Waker names a suspended task and, when invoked, re-enqueues it on its
// bound scheduler. Wakers hold the task weakly: invoking a waker whose task
// has expired is a no-op.
//
// The Suspended→Running CAS inside WakeUp is the only valid external status
// transition and guarantees the task is re-enqueued at most once per logical
// wake, no matter how many copies of the waker fire.
type Waker struct {
	task WeakTask

	// Payload is an optional semantic payload attached by the operation
	// that created the waker. The runtime never interprets it.
	Payload any
}

// newWaker builds a waker for the given task context.
func newWaker(tc *TaskContext) Waker {
	return Waker{task: tc.Weak()}
}

// Task returns the weak reference carried by the waker.
func (w Waker) Task() WeakTask { return w.task }

// WakeUp transitions the task from Suspended to Running and enqueues a
// resume on its bound scheduler. Returns false if the task has expired, is
// not suspended (e.g. an earlier waker already won the wake), or is not
// bound to a scheduler.
func (w Waker) WakeUp() bool {
	c := w.task.get()
	if c == nil {
		return false
	}
	if !c.status.TryTransition(TaskSuspended, TaskRunning) {
		return false
	}
	s := c.sched.Load()
	if s == nil {
		return false
	}
	return s.Resume(w.task) == nil
}

// Scheduler returns the scheduler the waker's task is bound to, or nil if
// the task has expired or is unbound. Operations use this to reach the
// reactor and timer service serving the suspended task.
func (w Waker) Scheduler() *TaskScheduler {
	c := w.task.get()
	if c == nil {
		return nil
	}
	return c.sched.Load()
}
