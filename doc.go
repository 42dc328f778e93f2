// Package asyncrt is a coroutine-style asynchronous I/O runtime.
//
// # Architecture
//
// The runtime composes four subsystems:
//
//   - Tasks ([Task], [NewTask]): user-space execution units with a
//     Running/Suspended/Finished status machine, a one-shot result slot, and
//     a LIFO defer stack. Tasks are owned by exactly one handle and observed
//     elsewhere via weak references ([WeakTask]) which may expire at any time.
//   - Task schedulers ([TaskScheduler]): single-worker executors consuming a
//     multi-producer queue of (action, task) pairs. A task executes on exactly
//     one scheduler at a time; execution is cooperative (a task runs until it
//     suspends or completes).
//   - The event reactor ([EventReactor]): one kernel readiness loop per
//     instance, owning a descriptor→dispatcher map. Readiness is turned into
//     waker invocation, which re-enqueues the suspended task on its bound
//     scheduler.
//   - The timer service ([TimerService]): a deadline-ordered set that keeps a
//     single kernel timer armed for the earliest deadline and drains expired
//     timers on fire.
//
// [Runtime] owns one reactor, one timer service, and N schedulers, and routes
// task submissions round-robin (or pinned, via [Runtime.ScheduleTo]).
//
// # Suspension model
//
// Every suspension point is an [Awaitable]: Ready is the fast-path check,
// Suspend registers a [Waker] with the reactor or timer service, and Resume
// yields the operation's result after the wake. [Await] drives the contract.
// A single awaitable instance is awaited by exactly one task at a time.
//
// # Platform Support
//
// Readiness polling uses platform-native mechanisms:
//   - Linux: epoll (with EPOLLONESHOT re-arming)
//   - Darwin: kqueue (EV_ONESHOT), with EVFILT_TIMER for the timer service
//
// The kqueue backend is built for darwin only; other BSDs have no backend.
//
// # Error model
//
// Operation failures surface through awaitable results as an [*OpError]
// coupling an [ErrKind] with the OS errno. Transient conditions
// (EAGAIN/EINTR) are absorbed internally by re-registering readiness.
// No panic ever crosses a suspension point.
package asyncrt
