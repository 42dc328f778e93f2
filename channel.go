package asyncrt

import (
	"sync"
	"sync/atomic"
)

// Channel is a single-threaded (task-local) unbounded channel: a queue plus
// a single parked receiver. Send enqueues and wakes the receiver if one is
// parked; Recv suspends while empty. No cross-scheduler guarantees; use
// MpscChannel for that.
type Channel[T any] struct {
	queue    []T
	waker    Waker
	hasWaker bool
}

// NewChannel creates an unsynchronized channel.
func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{}
}

// Len returns the number of buffered elements.
func (c *Channel[T]) Len() int { return len(c.queue) }

// Send enqueues value and wakes a parked receiver.
func (c *Channel[T]) Send(value T) {
	c.queue = append(c.queue, value)
	if c.hasWaker {
		w := c.waker
		c.waker = Waker{}
		c.hasWaker = false
		w.WakeUp()
	}
}

// Recv suspends until an element is available, then dequeues it.
func (c *Channel[T]) Recv(tc *TaskContext) (T, error) {
	return Await(tc, &unsafeRecvEvent[T]{c: c})
}

type unsafeRecvEvent[T any] struct {
	c *Channel[T]
}

func (e *unsafeRecvEvent[T]) Ready() bool {
	return len(e.c.queue) > 0
}

func (e *unsafeRecvEvent[T]) Suspend(w Waker) bool {
	if len(e.c.queue) > 0 {
		return false
	}
	e.c.waker = w
	e.c.hasWaker = true
	return true
}

func (e *unsafeRecvEvent[T]) Resume() (T, error) {
	v := e.c.queue[0]
	var zero T
	e.c.queue[0] = zero
	e.c.queue = e.c.queue[1:]
	return v, nil
}

// MpscChannel is a multi-producer single-consumer channel. Producers may
// send from any goroutine; exactly one task receives.
//
// Wake correctness: the consumer rechecks the element count and registers
// its waker in one critical section on the queue mutex, and producers
// enqueue and inspect the waker under the same mutex, so a producer that
// enqueues after the consumer's lock-free empty check can never lose the
// wake (it either sees the registered waker, or the consumer sees the
// element in the recheck).
type MpscChannel[T any] struct {
	mu      sync.Mutex
	queue   chunkQueue[T]
	waker   Waker
	waiting bool
	size    atomic.Int64
}

// NewMpscChannel creates a multi-producer single-consumer channel.
func NewMpscChannel[T any]() *MpscChannel[T] {
	return &MpscChannel[T]{}
}

// Len returns the number of buffered elements.
func (c *MpscChannel[T]) Len() int {
	return int(c.size.Load())
}

// Send enqueues value. Safe from any goroutine. The parked consumer (if
// any) is woken exactly once.
func (c *MpscChannel[T]) Send(value T) {
	c.mu.Lock()
	c.queue.push(value)
	c.size.Add(1)
	var w Waker
	wake := c.waiting
	if wake {
		w = c.waker
		c.waiting = false
		c.waker = Waker{}
	}
	c.mu.Unlock()
	if wake {
		w.WakeUp()
	}
}

// Recv suspends until an element is available, then dequeues it.
func (c *MpscChannel[T]) Recv(tc *TaskContext) (T, error) {
	return Await(tc, &mpscRecvEvent[T]{c: c})
}

type mpscRecvEvent[T any] struct {
	c *MpscChannel[T]
}

func (e *mpscRecvEvent[T]) Ready() bool {
	return e.c.size.Load() > 0
}

func (e *mpscRecvEvent[T]) Suspend(w Waker) bool {
	c := e.c
	c.mu.Lock()
	if c.queue.len() > 0 {
		c.mu.Unlock()
		return false
	}
	c.waker = w
	c.waiting = true
	c.mu.Unlock()
	return true
}

func (e *mpscRecvEvent[T]) Resume() (T, error) {
	c := e.c
	c.mu.Lock()
	v, ok := c.queue.pop()
	if ok {
		c.size.Add(-1)
	}
	c.mu.Unlock()
	if !ok {
		// Woken without an element; a framework bug rather than a runtime
		// condition.
		return v, opError(NotifyButSourceNotReadyError, 0)
	}
	return v, nil
}

// AsyncQueue is an mpsc channel variant that busy-waits briefly before
// suspending, trading a little CPU for lower latency under a steady
// producer.
type AsyncQueue[T any] struct {
	ch        MpscChannel[T]
	spinLimit int
}

// NewAsyncQueue creates an AsyncQueue with the given spin bound (number of
// empty rechecks before parking; <=0 selects a small default).
func NewAsyncQueue[T any](spinLimit int) *AsyncQueue[T] {
	if spinLimit <= 0 {
		spinLimit = 64
	}
	return &AsyncQueue[T]{spinLimit: spinLimit}
}

// Len returns the number of buffered elements.
func (q *AsyncQueue[T]) Len() int { return q.ch.Len() }

// Send enqueues value. Safe from any goroutine.
func (q *AsyncQueue[T]) Send(value T) { q.ch.Send(value) }

// Recv spins up to the configured bound waiting for an element, then
// suspends like MpscChannel.
func (q *AsyncQueue[T]) Recv(tc *TaskContext) (T, error) {
	return Await(tc, &asyncQueueRecvEvent[T]{q: q})
}

type asyncQueueRecvEvent[T any] struct {
	q *AsyncQueue[T]
}

func (e *asyncQueueRecvEvent[T]) Ready() bool {
	c := &e.q.ch
	for i := 0; i < e.q.spinLimit; i++ {
		if c.size.Load() > 0 {
			return true
		}
	}
	return c.size.Load() > 0
}

func (e *asyncQueueRecvEvent[T]) Suspend(w Waker) bool {
	return (&mpscRecvEvent[T]{c: &e.q.ch}).Suspend(w)
}

func (e *asyncQueueRecvEvent[T]) Resume() (T, error) {
	return (&mpscRecvEvent[T]{c: &e.q.ch}).Resume()
}
