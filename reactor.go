// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// defaultWaitCap bounds a single blocking kernel wait. The loop wakes at
	// least this often even with no readiness, notify, or timer traffic.
	defaultWaitCap = 10 * time.Second

	// pollEventBufSize is the per-iteration readiness batch size.
	pollEventBufSize = 256
)

var reactorIDCounter atomic.Uint64

// EventReactor converts kernel readiness into waker invocation. One kernel
// readiness loop per instance; the loop goroutine is locked to its OS thread
// while polling.
//
// Concurrency: the loop itself is single-threaded. ArmEvent and CancelEvent
// are safe from any goroutine and are serialized per-dispatcher. The
// descriptor→dispatcher map is created lazily on first arm and retained
// until ReleaseHandle (descriptor close).
type EventReactor struct {
	id     uint64
	poller poller

	// notify channel (eventfd on Linux, pipe on Darwin) for loop wakeup.
	notifyRead  int
	notifyWrite int
	notifyBuf   [8]byte
	wakePending atomic.Uint32

	dispMu      sync.RWMutex
	dispatchers map[int]*eventDispatcher

	onceMu  sync.Mutex
	onceCbs []func()

	running  atomic.Bool
	stopping atomic.Bool
	closed   atomic.Bool
	loopDone chan struct{}
	closeFDs sync.Once

	errMu   sync.Mutex
	lastErr error

	waitCap time.Duration

	log     *logiface.Logger[logiface.Event]
	metrics *Metrics
}

// NewEventReactor creates a reactor with its kernel readiness handle and
// notify channel initialized, but does not start the loop.
func NewEventReactor(opts ...ReactorOption) (*EventReactor, error) {
	cfg, err := resolveReactorOptions(opts)
	if err != nil {
		return nil, err
	}

	r := &EventReactor{
		id:          reactorIDCounter.Add(1),
		dispatchers: make(map[int]*eventDispatcher, cfg.handleCapacityHint),
		loopDone:    make(chan struct{}),
		waitCap:     cfg.waitCap,
		log:         cfg.log,
	}

	if err := r.poller.init(); err != nil {
		return nil, err
	}

	notifyRead, notifyWrite, err := createNotifyFd()
	if err != nil {
		_ = r.poller.close()
		return nil, err
	}
	r.notifyRead = notifyRead
	r.notifyWrite = notifyWrite

	// The notify descriptor stays armed for the reactor's whole life:
	// level-triggered, not oneshot.
	if err := r.poller.add(notifyRead, KindRead, false); err != nil {
		_ = r.poller.close()
		closeNotifyFd(notifyRead, notifyWrite)
		return nil, err
	}

	return r, nil
}

// ID returns the reactor's unique id.
func (r *EventReactor) ID() uint64 { return r.id }

// Start launches the reactor loop goroutine. Returns ErrReactorRunning if
// already started, ErrReactorStopped after Stop.
func (r *EventReactor) Start() error {
	if r.stopping.Load() {
		return ErrReactorStopped
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrReactorRunning
	}
	go r.run()
	return nil
}

// Stop terminates the loop and closes the kernel handles. Safe from any
// goroutine, idempotent. Blocks until the loop has exited.
func (r *EventReactor) Stop() error {
	if !r.stopping.CompareAndSwap(false, true) {
		<-r.loopDone
		return nil
	}
	if !r.running.Load() {
		// Never started; just release resources.
		close(r.loopDone)
		r.release()
		return nil
	}
	r.Notify()
	<-r.loopDone
	return nil
}

func (r *EventReactor) release() {
	r.closeFDs.Do(func() {
		r.closed.Store(true)
		_ = r.poller.close()
		closeNotifyFd(r.notifyRead, r.notifyWrite)
	})
}

// LastError returns the error that stopped the loop, if any. EINTR/EAGAIN
// never surface here; they are absorbed by the poll loop.
func (r *EventReactor) LastError() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.lastErr
}

// Notify wakes a blocked loop. Returns true if the wake was accepted or one
// is already pending.
func (r *EventReactor) Notify() bool {
	if r.closed.Load() {
		return false
	}
	if !r.wakePending.CompareAndSwap(0, 1) {
		return true
	}
	if err := writeNotifyFd(r.notifyWrite); err != nil {
		r.wakePending.Store(0)
		return false
	}
	return true
}

// RegisterOnceLoopCallback runs cb on the reactor goroutine at the end of
// the current (or next) loop iteration, exactly once.
func (r *EventReactor) RegisterOnceLoopCallback(cb func()) {
	r.onceMu.Lock()
	r.onceCbs = append(r.onceCbs, cb)
	r.onceMu.Unlock()
	r.Notify()
}

// dispatcher returns the record for handle, creating it if create is set.
func (r *EventReactor) dispatcher(handle int, create bool) *eventDispatcher {
	r.dispMu.RLock()
	d := r.dispatchers[handle]
	r.dispMu.RUnlock()
	if d != nil || !create {
		return d
	}
	r.dispMu.Lock()
	defer r.dispMu.Unlock()
	if d = r.dispatchers[handle]; d == nil {
		d = &eventDispatcher{}
		r.dispatchers[handle] = d
	}
	return d
}

// ArmEvent associates ev with its descriptor and readiness direction. At
// most one event per direction per descriptor: arming an occupied slot
// fails with ErrEventSlotBusy rather than replacing the previous event.
func (r *EventReactor) ArmEvent(ev Event) error {
	if r.stopping.Load() || r.closed.Load() {
		return ErrReactorStopped
	}
	handle := ev.Handle()
	if handle < 0 {
		return ErrInvalidHandle
	}

	d := r.dispatcher(handle, true)
	mask, inKernel, err := d.arm(ev)
	if err != nil {
		return err
	}

	// The timer direction is armed in the kernel separately (timerfd /
	// EVFILT_TIMER) by the timer service; only readiness directions go into
	// the descriptor set here.
	kernelMask := mask &^ KindTimer
	if kernelMask != 0 {
		if inKernel {
			err = r.poller.mod(handle, kernelMask, true)
		} else {
			err = r.poller.add(handle, kernelMask, true)
		}
		if err != nil {
			d.rollback(ev)
			return err
		}
	}
	return nil
}

// CancelEvent unregisters ev and clears its slot. Safe from any goroutine.
// On nil return the event's HandleEvent is guaranteed not to fire; an
// ErrEventNotArmed return means the slot no longer held the event (never
// armed, already cancelled, or concurrently claimed for dispatch).
func (r *EventReactor) CancelEvent(ev Event) error {
	handle := ev.Handle()
	d := r.dispatcher(handle, false)
	if d == nil {
		return ErrEventNotArmed
	}
	mask, err := d.cancel(ev)
	if err != nil {
		return err
	}
	if r.closed.Load() {
		return nil
	}
	kernelMask := mask &^ KindTimer
	if kernelMask != 0 {
		_ = r.poller.mod(handle, kernelMask, true)
	}
	return nil
}

// ReleaseHandle drops the dispatcher record for a descriptor. Called by the
// owning event/socket when the descriptor is closed; any still-armed events
// on the handle are discarded without firing.
func (r *EventReactor) ReleaseHandle(handle int) {
	r.dispMu.Lock()
	_, ok := r.dispatchers[handle]
	delete(r.dispatchers, handle)
	r.dispMu.Unlock()
	if ok && !r.closed.Load() {
		_ = r.poller.del(handle)
	}
}

// run is the reactor loop.
func (r *EventReactor) run() {
	// Release order matters: the loop must have exited before the kernel
	// handles close, and loopDone observers expect the handles closed once
	// the channel is closed.
	defer close(r.loopDone)
	defer r.release()

	// kqueue/epoll interaction benefits from thread affinity; the loop owns
	// its OS thread for its whole life.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r.log.Debug().Uint64("reactor", r.id).Log("reactor loop started")

	buf := make([]pollEvent, pollEventBufSize)
	timeoutMs := int(r.waitCap.Milliseconds())

	for {
		if r.stopping.Load() {
			break
		}

		n, err := r.poller.wait(buf, timeoutMs)
		if err != nil {
			r.errMu.Lock()
			r.lastErr = err
			r.errMu.Unlock()
			r.log.Err().Uint64("reactor", r.id).Err(err).Log("poll failed; stopping reactor loop")
			r.stopping.Store(true)
			break
		}

		for i := 0; i < n; i++ {
			pe := buf[i]
			if pe.fd == r.notifyRead {
				r.drainNotify()
				continue
			}
			r.dispatch(pe.fd, pe.mask)
		}

		r.runOnceCallbacks()
	}

	r.log.Debug().Uint64("reactor", r.id).Log("reactor loop exited")
}

// dispatch routes one readiness notification: claim the armed events for the
// triggered directions (clearing each slot first, so handlers may re-arm),
// invoke them, then re-submit whatever directions remain armed (the kernel
// registration is oneshot, so a fire disables the whole descriptor).
func (r *EventReactor) dispatch(handle int, triggered EventKind) {
	d := r.dispatcher(handle, false)
	if d == nil {
		return
	}
	for _, ev := range d.claim(triggered) {
		ev.HandleEvent()
		if r.metrics != nil {
			r.metrics.eventsDispatched.Add(1)
		}
	}
	remaining := d.registeredMask() &^ KindTimer
	if remaining != 0 {
		_ = r.poller.mod(handle, remaining, true)
	}
}

func (r *EventReactor) drainNotify() {
	drainNotifyFd(r.notifyRead, r.notifyBuf[:])
	r.wakePending.Store(0)
}

func (r *EventReactor) runOnceCallbacks() {
	r.onceMu.Lock()
	cbs := r.onceCbs
	r.onceCbs = nil
	r.onceMu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}
