package asyncrt

import (
	"sync"
	"sync/atomic"
)

// EventKind identifies an event's readiness direction. Read, Write, and
// Error map to kernel readiness; Timer is a fourth virtual direction used by
// backends that keep timers out of the descriptor readiness set (kqueue
// EVFILT_TIMER).
type EventKind uint8

const (
	KindNone  EventKind = 0
	KindRead  EventKind = 1 << 0
	KindWrite EventKind = 1 << 1
	KindError EventKind = 1 << 2
	KindTimer EventKind = 1 << 3
)

// String returns a human-readable representation of the kind.
func (k EventKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindRead:
		return "Read"
	case KindWrite:
		return "Write"
	case KindError:
		return "Error"
	case KindTimer:
		return "Timer"
	default:
		return "Mixed"
	}
}

// slotIndex maps a single-direction kind to its dispatcher slot.
func slotIndex(k EventKind) int {
	switch k {
	case KindRead:
		return 0
	case KindWrite:
		return 1
	case KindError:
		return 2
	case KindTimer:
		return 3
	default:
		return -1
	}
}

// Event is an awaitable registration with the reactor: a readiness
// direction, a descriptor (or synthetic ident), and a HandleEvent invoked on
// the reactor goroutine when the direction fires. The slot is cleared before
// HandleEvent runs, so the handler may safely re-arm.
//
// Events are always heap-allocated and owned by either the registering task
// frame or the reactor slot, never both at once.
type Event interface {
	Kind() EventKind
	Handle() int
	HandleEvent()
}

// eventDispatcher is the per-descriptor record owned by the reactor: an
// atomic bitset of armed directions plus one slot per direction, holding the
// currently armed event.
//
// The bitset is readable lock-free (acquire); slot mutation and dispatch
// claiming are serialized by mu, which is what lets CancelEvent guarantee
// the handler will not fire after a successful cancel.
type eventDispatcher struct {
	registered atomic.Uint32

	mu    sync.Mutex
	slots [4]Event

	// kernelAdded records whether the descriptor has been added to the
	// kernel readiness set (epoll ADD vs MOD). Guarded by mu.
	kernelAdded bool
}

// registeredMask returns the currently armed directions.
func (d *eventDispatcher) registeredMask() EventKind {
	return EventKind(d.registered.Load())
}

// arm stores ev in its direction slot. Returns ErrEventSlotBusy if the
// direction is already armed. On success the full armed mask (for kernel
// registration) and whether the descriptor was already in the kernel set are
// returned; the caller performs the kernel call and must rollback on
// failure.
func (d *eventDispatcher) arm(ev Event) (mask EventKind, added bool, err error) {
	idx := slotIndex(ev.Kind())
	if idx < 0 {
		return 0, false, ErrInvalidHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bit := uint32(ev.Kind())
	if d.registered.Load()&bit != 0 {
		return 0, false, ErrEventSlotBusy
	}
	d.slots[idx] = ev
	d.registered.Or(bit)
	added = d.kernelAdded
	d.kernelAdded = true
	return d.registeredMask(), added, nil
}

// rollback undoes a failed arm.
func (d *eventDispatcher) rollback(ev Event) {
	idx := slotIndex(ev.Kind())
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx >= 0 && d.slots[idx] == ev {
		d.slots[idx] = nil
		d.registered.And(^uint32(ev.Kind()))
	}
}

// cancel clears ev from its slot. Returns ErrEventNotArmed if the slot no
// longer holds ev (never armed, already cancelled, or claimed for
// dispatch — in the last case the handler may already be running). On nil
// return the handler is guaranteed not to fire.
func (d *eventDispatcher) cancel(ev Event) (mask EventKind, err error) {
	idx := slotIndex(ev.Kind())
	if idx < 0 {
		return 0, ErrInvalidHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slots[idx] != ev {
		return d.registeredMask(), ErrEventNotArmed
	}
	d.slots[idx] = nil
	d.registered.And(^uint32(ev.Kind()))
	return d.registeredMask(), nil
}

// claim atomically removes and returns the events armed for the triggered
// directions, in Read, Write, Error, Timer order. Clearing before dispatch
// means the invoked handlers may re-arm the same directions.
func (d *eventDispatcher) claim(triggered EventKind) []Event {
	var fired []Event
	d.mu.Lock()
	for _, k := range [...]EventKind{KindRead, KindWrite, KindError, KindTimer} {
		if triggered&k == 0 {
			continue
		}
		idx := slotIndex(k)
		if ev := d.slots[idx]; ev != nil {
			d.slots[idx] = nil
			d.registered.And(^uint32(k))
			fired = append(fired, ev)
		}
	}
	d.mu.Unlock()
	return fired
}
