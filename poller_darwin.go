//go:build darwin

package asyncrt

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// timerEventKind is the dispatcher direction used for the timer service's
// kernel timer. kqueue keeps timers out of the descriptor readiness set
// (EVFILT_TIMER on a synthetic ident), so the fourth virtual direction is
// used.
const timerEventKind = KindTimer

// timerIdentBase keeps synthetic timer idents clear of real descriptor
// numbers.
const timerIdentBase = 1 << 30

var timerIdentCounter atomic.Uint64

// poller manages descriptor readiness registration using kqueue.
//
// Read and write are separate kqueue filters, each registered EV_ONESHOT: a
// fire removes the filter until the reactor re-submits it.
type poller struct {
	kq       int32
	closed   atomic.Bool
	eventBuf [pollEventBufSize]unix.Kevent_t
}

func (p *poller) init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return opError(CallKqueueCreateError, errnoOf(err))
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)
	return nil
}

func (p *poller) close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(int(p.kq))
}

func (p *poller) add(fd int, mask EventKind, oneshot bool) error {
	changes := maskToKevents(fd, mask, oneshot)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(int(p.kq), changes, nil, nil)
	return err
}

// mod re-submits the registration. EV_ADD on an existing filter updates it,
// and oneshot filters self-remove on fire, so mod is add plus best-effort
// deletion of the directions no longer wanted.
func (p *poller) mod(fd int, mask EventKind, oneshot bool) error {
	for _, filter := range [...]int16{unix.EVFILT_READ, unix.EVFILT_WRITE} {
		wanted := (filter == unix.EVFILT_READ && mask&KindRead != 0) ||
			(filter == unix.EVFILT_WRITE && mask&KindWrite != 0)
		if wanted {
			continue
		}
		del := []unix.Kevent_t{{Ident: uint64(fd), Filter: filter, Flags: unix.EV_DELETE}}
		// ENOENT is expected: oneshot filters vanish when they fire.
		_, _ = unix.Kevent(int(p.kq), del, nil, nil)
	}
	return p.add(fd, mask, oneshot)
}

func (p *poller) del(fd int) error {
	for _, filter := range [...]int16{unix.EVFILT_READ, unix.EVFILT_WRITE} {
		del := []unix.Kevent_t{{Ident: uint64(fd), Filter: filter, Flags: unix.EV_DELETE}}
		_, _ = unix.Kevent(int(p.kq), del, nil, nil)
	}
	return nil
}

func (p *poller) wait(buf []pollEvent, timeoutMs int) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * int64(1e6))
		ts = &t
	}
	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		buf[i] = pollEvent{
			fd:   int(p.eventBuf[i].Ident),
			mask: keventToMask(&p.eventBuf[i]),
		}
	}
	return n, nil
}

// createTimer allocates a synthetic ident for an EVFILT_TIMER registration.
func (p *poller) createTimer() (int, error) {
	return timerIdentBase + int(timerIdentCounter.Add(1)), nil
}

// setTimer arms the kernel timer to fire once after relMs milliseconds.
func (p *poller) setTimer(ident int, relMs int64) error {
	if relMs < 1 {
		relMs = 1
	}
	ev := []unix.Kevent_t{{
		Ident:  uint64(ident),
		Filter: unix.EVFILT_TIMER,
		Flags:  unix.EV_ADD | unix.EV_ONESHOT,
		Data:   relMs,
	}}
	_, err := unix.Kevent(int(p.kq), ev, nil, nil)
	return err
}

// stopTimer removes the kernel timer registration, if present.
func (p *poller) stopTimer(ident int) error {
	ev := []unix.Kevent_t{{
		Ident:  uint64(ident),
		Filter: unix.EVFILT_TIMER,
		Flags:  unix.EV_DELETE,
	}}
	_, _ = unix.Kevent(int(p.kq), ev, nil, nil)
	return nil
}

// closeTimer releases the synthetic ident. Nothing to do on kqueue beyond
// stopTimer.
func (p *poller) closeTimer(ident int) error {
	return p.stopTimer(ident)
}

// drainTimer is a no-op on kqueue; EVFILT_TIMER has no readable state.
func drainTimer(int) {}

func maskToKevents(fd int, mask EventKind, oneshot bool) []unix.Kevent_t {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if oneshot {
		flags |= unix.EV_ONESHOT
	}
	changes := make([]unix.Kevent_t, 0, 2)
	if mask&KindRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if mask&KindWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return changes
}

// keventToMask converts one kevent to dispatcher directions. EV_EOF and
// EV_ERROR additionally trigger the error direction; the read/write
// direction still fires so a waiting task observes the condition through its
// syscall.
func keventToMask(ev *unix.Kevent_t) EventKind {
	var mask EventKind
	switch ev.Filter {
	case unix.EVFILT_READ:
		mask |= KindRead
	case unix.EVFILT_WRITE:
		mask |= KindWrite
	case unix.EVFILT_TIMER:
		mask |= KindTimer
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		mask |= KindError
	}
	if ev.Flags&unix.EV_EOF != 0 {
		mask |= KindError
	}
	return mask
}
