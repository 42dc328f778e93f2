//go:build linux

package asyncrt

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// timerEventKind is the dispatcher direction used for the timer service's
// kernel timer. On Linux the timer is a timerfd whose expiry is plain read
// readiness.
const timerEventKind = KindRead

// poller manages descriptor readiness registration using epoll.
//
// Registrations are EPOLLONESHOT: a fire disables the descriptor until the
// reactor re-submits it with mod. The wait syscall runs without any lock;
// registration calls are safe from any goroutine (epoll_ctl is thread-safe).
type poller struct {
	epfd     int32
	closed   atomic.Bool
	eventBuf [pollEventBufSize]unix.EpollEvent
}

func (p *poller) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return opError(CallEpollCreateError, errnoOf(err))
	}
	p.epfd = int32(epfd)
	return nil
}

func (p *poller) close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(int(p.epfd))
}

func (p *poller) add(fd int, mask EventKind, oneshot bool) error {
	ev := unix.EpollEvent{Events: maskToEpoll(mask, oneshot), Fd: int32(fd)}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *poller) mod(fd int, mask EventKind, oneshot bool) error {
	ev := unix.EpollEvent{Events: maskToEpoll(mask, oneshot), Fd: int32(fd)}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *poller) del(fd int) error {
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for readiness, filling buf. EINTR and EAGAIN are absorbed
// (returns 0, nil); any other failure is fatal to the caller's loop.
func (p *poller) wait(buf []pollEvent, timeoutMs int) (int, error) {
	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		buf[i] = pollEvent{
			fd:   int(p.eventBuf[i].Fd),
			mask: epollToMask(p.eventBuf[i].Events),
		}
	}
	return n, nil
}

// createTimer creates the timer service's kernel timer: a monotonic-clock
// timerfd, registered by the caller like any read-direction descriptor.
func (p *poller) createTimer() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, opError(CallActiveEventError, errnoOf(err))
	}
	return fd, nil
}

// setTimer arms the kernel timer to fire once after relMs milliseconds
// (minimum one nanosecond: a zero it_value would disarm instead).
func (p *poller) setTimer(ident int, relMs int64) error {
	var spec unix.ItimerSpec
	if relMs <= 0 {
		spec.Value.Nsec = 1
	} else {
		spec.Value.Sec = relMs / 1000
		spec.Value.Nsec = (relMs % 1000) * int64(1e6)
	}
	return unix.TimerfdSettime(ident, 0, &spec, nil)
}

// stopTimer disarms the kernel timer.
func (p *poller) stopTimer(ident int) error {
	var spec unix.ItimerSpec
	return unix.TimerfdSettime(ident, 0, &spec, nil)
}

// closeTimer releases the kernel timer handle.
func (p *poller) closeTimer(ident int) error {
	return unix.Close(ident)
}

// drainTimer consumes the expiry counter so level-triggered readiness
// clears.
func drainTimer(ident int) {
	var buf [8]byte
	_, _ = unix.Read(ident, buf[:])
}

func maskToEpoll(mask EventKind, oneshot bool) uint32 {
	var events uint32
	if mask&KindRead != 0 {
		events |= unix.EPOLLIN
	}
	if mask&KindWrite != 0 {
		events |= unix.EPOLLOUT
	}
	if mask&KindError != 0 {
		events |= unix.EPOLLERR
	}
	if oneshot {
		events |= unix.EPOLLONESHOT
	}
	return events
}

// epollToMask converts kernel flags to dispatcher directions. Error and
// hangup conditions additionally trigger the read and write directions so a
// task waiting on either observes the failure (the subsequent syscall
// reports the precise errno).
func epollToMask(events uint32) EventKind {
	var mask EventKind
	if events&unix.EPOLLIN != 0 {
		mask |= KindRead
	}
	if events&unix.EPOLLOUT != 0 {
		mask |= KindWrite
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		mask |= KindError | KindRead | KindWrite
	}
	return mask
}
