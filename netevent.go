// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"golang.org/x/sys/unix"
)

// Socket is a thin wrapper over a non-blocking socket descriptor. All async
// operations on it build readiness events against the reactor serving the
// awaiting task's scheduler.
type Socket struct {
	fd int
}

// NewTCPSocket creates a non-blocking IPv4 TCP socket.
func NewTCPSocket() (Socket, error) {
	return newSocket(unix.SOCK_STREAM)
}

// NewUDPSocket creates a non-blocking IPv4 UDP socket.
func NewUDPSocket() (Socket, error) {
	return newSocket(unix.SOCK_DGRAM)
}

func newSocket(typ int) (Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, typ, 0)
	if err != nil {
		return Socket{fd: -1}, opError(CallSocketError, errnoOf(err))
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return Socket{fd: -1}, opError(CallSetNoBlockError, errnoOf(err))
	}
	return Socket{fd: fd}, nil
}

// Fd returns the underlying descriptor.
func (s Socket) Fd() int { return s.fd }

// Valid reports whether the socket holds a usable descriptor.
func (s Socket) Valid() bool { return s.fd >= 0 }

// SetReuseAddr toggles SO_REUSEADDR.
func (s Socket) SetReuseAddr(enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, v); err != nil {
		return opError(CallSetSockOptError, errnoOf(err))
	}
	return nil
}

// Bind binds the socket to addr.
func (s Socket) Bind(addr unix.Sockaddr) error {
	if err := unix.Bind(s.fd, addr); err != nil {
		return opError(CallBindError, errnoOf(err))
	}
	return nil
}

// Listen marks the socket as accepting connections.
func (s Socket) Listen(backlog int) error {
	if err := unix.Listen(s.fd, backlog); err != nil {
		return opError(CallListenError, errnoOf(err))
	}
	return nil
}

// LocalAddr returns the socket's bound address, e.g. to recover a
// kernel-chosen port after binding port 0.
func (s Socket) LocalAddr() (unix.Sockaddr, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return nil, opError(CallGetSockNameError, errnoOf(err))
	}
	return sa, nil
}

// PeerAddr returns the connected peer's address.
func (s Socket) PeerAddr() (unix.Sockaddr, error) {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return nil, opError(CallGetPeerNameError, errnoOf(err))
	}
	return sa, nil
}

// Close releases the descriptor synchronously and drops any reactor state
// for it. Events still armed on the descriptor are discarded without
// firing. A nil reactor is allowed for sockets that never suspended.
func (s Socket) Close(r *EventReactor) error {
	if s.fd < 0 {
		return nil
	}
	if r != nil {
		r.ReleaseHandle(s.fd)
	}
	if err := unix.Close(s.fd); err != nil {
		return opError(CallCloseError, errnoOf(err))
	}
	return nil
}

// ioEvent is the common readiness event behind every socket awaitable: a
// descriptor, a direction, and an attempt function that performs the
// operation's single kernel call. A false return from attempt means the
// descriptor was not actually ready (EAGAIN) and readiness is re-armed
// rather than waking the task, so transient conditions never surface.
type ioEvent struct {
	handle  int
	kind    EventKind
	waker   Waker
	reactor *EventReactor
	attempt func() bool
	failed  error
}

func (e *ioEvent) Kind() EventKind { return e.kind }
func (e *ioEvent) Handle() int     { return e.handle }

// HandleEvent runs on the reactor goroutine when the direction fires.
func (e *ioEvent) HandleEvent() {
	if e.attempt() {
		e.waker.WakeUp()
		return
	}
	if err := e.reactor.ArmEvent(e); err != nil {
		e.failed = err
		e.waker.WakeUp()
	}
}

func (e *ioEvent) Ready() bool {
	return e.attempt()
}

func (e *ioEvent) Suspend(w Waker) bool {
	s := w.Scheduler()
	if s == nil || s.Reactor() == nil {
		e.failed = opError(NotInitializedError, 0)
		return false
	}
	e.waker = w
	e.reactor = s.Reactor()
	if err := e.reactor.ArmEvent(e); err != nil {
		e.failed = err
		return false
	}
	return true
}

// cancelPending releases the reactor slot when the awaiting task is
// destroyed mid-suspension.
func (e *ioEvent) cancelPending() {
	if e.reactor != nil {
		_ = e.reactor.CancelEvent(e)
	}
}

// acceptEvent accepts one connection.
type acceptEvent struct {
	ioEvent
	conn Socket
	err  error
}

func newAcceptEvent(s Socket) *acceptEvent {
	e := &acceptEvent{conn: Socket{fd: -1}}
	e.handle = s.fd
	e.kind = KindRead
	e.attempt = func() bool {
		nfd, _, err := unix.Accept(s.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.ECONNABORTED {
				return false
			}
			e.err = opError(CallAcceptError, errnoOf(err))
			return true
		}
		unix.CloseOnExec(nfd)
		if err := unix.SetNonblock(nfd, true); err != nil {
			_ = unix.Close(nfd)
			e.err = opError(CallSetNoBlockError, errnoOf(err))
			return true
		}
		e.conn = Socket{fd: nfd}
		return true
	}
	return e
}

func (e *acceptEvent) Resume() (Socket, error) {
	if e.failed != nil {
		return Socket{fd: -1}, e.failed
	}
	return e.conn, e.err
}

// Accept suspends until a connection is accepted on the listening socket.
// The returned socket is non-blocking.
func Accept(tc *TaskContext, s Socket) (Socket, error) {
	return Await[Socket](tc, newAcceptEvent(s))
}

// connectEvent establishes an outbound connection.
type connectEvent struct {
	ioEvent
	sa        unix.Sockaddr
	initiated bool
	err       error
}

func newConnectEvent(s Socket, sa unix.Sockaddr) *connectEvent {
	e := &connectEvent{sa: sa}
	e.handle = s.fd
	e.kind = KindWrite
	e.attempt = func() bool {
		if !e.initiated {
			e.initiated = true
			err := unix.Connect(s.fd, e.sa)
			switch err {
			case nil, unix.EISCONN:
				return true
			case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
				// Completion is reported via write readiness.
				return false
			default:
				e.err = opError(CallConnectError, errnoOf(err))
				return true
			}
		}
		soErr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			e.err = opError(CallSetSockOptError, errnoOf(err))
			return true
		}
		if soErr != 0 {
			e.err = opError(CallConnectError, unix.Errno(soErr))
		}
		return true
	}
	return e
}

func (e *connectEvent) Resume() (None, error) {
	if e.failed != nil {
		return None{}, e.failed
	}
	return None{}, e.err
}

// Connect suspends until the socket connects to sa (or fails).
func Connect(tc *TaskContext, s Socket, sa unix.Sockaddr) error {
	_, err := Await[None](tc, newConnectEvent(s, sa))
	return err
}

// recvEvent reads into a caller buffer.
type recvEvent struct {
	ioEvent
	buf []byte
	n   int
	err error
}

func newRecvEvent(s Socket, buf []byte) *recvEvent {
	e := &recvEvent{buf: buf}
	e.handle = s.fd
	e.kind = KindRead
	e.attempt = func() bool {
		n, err := unix.Read(s.fd, e.buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return false
			}
			if err == unix.ECONNRESET {
				e.err = opError(DisconnectError, unix.ECONNRESET)
				return true
			}
			e.err = opError(CallRecvError, errnoOf(err))
			return true
		}
		if n == 0 {
			// Clean EOF.
			e.err = opError(DisconnectError, 0)
			return true
		}
		e.n = n
		return true
	}
	return e
}

func (e *recvEvent) Resume() (int, error) {
	if e.failed != nil {
		return 0, e.failed
	}
	return e.n, e.err
}

// Recv suspends until at least one byte is read into buf, returning the
// byte count. A clean EOF or connection reset surfaces as DisconnectError.
func Recv(tc *TaskContext, s Socket, buf []byte) (int, error) {
	return Await[int](tc, newRecvEvent(s, buf))
}

// sendEvent writes from a caller buffer.
type sendEvent struct {
	ioEvent
	buf []byte
	n   int
	err error
}

func newSendEvent(s Socket, buf []byte) *sendEvent {
	e := &sendEvent{buf: buf}
	e.handle = s.fd
	e.kind = KindWrite
	e.attempt = func() bool {
		n, err := unix.Write(s.fd, e.buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return false
			}
			if err == unix.EPIPE || err == unix.ECONNRESET {
				e.err = opError(DisconnectError, errnoOf(err))
				return true
			}
			e.err = opError(CallSendError, errnoOf(err))
			return true
		}
		e.n = n
		return true
	}
	return e
}

func (e *sendEvent) Resume() (int, error) {
	if e.failed != nil {
		return 0, e.failed
	}
	return e.n, e.err
}

// Send suspends until some of buf is written, returning the byte count (a
// short write is possible; callers loop as needed). EPIPE/ECONNRESET
// surface as DisconnectError.
func Send(tc *TaskContext, s Socket, buf []byte) (int, error) {
	return Await[int](tc, newSendEvent(s, buf))
}

// SendAll sends the whole buffer, suspending as needed between partial
// writes.
func SendAll(tc *TaskContext, s Socket, buf []byte) error {
	for len(buf) > 0 {
		n, err := Send(tc, s, buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// Datagram is one received UDP payload with its source address.
type Datagram struct {
	N    int
	From unix.Sockaddr
}

// recvFromEvent reads one datagram.
type recvFromEvent struct {
	ioEvent
	buf  []byte
	dgrm Datagram
	err  error
}

func newRecvFromEvent(s Socket, buf []byte) *recvFromEvent {
	e := &recvFromEvent{buf: buf}
	e.handle = s.fd
	e.kind = KindRead
	e.attempt = func() bool {
		n, from, err := unix.Recvfrom(s.fd, e.buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return false
			}
			e.err = opError(CallRecvfromError, errnoOf(err))
			return true
		}
		e.dgrm = Datagram{N: n, From: from}
		return true
	}
	return e
}

func (e *recvFromEvent) Resume() (Datagram, error) {
	if e.failed != nil {
		return Datagram{}, e.failed
	}
	return e.dgrm, e.err
}

// RecvFrom suspends until a datagram arrives in buf.
func RecvFrom(tc *TaskContext, s Socket, buf []byte) (Datagram, error) {
	return Await[Datagram](tc, newRecvFromEvent(s, buf))
}

// sendToEvent writes one datagram.
type sendToEvent struct {
	ioEvent
	buf []byte
	sa  unix.Sockaddr
	err error
}

func newSendToEvent(s Socket, buf []byte, sa unix.Sockaddr) *sendToEvent {
	e := &sendToEvent{buf: buf, sa: sa}
	e.handle = s.fd
	e.kind = KindWrite
	e.attempt = func() bool {
		if err := unix.Sendto(s.fd, e.buf, 0, e.sa); err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return false
			}
			e.err = opError(CallSendtoError, errnoOf(err))
		}
		return true
	}
	return e
}

func (e *sendToEvent) Resume() (None, error) {
	if e.failed != nil {
		return None{}, e.failed
	}
	return None{}, e.err
}

// SendTo suspends until the datagram is handed to the kernel.
func SendTo(tc *TaskContext, s Socket, buf []byte, sa unix.Sockaddr) error {
	_, err := Await[None](tc, newSendToEvent(s, buf, sa))
	return err
}
