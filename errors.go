package asyncrt

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Standard errors.
//
// These are framework/configuration errors (class 5): they indicate misuse of
// the runtime rather than a runtime condition, and abort the calling
// operation without leaving shared state inconsistent.
var (
	// ErrReactorStopped is returned when an event is armed on a reactor that
	// has been stopped or closed.
	ErrReactorStopped = errors.New("asyncrt: reactor has been stopped")

	// ErrReactorRunning is returned when Start is called on a reactor that is
	// already running.
	ErrReactorRunning = errors.New("asyncrt: reactor is already running")

	// ErrEventSlotBusy is returned by ArmEvent when the (descriptor,
	// direction) pair already holds an armed event. At most one event per
	// direction per descriptor may be armed at any instant.
	ErrEventSlotBusy = errors.New("asyncrt: event direction already armed for descriptor")

	// ErrEventNotArmed is returned by CancelEvent when the slot no longer
	// holds the given event, meaning it was never armed, was already
	// cancelled, or has been claimed for dispatch.
	ErrEventNotArmed = errors.New("asyncrt: event is not armed")

	// ErrInvalidHandle is returned when an event names a negative or
	// otherwise unusable descriptor.
	ErrInvalidHandle = errors.New("asyncrt: invalid descriptor")

	// ErrSchedulerStopped is returned when an action is enqueued on a
	// scheduler that has been stopped.
	ErrSchedulerStopped = errors.New("asyncrt: scheduler has been stopped")

	// ErrTimerServiceStopped is returned when a timer is scheduled on a
	// stopped timer service.
	ErrTimerServiceStopped = errors.New("asyncrt: timer service has been stopped")

	// ErrRuntimeStopped is returned when tasks are submitted to a runtime
	// that has been stopped.
	ErrRuntimeStopped = errors.New("asyncrt: runtime has been stopped")

	// ErrInvalidToken is returned by pinned submission when the scheduler
	// token is out of range.
	ErrInvalidToken = errors.New("asyncrt: scheduler token out of range")

	// ErrTaskDestroyed reports that a task was destroyed while suspended.
	// Defer callbacks observe it only indirectly: the awaited operation never
	// resumes and the task frame unwinds.
	ErrTaskDestroyed = errors.New("asyncrt: task destroyed")
)

// ErrKind identifies the failing operation for errors surfaced through
// awaitable results. Each kind couples with the OS errno captured at the time
// of failure; see OpError.
type ErrKind int32

const (
	NoError ErrKind = iota
	DisconnectError
	CallSocketError
	CallBindError
	CallListenError
	CallAcceptError
	CallConnectError
	CallRecvError
	CallRecvfromError
	CallSendError
	CallSendtoError
	CallSendfileError
	CallShutdownError
	CallCloseError
	CallSSLNewError
	CallSSLSetFdError
	CallSSLHandshakeError
	CallSSLShutdownError
	CallSSLAcceptError
	CallSSLConnectError
	CallSSLCloseError
	CallFileReadError
	CallFileWriteError
	CallLSeekError
	CallRemoveError
	CallActiveEventError
	CallRemoveEventError
	CallGetSockNameError
	CallGetPeerNameError
	CallSetSockOptError
	CallSetBlockError
	CallSetNoBlockError
	CallInetNtopError
	CallEpollCreateError
	CallEventWriteError
	CallKqueueCreateError
	CallOpenError
	CallAioSetupError
	CallAioSubmitError
	NotInitializedError
	AsyncTimeoutError
	NotifyButSourceNotReadyError
	FileReadEmptyError
	FileWriteEmptyError
	ConcurrentError
	AioEventsAllCompleteError
)

var errKindNames = map[ErrKind]string{
	NoError:                      "no error",
	DisconnectError:              "peer disconnected",
	CallSocketError:              "socket() failed",
	CallBindError:                "bind() failed",
	CallListenError:              "listen() failed",
	CallAcceptError:              "accept() failed",
	CallConnectError:             "connect() failed",
	CallRecvError:                "recv() failed",
	CallRecvfromError:            "recvfrom() failed",
	CallSendError:                "send() failed",
	CallSendtoError:              "sendto() failed",
	CallSendfileError:            "sendfile() failed",
	CallShutdownError:            "shutdown() failed",
	CallCloseError:               "close() failed",
	CallSSLNewError:              "SSL_new failed",
	CallSSLSetFdError:            "SSL_set_fd failed",
	CallSSLHandshakeError:        "SSL handshake failed",
	CallSSLShutdownError:         "SSL shutdown failed",
	CallSSLAcceptError:           "SSL accept failed",
	CallSSLConnectError:          "SSL connect failed",
	CallSSLCloseError:            "SSL close failed",
	CallFileReadError:            "file read failed",
	CallFileWriteError:           "file write failed",
	CallLSeekError:               "lseek() failed",
	CallRemoveError:              "remove() failed",
	CallActiveEventError:         "event activation failed",
	CallRemoveEventError:         "event removal failed",
	CallGetSockNameError:         "getsockname() failed",
	CallGetPeerNameError:         "getpeername() failed",
	CallSetSockOptError:          "setsockopt() failed",
	CallSetBlockError:            "set blocking failed",
	CallSetNoBlockError:          "set non-blocking failed",
	CallInetNtopError:            "inet_ntop() failed",
	CallEpollCreateError:         "epoll_create() failed",
	CallEventWriteError:          "event write failed",
	CallKqueueCreateError:        "kqueue() failed",
	CallOpenError:                "open() failed",
	CallAioSetupError:            "aio setup failed",
	CallAioSubmitError:           "aio submit failed",
	NotInitializedError:          "not initialized",
	AsyncTimeoutError:            "operation timed out",
	NotifyButSourceNotReadyError: "notified but source not ready",
	FileReadEmptyError:           "file read returned no data",
	FileWriteEmptyError:          "file write wrote no data",
	ConcurrentError:              "concurrent use of single-owner resource",
	AioEventsAllCompleteError:    "all aio events complete",
}

// String returns a human-readable description of the kind.
func (k ErrKind) String() string {
	if s, ok := errKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown error kind (%d)", int32(k))
}

// OpError is an operation failure surfaced to an awaiting task. It couples
// the failing operation's kind with the OS errno at the time of failure
// (Errno is zero for failures with no associated system error, e.g.
// AsyncTimeoutError).
type OpError struct {
	Kind  ErrKind
	Errno unix.Errno
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("asyncrt: %s: %s", e.Kind, e.Errno.Error())
	}
	return "asyncrt: " + e.Kind.String()
}

// Unwrap returns the underlying errno for use with [errors.Is] and
// [errors.As], or nil if no system error was captured.
func (e *OpError) Unwrap() error {
	if e.Errno != 0 {
		return e.Errno
	}
	return nil
}

// Is matches another *OpError by kind. An Errno of zero on the target acts
// as a wildcard, so errors.Is(err, &OpError{Kind: CallRecvError}) matches any
// recv failure.
func (e *OpError) Is(target error) bool {
	var t *OpError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Errno == 0 || e.Errno == t.Errno)
}

// opError constructs an *OpError.
func opError(kind ErrKind, errno unix.Errno) *OpError {
	return &OpError{Kind: kind, Errno: errno}
}

// errnoOf extracts the unix.Errno from a syscall error, or zero.
func errnoOf(err error) unix.Errno {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}

// IsTimeout reports whether err is an AsyncTimeoutError operation failure.
func IsTimeout(err error) bool {
	var oe *OpError
	return errors.As(err, &oe) && oe.Kind == AsyncTimeoutError
}

// IsDisconnect reports whether err is a peer-disconnect failure (clean EOF on
// read, or EPIPE/ECONNRESET on write).
func IsDisconnect(err error) bool {
	var oe *OpError
	return errors.As(err, &oe) && oe.Kind == DisconnectError
}
