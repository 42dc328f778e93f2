//go:build darwin

package asyncrt

import (
	"golang.org/x/sys/unix"
)

// createNotifyFd creates a non-blocking self-pipe for loop wake-up
// notifications (Darwin). Returns the read and write ends.
func createNotifyFd() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, opError(CallActiveEventError, errnoOf(err))
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return -1, -1, opError(CallSetNoBlockError, errnoOf(err))
		}
	}
	return fds[0], fds[1], nil
}

// writeNotifyFd signals the pipe. A full pipe counts as already signalled.
func writeNotifyFd(fd int) error {
	if _, err := unix.Write(fd, []byte{1}); err != nil && err != unix.EAGAIN {
		return opError(CallEventWriteError, errnoOf(err))
	}
	return nil
}

// drainNotifyFd consumes all pending wake-ups.
func drainNotifyFd(fd int, buf []byte) {
	for {
		if _, err := unix.Read(fd, buf); err != nil {
			return
		}
	}
}

// closeNotifyFd closes both pipe ends.
func closeNotifyFd(readFd, writeFd int) {
	if readFd >= 0 {
		_ = unix.Close(readFd)
	}
	if writeFd != readFd && writeFd >= 0 {
		_ = unix.Close(writeFd)
	}
}
