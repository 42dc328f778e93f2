//go:build linux

package asyncrt

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// createNotifyFd creates an eventfd for loop wake-up notifications (Linux).
// Returns the single eventfd as both read and write ends.
func createNotifyFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, opError(CallActiveEventError, errnoOf(err))
	}
	return fd, fd, nil
}

// writeNotifyFd signals the eventfd.
func writeNotifyFd(fd int) error {
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	if _, err := unix.Write(fd, buf); err != nil {
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

// closeNotifyFd closes the wake eventfd.
func closeNotifyFd(readFd, writeFd int) {
	if readFd >= 0 {
		_ = unix.Close(readFd)
	}
	if writeFd != readFd && writeFd >= 0 {
		_ = unix.Close(writeFd)
	}
}
