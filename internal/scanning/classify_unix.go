//go:build !windows

package scanning

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func isRejection(errno syscall.Errno) bool {
	switch errno {
	case unix.ECONNREFUSED, unix.ECONNRESET, unix.EHOSTUNREACH, unix.ENETUNREACH:
		return true
	default:
		return false
	}
}
