//go:build windows

package scanning

import "syscall"

// Winsock error codes.
const (
	wsaeNetUnreach  syscall.Errno = 10051
	wsaeConnReset   syscall.Errno = 10054
	wsaeConnRefused syscall.Errno = 10061
	wsaeHostUnreach syscall.Errno = 10065
)

func isRejection(errno syscall.Errno) bool {
	switch errno {
	case wsaeConnRefused, wsaeConnReset, wsaeHostUnreach, wsaeNetUnreach,
		syscall.ECONNREFUSED, syscall.ECONNRESET:
		return true
	default:
		return false
	}
}
