//go:build !windows

package correlator

import "golang.org/x/sys/unix"

// CanOpenRaw reports whether the process may open raw ICMP sockets.
// Unix implementation: require euid == 0.
func CanOpenRaw() bool {
	return unix.Geteuid() == 0
}
