//go:build windows

package correlator

// CanOpenRaw reports whether the process may open raw ICMP sockets. Windows
// has no datagram ICMP sockets, so raw mode is always attempted and Open
// reports the failure when the process is not elevated.
func CanOpenRaw() bool {
	return true
}
