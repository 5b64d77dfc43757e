//go:build windows

package platform

// Windows has no per-process descriptor limit for sockets and the runtime
// initialises Winsock itself.
const windowsSockets = 1 << 14

func raiseLimit() (Limits, error) {
	return Limits{Previous: windowsSockets, Current: windowsSockets, Max: windowsSockets}, nil
}

func restoreLimit(Limits) error { return nil }
