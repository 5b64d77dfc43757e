//go:build !windows

package platform

import (
	"golang.org/x/sys/unix"
)

// ceiling applies where the hard limit is unlimited or absurdly high.
const ceiling = 1 << 20

func raiseLimit() (Limits, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return Limits{}, err
	}

	l := Limits{Previous: rl.Cur, Current: rl.Cur, Max: rl.Max}
	target := min(rl.Max, ceiling)
	if rl.Cur >= target {
		return l, nil
	}

	raised := rl
	raised.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &raised); err != nil {
		return l, err
	}
	l.Current = target
	return l, nil
}

func restoreLimit(l Limits) error {
	if l.Previous == l.Current {
		return nil
	}
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return err
	}
	rl.Cur = l.Previous
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &rl)
}
