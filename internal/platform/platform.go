// Package platform prepares the process for opening many probe sockets at
// once and restores its state on exit.
package platform

import "sync"

// Limits describes the open file limit before and after Init.
type Limits struct {
	Previous uint64
	Current  uint64
	Max      uint64
}

var (
	mu    sync.Mutex
	saved *Limits
)

// Init raises the open file limit as far as the platform allows and returns
// the resulting limits. Calling Init again returns the same limits.
func Init() (Limits, error) {
	mu.Lock()
	defer mu.Unlock()

	if saved != nil {
		return *saved, nil
	}
	l, err := raiseLimit()
	if err != nil {
		return l, err
	}
	saved = &l
	return l, nil
}

// Shutdown restores the limit saved by Init.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()

	if saved == nil {
		return nil
	}
	err := restoreLimit(*saved)
	saved = nil
	return err
}

// SocketCapacity returns how many probe sockets fit under limits, keeping
// reserve descriptors for everything else the process holds open.
func SocketCapacity(l Limits, reserve int) int {
	if l.Current == 0 {
		return 0
	}
	if l.Current <= uint64(reserve) {
		return 1
	}
	c := l.Current - uint64(reserve)
	if c > uint64(1<<20) {
		c = 1 << 20
	}
	return int(c)
}
