package scanning

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/anstrom/netprobe/internal/errors"
)

// ResourceManager bounds the number of per-probe sockets open at once.
type ResourceManager interface {
	// Acquire blocks until a socket slot is free or ctx is done. The returned
	// release func must be called exactly once when the socket is closed.
	Acquire(ctx context.Context, target string) (release func(), err error)

	// Active returns the number of slots currently held.
	Active() int

	// Capacity returns the total number of slots.
	Capacity() int

	// Close rejects further acquisitions.
	Close() error
}

// SocketBudget implements ResourceManager with a weighted semaphore.
type SocketBudget struct {
	capacity int64
	sem      *semaphore.Weighted

	mu      sync.Mutex
	nextID  uint64
	holders map[uint64]holder
	closed  bool
}

type holder struct {
	target string
	since  time.Time
}

// NewSocketBudget creates a budget of capacity concurrent sockets.
func NewSocketBudget(capacity int) *SocketBudget {
	if capacity <= 0 {
		capacity = 1
	}
	return &SocketBudget{
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
		holders:  make(map[uint64]holder),
	}
}

// Acquire reserves one socket slot for target.
func (b *SocketBudget) Acquire(ctx context.Context, target string) (func(), error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errors.NewScanError(errors.CodeSocketCreation, "socket budget is closed").WithTarget(target)
	}

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.holders[id] = holder{target: target, since: time.Now()}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.holders, id)
			b.mu.Unlock()
			b.sem.Release(1)
		})
	}, nil
}

// Active returns the number of slots currently held.
func (b *SocketBudget) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.holders)
}

// Capacity returns the total number of slots.
func (b *SocketBudget) Capacity() int {
	return int(b.capacity)
}

// BudgetStats is a point-in-time view of a SocketBudget.
type BudgetStats struct {
	Capacity     int           `json:"capacity"`
	Active       int           `json:"active"`
	Available    int           `json:"available"`
	Closed       bool          `json:"closed"`
	OldestTarget string        `json:"oldest_target,omitempty"`
	OldestAge    time.Duration `json:"oldest_age_ns,omitempty"`
}

// Stats reports usage and the target holding a slot the longest.
func (b *SocketBudget) Stats() BudgetStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BudgetStats{
		Capacity:  int(b.capacity),
		Active:    len(b.holders),
		Available: int(b.capacity) - len(b.holders),
		Closed:    b.closed,
	}
	var since time.Time
	for _, h := range b.holders {
		if since.IsZero() || h.since.Before(since) {
			st.OldestTarget, since = h.target, h.since
		}
	}
	if !since.IsZero() {
		st.OldestAge = time.Since(since)
	}
	return st
}

// Close rejects further acquisitions. Slots already held stay valid until
// released.
func (b *SocketBudget) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
