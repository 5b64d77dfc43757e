package scanning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anstrom/netprobe/internal/errors"
)

func TestSocketBudget_Acquire(t *testing.T) {
	t.Run("successful acquisition", func(t *testing.T) {
		b := NewSocketBudget(5)

		release, err := b.Acquire(context.Background(), "tcp://127.0.0.1:80")
		if err != nil {
			t.Fatalf("Expected successful acquisition, got error: %v", err)
		}
		if b.Active() != 1 {
			t.Errorf("Expected 1 active socket, got %d", b.Active())
		}

		release()
		if b.Active() != 0 {
			t.Errorf("Expected 0 active sockets, got %d", b.Active())
		}
	})

	t.Run("budget exhaustion", func(t *testing.T) {
		b := NewSocketBudget(2)
		ctx := context.Background()

		r1, err1 := b.Acquire(ctx, "a")
		r2, err2 := b.Acquire(ctx, "b")
		if err1 != nil || err2 != nil {
			t.Fatalf("Expected successful acquisition, got errors: %v, %v", err1, err2)
		}

		ctx3, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		if _, err := b.Acquire(ctx3, "c"); err == nil {
			t.Error("Expected timeout error, got success")
		}

		r1()
		r2()
	})

	t.Run("cancelled context", func(t *testing.T) {
		b := NewSocketBudget(1)
		release, err := b.Acquire(context.Background(), "blocking")
		if err != nil {
			t.Fatalf("Expected successful acquisition, got error: %v", err)
		}
		defer release()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := b.Acquire(ctx, "cancelled"); err == nil {
			t.Error("Expected cancellation error, got success")
		}
	})

	t.Run("closed budget", func(t *testing.T) {
		b := NewSocketBudget(1)
		_ = b.Close()

		_, err := b.Acquire(context.Background(), "late")
		if !errors.IsCode(err, errors.CodeSocketCreation) {
			t.Errorf("Expected socket creation error, got %v", err)
		}
	})

	t.Run("zero capacity is normalized", func(t *testing.T) {
		if got := NewSocketBudget(0).Capacity(); got != 1 {
			t.Errorf("Expected capacity 1, got %d", got)
		}
	})
}

func TestSocketBudget_Release(t *testing.T) {
	b := NewSocketBudget(1)

	release, err := b.Acquire(context.Background(), "x")
	if err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}

	release()
	release() // second call must not free a slot twice

	r1, err := b.Acquire(context.Background(), "y")
	if err != nil {
		t.Fatalf("Failed to reacquire: %v", err)
	}
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := b.Acquire(ctx, "z"); err == nil {
		t.Error("Expected capacity to stay at 1 after double release")
	}
}

func TestSocketBudget_ConcurrentAccess(t *testing.T) {
	b := NewSocketBudget(10)
	ctx := context.Background()

	const numGoroutines = 50
	const probesPerGoroutine = 5

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		peak int
	)
	errs := make(chan error, numGoroutines*probesPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < probesPerGoroutine; j++ {
				release, err := b.Acquire(ctx, fmt.Sprintf("worker-%d-probe-%d", workerID, j))
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				peak = max(peak, b.Active())
				mu.Unlock()
				time.Sleep(time.Millisecond)
				release()
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent operation failed: %v", err)
	}
	if b.Active() != 0 {
		t.Errorf("Expected 0 active sockets after completion, got %d", b.Active())
	}
	if peak > 10 {
		t.Errorf("Expected at most 10 concurrent sockets, saw %d", peak)
	}
}

func TestSocketBudget_Stats(t *testing.T) {
	b := NewSocketBudget(4)

	if st := b.Stats(); st.OldestTarget != "" || st.Available != 4 {
		t.Fatalf("Expected an idle budget, got %+v", st)
	}

	r1, _ := b.Acquire(context.Background(), "first")
	time.Sleep(5 * time.Millisecond)
	r2, _ := b.Acquire(context.Background(), "second")
	defer r1()
	defer r2()

	st := b.Stats()
	if st.OldestTarget != "first" {
		t.Errorf("Expected oldest holder 'first', got %q", st.OldestTarget)
	}
	if st.OldestAge < 5*time.Millisecond {
		t.Errorf("Expected age of at least 5ms, got %v", st.OldestAge)
	}
	if st.Active != 2 || st.Available != 2 || st.Capacity != 4 {
		t.Errorf("Expected 2 of 4 slots in use, got %+v", st)
	}
}
