// Package workers provides the fixed-size worker pool that fans a batch of
// probes out across goroutines. Every index of a batch is handed to
// exactly one worker, so each worker owns its record for the duration of
// the probe. Probe starts can be paced with a token bucket.
package workers

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/netprobe/internal/logging"
)

// Func probes the batch element at index i.
type Func func(ctx context.Context, i int)

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// RateLimit is the maximum number of jobs started per second (0 = no limit).
	RateLimit float64
	// Burst is the number of jobs that may start back to back under RateLimit.
	Burst int
	// Logger receives drain summaries. Nil means the package default.
	Logger *logging.Logger
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:      64,
		RateLimit: 0,
		Burst:     1,
	}
}

// Pool runs batches over a bounded set of goroutines.
type Pool struct {
	config  Config
	limiter *rate.Limiter
}

// New creates a new worker pool with the given configuration.
func New(config Config) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}

	pool := &Pool{config: config}
	if config.RateLimit > 0 {
		pool.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst)
	}
	return pool
}

// Size returns the number of workers a batch may use.
func (p *Pool) Size() int {
	return p.config.Size
}

// Run calls fn once for every index in [0, n) using at most Size workers and
// returns when all started calls have finished. If ctx ends first, the
// remaining indices are never started and ctx's error is returned.
func (p *Pool) Run(ctx context.Context, n int, fn Func) error {
	if n <= 0 {
		return nil
	}

	size := min(p.config.Size, n)
	jobs := make(chan int)
	finished := make(chan int, size)

	for w := 0; w < size; w++ {
		go func() {
			count := 0
			defer func() { finished <- count }()
			for i := range jobs {
				fn(ctx, i)
				count++
			}
		}()
	}

	start := time.Now()
	var err error
dispatch:
	for i := 0; i < n; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		if p.limiter != nil {
			if err = p.limiter.Wait(ctx); err != nil {
				break
			}
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			err = ctx.Err()
			break dispatch
		}
	}
	close(jobs)

	total := 0
	for w := 0; w < size; w++ {
		total += <-finished
	}
	p.config.Logger.Debug("Worker pool drained",
		"workers", size,
		"jobs", total,
		"duration", time.Since(start))

	return err
}
