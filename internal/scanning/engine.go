package scanning

import (
	"context"
	"net/netip"
	"time"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/metrics"
	"github.com/anstrom/netprobe/internal/workers"
)

// probeFunc probes a single target and returns its outcome. It must not
// write to the target.
type probeFunc func(ctx context.Context, t *Target) (Reason, []byte)

// scanBatch fans probe out over batch. Each record is written by the worker
// that probed it, once, after the probe finishes. Records whose probe was
// cut short by ctx are left as they were.
func scanBatch(ctx context.Context, scanner string, opts Options, batch Batch, probe probeFunc) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	logger := opts.Logger.WithComponent(scanner)
	pool := workers.New(workers.Config{Size: opts.Workers, RateLimit: opts.RateLimit, Logger: logger})

	err := pool.Run(ctx, len(batch), func(ctx context.Context, i int) {
		t := batch[i]
		timer := metrics.StartProbe(opts.Metrics, scanner)

		reason, banner := probe(ctx, t)
		if ctx.Err() != nil && reason != ReasonReplyReceived {
			timer.Stop(ReasonUnknown.String())
			return
		}

		t.complete(reason, banner)
		d := timer.Stop(reason.String())
		logger.DebugProbe("Probe finished", t.String(),
			"reason", reason.String(),
			"banner_bytes", len(t.Banner),
			"duration", d)
	})

	duration := time.Since(start)
	summary := batch.Summary()
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	opts.Metrics.RecordBatch(scanner, status, len(batch), duration)

	if err != nil {
		logger.ErrorBatch("Batch interrupted", scanner, err,
			"probed", summary.Total-summary.Unknown,
			"duration", duration)
		return errors.WrapScanError(errors.CodeCanceled, "batch interrupted", err).
			WithOperation(scanner + " scan")
	}

	logger.InfoBatch("Batch complete", scanner, len(batch),
		"alive", summary.Alive,
		"timed_out", summary.TimedOut,
		"unreachable", summary.Unreachable,
		"duration", duration)
	return nil
}

// lookup resolves t.Host, logging failures. A host that cannot be resolved
// is reported as timed out since no reply could ever arrive.
func lookup(ctx context.Context, opts Options, scanner, network string, t *Target) (netip.Addr, bool) {
	addr, err := resolve(ctx, opts.Resolver, network, t.Host)
	if err != nil {
		opts.Logger.WithComponent(scanner).Warn("Address resolution failed",
			"target", t.String(),
			"error", errors.ErrAddressResolution(t.Host, err))
		return netip.Addr{}, false
	}
	return addr, true
}
