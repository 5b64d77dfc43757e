package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/report"
	"github.com/anstrom/netprobe/internal/scheduler"
)

var (
	watchFlags    batchFlags
	watchSchedule string
	watchRuns     int
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [targets...]",
	Short: "Rescan the same batch on a schedule",
	Long: `Probe the batch immediately and then again on every tick of the cron
schedule until interrupted. Every run overwrites the previous outcome of each
target in place.`,
	Example: `  netprobe watch tcp://192.0.2.10:22 icmp4://192.0.2.1
  netprobe watch --schedule "*/5 * * * *" --ports 80,443 192.0.2.10 -o json -f status.json
  netprobe watch --schedule "@every 30s" --runs 10 udp://192.0.2.53:53`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchFlags.register(watchCmd)
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "@every 1m", "cron expression or descriptor for rescans")
	watchCmd.Flags().IntVar(&watchRuns, "runs", 0, "stop after this many runs (0 = until interrupted)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(watchFlags.output)
	if err != nil {
		return err
	}
	batch, err := buildBatch(args, watchFlags.protocol, watchFlags.ports)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := newSession(ctx, appConfig)
	if err != nil {
		return err
	}
	defer sess.close()

	var (
		runs      atomic.Int32
		fatalOnce sync.Once
		fatalErr  error
	)
	sched := scheduler.NewScheduler(sess.logger)
	jobID, err := sched.AddJob("watch", watchSchedule, func(jobCtx context.Context) error {
		scanCtx, cancelScan := context.WithCancel(jobCtx)
		defer cancelScan()
		defer context.AfterFunc(ctx, cancelScan)()

		doc, scanErr := sess.scan(scanCtx, batch, watchFlags.external)
		if err := publish(cmd, doc, format, watchFlags.file); err != nil {
			return err
		}
		if n := runs.Add(1); watchRuns > 0 && int(n) >= watchRuns {
			cancel()
		}
		// Rescanning cannot fix a missing backend or a bad configuration.
		if errors.IsFatal(scanErr) {
			fatalOnce.Do(func() { fatalErr = scanErr })
			cancel()
		}
		return scanErr
	})
	if err != nil {
		return err
	}

	if _, err := sched.RunNow(jobID); err != nil {
		sess.logger.Warn("Initial scan failed", "error", err)
	}
	if ctx.Err() == nil {
		if err := sched.Start(); err != nil {
			return err
		}
		<-ctx.Done()
	}
	sched.Stop()

	if job, ok := sched.GetJob(jobID); ok {
		sess.logger.Info("Watch stopped", "runs", job.Runs, "skipped", job.Skipped)
	}
	return fatalErr
}
