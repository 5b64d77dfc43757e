package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/anstrom/netprobe/internal/report"
	"github.com/anstrom/netprobe/internal/scanning"
)

// batchFlags are shared by every command that probes a batch.
type batchFlags struct {
	protocol string
	ports    string
	external bool
	output   string
	file     string
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.protocol, "protocol", "p", "tcp", "protocol for targets without a scheme: tcp, udp, icmp4, icmp6")
	cmd.Flags().StringVar(&f.ports, "ports", "", "expand each host over a port list such as '22,80,8000-8010'")
	cmd.Flags().BoolVar(&f.external, "external", false, "probe through nmap instead of the native scanners")
	cmd.Flags().StringVarP(&f.output, "output", "o", "table", "output format: table, json, xml")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "also write the report to this file (.json, .xml or table)")
}

var (
	scanFlags   batchFlags
	scanTimeout time.Duration
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [targets...]",
	Short: "Probe a batch of targets once",
	Long: `Probe every target concurrently and report whether it answered, timed
out or was rejected with an ICMP error.

Targets are written as proto://host:port, proto://host for ICMP, or host:port
using --protocol. With --ports each target names a host and is probed on
every listed port.`,
	Example: `  netprobe scan tcp://192.0.2.10:22 udp://192.0.2.53:53 icmp4://192.0.2.1
  netprobe scan --ports 22,80,443 192.0.2.10 2001:db8::10
  netprobe scan -p udp --ports 53,123,161 192.0.2.1 -o json -f report.json
  netprobe scan --external tcp://scanme.example:25`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanFlags.register(scanCmd)
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "abort the batch after this long (0 = no limit)")
}

func runScan(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(scanFlags.output)
	if err != nil {
		return err
	}
	batch, err := buildBatch(args, scanFlags.protocol, scanFlags.ports)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if scanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanTimeout)
		defer cancel()
	}

	sess, err := newSession(ctx, appConfig)
	if err != nil {
		return err
	}
	defer sess.close()

	doc, scanErr := sess.scan(ctx, batch, scanFlags.external)
	if err := publish(cmd, doc, format, scanFlags.file); err != nil {
		return err
	}
	return scanErr
}

// scan probes batch once and returns its report. The report is built even
// when the scan fails so partial results are not lost.
func (s *session) scan(ctx context.Context, batch scanning.Batch, external bool) (*report.Document, error) {
	batchID := uuid.NewString()
	logger := s.logger.WithBatchID(batchID)
	logger.Debug("Starting batch", "targets", len(batch), "external", external)

	start := time.Now()
	err := s.factory.ScanAll(ctx, batch, external)
	end := time.Now()

	summary := batch.Summary()
	if err != nil {
		logger.Error("Batch finished with errors", "error", err, "summary", summary.String())
	} else {
		logger.Info("Batch finished", "duration", end.Sub(start), "summary", summary.String())
	}
	return report.New(batchID, batch, start, end), err
}

// publish writes doc to the command's output and, when set, to file.
func publish(cmd *cobra.Command, doc *report.Document, format report.Format, file string) error {
	if err := report.Write(cmd.OutOrStdout(), format, doc); err != nil {
		return err
	}
	if file != "" {
		return report.Save(doc, file)
	}
	return nil
}
