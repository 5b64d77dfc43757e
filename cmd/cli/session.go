package cli

import (
	"context"
	"time"

	"github.com/anstrom/netprobe/internal/config"
	"github.com/anstrom/netprobe/internal/correlator"
	"github.com/anstrom/netprobe/internal/logging"
	"github.com/anstrom/netprobe/internal/metrics"
	"github.com/anstrom/netprobe/internal/platform"
	"github.com/anstrom/netprobe/internal/scanning"
)

const (
	// Descriptors kept back for the process itself: logs, listeners,
	// the correlator sockets and the nmap pipes.
	reservedDescriptors = 64

	systemMetricsInterval = 15 * time.Second
)

// session holds everything a scanning command needs for its lifetime.
// One session opens at most one correlator.
type session struct {
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
	correlator *correlator.Correlator
	factory    *scanning.Factory
	server     *metricsServer

	stopUpdates context.CancelFunc
}

// newSession prepares the process and builds the scanner factory from cfg.
// The caller must call close.
func newSession(ctx context.Context, cfg *config.Config) (*session, error) {
	logger := logging.Default().WithComponent("cli")

	limits, err := platform.Init()
	if err != nil {
		logger.Warn("Failed to raise open file limit", "error", err)
	}
	sockets := cfg.Scanning.MaxSockets
	if capacity := platform.SocketCapacity(limits, reservedDescriptors); capacity > 0 && capacity < sockets {
		logger.Warn("Socket budget reduced to fit the open file limit",
			"configured", sockets, "available", capacity)
		sockets = capacity
	}

	pm := metrics.NewPrometheusMetrics()
	metrics.SetGlobal(pm)

	s := &session{cfg: cfg, logger: logger, metrics: pm}

	updateCtx, cancel := context.WithCancel(ctx)
	s.stopUpdates = cancel
	go pm.StartPeriodicUpdates(updateCtx, systemMetricsInterval)

	if cfg.ICMP.Enabled {
		s.correlator = openCorrelator(cfg, pm, logger)
	}

	budget := scanning.NewSocketBudget(sockets)
	opts := scanning.Options{
		Workers:        cfg.Scanning.Workers,
		RateLimit:      cfg.Scanning.RateLimit,
		ConnectTimeout: cfg.Scanning.ConnectTimeout,
		BannerTimeout:  cfg.Scanning.BannerTimeout,
		BannerSize:     cfg.Scanning.BannerSize,
		ProbeTimeout:   cfg.Scanning.ProbeTimeout,
		ICMPTimeout:    cfg.Scanning.ICMPTimeout,
		Correlator:     s.correlator,
		Budget:         budget,
		NmapPath:       cfg.External.NmapPath,
		NmapTiming:     cfg.External.Timing,
		NmapTimeout:    cfg.External.Timeout,
		Metrics:        pm,
		Logger:         logging.Default(),
	}
	s.factory = scanning.NewFactory(opts)

	if cfg.Metrics.Enabled {
		s.server = newMetricsServer(cfg.Metrics.ListenAddr, pm, s.correlator, budget, logger)
		if err := s.server.Start(); err != nil {
			s.close()
			return nil, err
		}
	}

	return s, nil
}

// openCorrelator opens the process-wide correlator. A failure is logged and
// leaves ICMP scanning unavailable while TCP and UDP keep working.
func openCorrelator(cfg *config.Config, rec metrics.Recorder, logger *logging.Logger) *correlator.Correlator {
	privileged := privilegedMode(cfg.ICMP.Mode)
	c := correlator.New(correlator.Options{
		Privileged: privileged,
		ListenV4:   cfg.ICMP.ListenV4,
		ListenV6:   cfg.ICMP.ListenV6,
		Metrics:    rec,
		Logger:     logging.Default(),
	})
	if err := c.Open(); err != nil {
		logger.Warn("ICMP correlator unavailable", "privileged", privileged, "error", err)
		_ = c.Close()
		return nil
	}
	logger.Debug("ICMP correlator opened", "privileged", privileged,
		"ipv4", c.Available(correlator.FamilyV4), "ipv6", c.Available(correlator.FamilyV6))
	return c
}

// privilegedMode resolves the configured ICMP mode into a socket choice.
func privilegedMode(mode string) bool {
	switch mode {
	case config.ICMPModePrivileged:
		return true
	case config.ICMPModeUnprivileged:
		return false
	default:
		return correlator.CanOpenRaw()
	}
}

func (s *session) close() {
	if s.server != nil {
		if err := s.server.Stop(); err != nil {
			s.logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	if s.correlator != nil {
		if err := s.correlator.Close(); err != nil {
			s.logger.Warn("Failed to close correlator", "error", err)
		}
	}
	if s.stopUpdates != nil {
		s.stopUpdates()
	}
	if err := platform.Shutdown(); err != nil {
		s.logger.Warn("Failed to restore open file limit", "error", err)
	}
}
