package scanning

import (
	"net"
	"time"

	"github.com/anstrom/netprobe/internal/correlator"
	"github.com/anstrom/netprobe/internal/logging"
	"github.com/anstrom/netprobe/internal/metrics"
	"github.com/anstrom/netprobe/internal/payloads"
)

// Default probe settings.
const (
	DefaultWorkers        = 64
	DefaultMaxSockets     = 256
	DefaultConnectTimeout = 2 * time.Second
	DefaultBannerTimeout  = 500 * time.Millisecond
	DefaultBannerSize     = 1024
	DefaultProbeTimeout   = 2 * time.Second
	DefaultICMPTimeout    = 2 * time.Second
	DefaultNmapTiming     = 4
	DefaultNmapTimeout    = 5 * time.Minute
)

// Options carry the settings and shared collaborators of every scanner.
type Options struct {
	Workers   int
	RateLimit float64

	ConnectTimeout time.Duration
	BannerTimeout  time.Duration
	BannerSize     int
	ProbeTimeout   time.Duration
	ICMPTimeout    time.Duration

	// Correlator routes ICMP error notices and echo replies. TCP and UDP
	// probes work without it; the ICMP pinger requires it.
	Correlator *correlator.Correlator
	Payloads   *payloads.Library
	Budget     ResourceManager
	Dialer     Dialer
	Resolver   Resolver

	NmapPath    string
	NmapTiming  int
	NmapTimeout time.Duration

	Metrics metrics.Recorder
	Logger  *logging.Logger
}

// DefaultOptions returns options with every default filled in.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.BannerTimeout <= 0 {
		o.BannerTimeout = DefaultBannerTimeout
	}
	if o.BannerSize <= 0 {
		o.BannerSize = DefaultBannerSize
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.ICMPTimeout <= 0 {
		o.ICMPTimeout = DefaultICMPTimeout
	}
	if o.Payloads == nil {
		o.Payloads = payloads.Default()
	}
	if o.Budget == nil {
		o.Budget = NewSocketBudget(DefaultMaxSockets)
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	if o.Resolver == nil {
		o.Resolver = net.DefaultResolver
	}
	if o.NmapTiming <= 0 {
		o.NmapTiming = DefaultNmapTiming
	}
	if o.NmapTimeout <= 0 {
		o.NmapTimeout = DefaultNmapTimeout
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Global()
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	return o
}
