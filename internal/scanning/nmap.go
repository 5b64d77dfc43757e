package scanning

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/metrics"
)

// NmapRunner runs one nmap invocation and returns the parsed result and
// any warnings nmap printed.
type NmapRunner func(ctx context.Context, options ...nmap.Option) (*nmap.Run, []string, error)

// RunNmap runs the nmap binary through github.com/Ullaakut/nmap/v3.
func RunNmap(ctx context.Context, options ...nmap.Option) (*nmap.Run, []string, error) {
	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		return nil, nil, err
	}

	result, warnings, err := scanner.Run()
	var w []string
	if warnings != nil {
		w = *warnings
	}
	return result, w, err
}

// NmapScanner delegates probing to an installed nmap. Outcomes for the whole
// batch are collected before any record is written, so a failed run leaves
// the batch untouched.
type NmapScanner struct {
	opts   Options
	runner NmapRunner
}

// NewNmapScanner creates a scanner backed by nmap. A nil runner uses RunNmap.
func NewNmapScanner(opts Options, runner NmapRunner) *NmapScanner {
	if runner == nil {
		runner = RunNmap
	}
	return &NmapScanner{opts: opts.withDefaults(), runner: runner}
}

// Name returns the scanner name.
func (s *NmapScanner) Name() string { return "nmap" }

// Close releases nothing; every run starts its own nmap process.
func (s *NmapScanner) Close() error { return nil }

type nmapKind int

const (
	nmapTCP nmapKind = iota
	nmapUDP
	nmapPing
)

func (k nmapKind) String() string {
	switch k {
	case nmapUDP:
		return "udp"
	case nmapPing:
		return "ping"
	default:
		return "tcp"
	}
}

// nmapGroup is one nmap invocation: records of one kind and address family.
type nmapGroup struct {
	kind    nmapKind
	v6      bool
	indices []int
}

type outcome struct {
	reason Reason
	banner []byte
}

// Scan runs nmap once per protocol and address family in batch.
func (s *NmapScanner) Scan(ctx context.Context, batch Batch) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	logger := s.opts.Logger.WithComponent(s.Name())
	outcomes := make(map[int]outcome, len(batch))
	addrs := make(map[int]netip.Addr, len(batch))

	groups := map[[2]int]*nmapGroup{}
	var order [][2]int
	for i, t := range batch {
		network := "ip"
		if family, ok := familyOf(t.Protocol); ok {
			network = family.String()
		}
		addr, ok := lookup(ctx, s.opts, s.Name(), network, t)
		if !ok {
			outcomes[i] = outcome{reason: ReasonTimedOut}
			continue
		}
		addrs[i] = addr

		kind := nmapTCP
		switch {
		case t.Protocol == ProtocolUDP:
			kind = nmapUDP
		case t.Protocol.IsICMP():
			kind = nmapPing
		}
		gk := [2]int{int(kind), 0}
		if addr.Is6() {
			gk[1] = 1
		}
		g, exists := groups[gk]
		if !exists {
			g = &nmapGroup{kind: kind, v6: addr.Is6()}
			groups[gk] = g
			order = append(order, gk)
		}
		g.indices = append(g.indices, i)
	}

	for _, gk := range order {
		g := groups[gk]
		result, err := s.run(ctx, batch, addrs, g)
		if err != nil {
			err = errors.ErrScanUnavailable(s.Name(), err)
			s.opts.Metrics.RecordBatch(s.Name(), metrics.StatusError, len(batch), time.Since(start))
			logger.ErrorBatch("nmap run failed", s.Name(), err, "group", g.kind.String(), "ipv6", g.v6)
			return err
		}
		collect(result, batch, addrs, g, outcomes)
	}

	for i, t := range batch {
		o, ok := outcomes[i]
		if !ok {
			o = outcome{reason: ReasonTimedOut}
		}
		t.complete(o.reason, o.banner)
	}

	duration := time.Since(start)
	summary := batch.Summary()
	s.opts.Metrics.RecordBatch(s.Name(), metrics.StatusSuccess, len(batch), duration)
	logger.InfoBatch("Batch complete", s.Name(), len(batch),
		"alive", summary.Alive,
		"timed_out", summary.TimedOut,
		"unreachable", summary.Unreachable,
		"nmap_runs", len(order),
		"duration", duration)
	return nil
}

func (s *NmapScanner) run(ctx context.Context, batch Batch, addrs map[int]netip.Addr, g *nmapGroup) (*nmap.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NmapTimeout)
	defer cancel()

	result, warnings, err := s.runner(ctx, s.options(batch, addrs, g)...)
	if len(warnings) > 0 {
		s.opts.Logger.Warn("nmap reported warnings",
			"component", s.Name(),
			"group", g.kind.String(),
			"warnings", warnings)
	}
	if err != nil {
		if stderrors.Is(err, nmap.ErrNmapNotInstalled) {
			return nil, fmt.Errorf("nmap binary not found: %w", err)
		}
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("nmap returned no result")
	}
	return result, nil
}

func (s *NmapScanner) options(batch Batch, addrs map[int]netip.Addr, g *nmapGroup) []nmap.Option {
	var (
		targets []string
		ports   []string
	)
	for _, i := range g.indices {
		a := addrs[i].String()
		if !slices.Contains(targets, a) {
			targets = append(targets, a)
		}
		p := strconv.Itoa(int(batch[i].Port))
		if !slices.Contains(ports, p) {
			ports = append(ports, p)
		}
	}

	options := []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithTimingTemplate(nmap.Timing(s.opts.NmapTiming)),
		nmap.WithDisabledDNSResolution(),
	}
	if s.opts.NmapPath != "" {
		options = append(options, nmap.WithBinaryPath(s.opts.NmapPath))
	}
	if g.v6 {
		options = append(options, nmap.WithIPv6Scanning())
	}

	switch g.kind {
	case nmapPing:
		options = append(options, nmap.WithPingScan())
	case nmapUDP:
		options = append(options,
			nmap.WithPorts(strings.Join(ports, ",")),
			nmap.WithUDPScan(),
			nmap.WithServiceInfo(),
			nmap.WithSkipHostDiscovery(),
		)
	default:
		options = append(options,
			nmap.WithPorts(strings.Join(ports, ",")),
			nmap.WithConnectScan(),
			nmap.WithServiceInfo(),
			nmap.WithScripts("banner"),
			nmap.WithSkipHostDiscovery(),
		)
	}
	return options
}

// collect maps nmap's view of each host and port back onto the group's
// records.
func collect(result *nmap.Run, batch Batch, addrs map[int]netip.Addr, g *nmapGroup, out map[int]outcome) {
	hosts := make(map[netip.Addr]*nmap.Host, len(result.Hosts))
	for i := range result.Hosts {
		h := &result.Hosts[i]
		for _, a := range h.Addresses {
			if addr, err := netip.ParseAddr(a.Addr); err == nil {
				hosts[addr.Unmap()] = h
			}
		}
	}

	for _, i := range g.indices {
		h, ok := hosts[addrs[i]]
		if !ok {
			out[i] = outcome{reason: ReasonTimedOut}
			continue
		}
		if g.kind == nmapPing {
			if h.Status.State == "up" {
				out[i] = outcome{reason: ReasonReplyReceived}
			} else {
				out[i] = outcome{reason: ReasonTimedOut}
			}
			continue
		}
		out[i] = portOutcome(h, batch[i].Port, g.kind.String())
	}
}

func portOutcome(h *nmap.Host, port uint16, protocol string) outcome {
	for j := range h.Ports {
		p := &h.Ports[j]
		if p.ID != port || p.Protocol != protocol {
			continue
		}
		switch p.State.State {
		case "open":
			return outcome{reason: ReasonReplyReceived, banner: nmapBanner(p)}
		case "closed":
			return outcome{reason: ReasonIcmpUnreachable}
		default:
			return outcome{reason: ReasonTimedOut}
		}
	}
	return outcome{reason: ReasonTimedOut}
}

// nmapBanner prefers the banner script output and falls back to the
// detected product and version.
func nmapBanner(p *nmap.Port) []byte {
	for _, script := range p.Scripts {
		if script.ID == "banner" && script.Output != "" {
			return []byte(strings.TrimSpace(script.Output))
		}
	}
	desc := strings.TrimSpace(strings.Join([]string{p.Service.Product, p.Service.Version}, " "))
	if desc == "" {
		desc = p.Service.Name
	}
	if desc == "" {
		return nil
	}
	return []byte(desc)
}
