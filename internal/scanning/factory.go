package scanning

import (
	"context"
	stderrors "errors"

	"github.com/anstrom/netprobe/internal/errors"
)

// Scanner probes a batch of targets in place.
type Scanner interface {
	// Name identifies the scanner in logs and metrics.
	Name() string
	// Scan probes every record of batch and writes the outcome into it.
	// Per-record failures become a Reason; only failures that prevent the
	// whole batch from being probed are returned.
	Scan(ctx context.Context, batch Batch) error
	// Close releases resources held by the scanner.
	Close() error
}

var (
	_ Scanner = (*TCPScanner)(nil)
	_ Scanner = (*UDPScanner)(nil)
	_ Scanner = (*ICMPPinger)(nil)
	_ Scanner = (*NmapScanner)(nil)
)

// Factory builds scanners sharing one set of options and collaborators.
type Factory struct {
	opts Options
	nmap NmapRunner
}

// NewFactory creates a factory. Missing options take their defaults.
func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts.withDefaults()}
}

// WithNmapRunner overrides how the external scanner invokes nmap.
func (f *Factory) WithNmapRunner(r NmapRunner) *Factory {
	f.nmap = r
	return f
}

// Options returns the resolved options shared by every scanner.
func (f *Factory) Options() Options {
	return f.opts
}

// Get returns the scanner for protocol. With preferExternal set the nmap
// scanner is returned for any protocol. Get performs no I/O.
func (f *Factory) Get(protocol Protocol, preferExternal bool) (Scanner, error) {
	if preferExternal {
		return NewNmapScanner(f.opts, f.nmap), nil
	}

	switch protocol {
	case ProtocolTCP:
		return NewTCPScanner(f.opts), nil
	case ProtocolUDP:
		return NewUDPScanner(f.opts), nil
	case ProtocolICMPv4, ProtocolICMPv6:
		return NewICMPPinger(f.opts), nil
	default:
		return nil, errors.ErrUnsupportedProtocol(protocol.String())
	}
}

// ScanAll probes a mixed batch, handing each protocol's records to its
// scanner. Records keep their position and identity in batch. A protocol
// whose scanner cannot start leaves its records untouched; the other
// protocols are still probed and the errors are joined.
func (f *Factory) ScanAll(ctx context.Context, batch Batch, preferExternal bool) error {
	if preferExternal {
		return f.scanWith(ctx, ProtocolNone, true, batch)
	}

	groups := batch.byProtocol()
	order := []Protocol{ProtocolTCP, ProtocolUDP, ProtocolICMPv4, ProtocolICMPv6}
	for p := range groups {
		if _, err := f.Get(p, false); err != nil {
			return err
		}
	}

	// Both ICMP families go through one pinger so its setup check sees
	// the whole ICMP share of the batch.
	var icmp Batch
	var errs []error
	for _, p := range order {
		indices, ok := groups[p]
		if !ok {
			continue
		}
		sub := make(Batch, len(indices))
		for j, i := range indices {
			sub[j] = batch[i]
		}
		if p.IsICMP() {
			icmp = append(icmp, sub...)
			continue
		}
		if err := f.scanWith(ctx, p, false, sub); err != nil {
			errs = append(errs, err)
		}
	}
	if len(icmp) > 0 {
		if err := f.scanWith(ctx, ProtocolICMPv4, false, icmp); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (f *Factory) scanWith(ctx context.Context, p Protocol, external bool, batch Batch) error {
	scanner, err := f.Get(p, external)
	if err != nil {
		return err
	}
	defer scanner.Close()
	return scanner.Scan(ctx, batch)
}
