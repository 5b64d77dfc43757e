package scanning

import (
	"context"
	"net"
	"net/netip"

	"github.com/anstrom/netprobe/internal/correlator"
	"github.com/anstrom/netprobe/internal/payloads"
)

// UDPScanner sends a port-specific payload to each target and waits for a
// reply or an ICMP port unreachable notice. A silent port is reported as
// timed out: UDP gives no way to tell an open silent service from a
// filtered one.
type UDPScanner struct {
	opts Options
}

// NewUDPScanner creates a UDP probe scanner.
func NewUDPScanner(opts Options) *UDPScanner {
	return &UDPScanner{opts: opts.withDefaults()}
}

// Name returns the scanner name.
func (s *UDPScanner) Name() string { return "udp" }

// Payloads returns the payload library used for probes.
func (s *UDPScanner) Payloads() *payloads.Library { return s.opts.Payloads }

// Scan probes every target in batch over UDP.
func (s *UDPScanner) Scan(ctx context.Context, batch Batch) error {
	return scanBatch(ctx, s.Name(), s.opts, batch, s.probe)
}

// Close releases nothing; sockets are per probe.
func (s *UDPScanner) Close() error { return nil }

type readResult struct {
	data []byte
	err  error
}

func (s *UDPScanner) probe(ctx context.Context, t *Target) (Reason, []byte) {
	addr, ok := lookup(ctx, s.opts, s.Name(), "ip", t)
	if !ok {
		return ReasonTimedOut, nil
	}

	release, err := s.opts.Budget.Acquire(ctx, t.String())
	if err != nil {
		return ReasonUnknown, nil
	}
	defer release()

	conn, err := s.opts.Dialer.DialContext(ctx, "udp", netip.AddrPortFrom(addr, t.Port).String())
	if err != nil {
		return classifyDialError(err), nil
	}
	defer conn.Close()

	var waiter *correlator.Waiter
	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		key := correlator.TransportKey(correlator.ProtoUDP, addr, t.Port, uint16(local.Port))
		if waiter = registerNotice(s.opts, s.Name(), key); waiter != nil {
			defer waiter.Cancel()
		}
	}

	if _, err := conn.Write(s.opts.Payloads.Lookup(t.Port)); err != nil {
		return classifyDialError(err), nil
	}

	results := make(chan readResult, 1)
	go func() {
		data, err := readDatagram(conn, s.opts.ProbeTimeout, s.opts.BannerSize)
		results <- readResult{data: data, err: err}
	}()

	var res readResult
	select {
	case res = <-results:
	case note := <-notices(waiter):
		_ = conn.Close()
		res = <-results
		if res.err != nil {
			s.opts.Logger.DebugProbe("Port unreachable", t.String(),
				"type", note.Type, "code", note.Code, "from", note.From)
			return ReasonIcmpUnreachable, nil
		}
	case <-ctx.Done():
		_ = conn.Close()
		<-results
		return ReasonUnknown, nil
	}

	if res.err != nil {
		return classifyDialError(res.err), nil
	}
	return ReasonReplyReceived, res.data
}
