package scanning

import (
	"context"
	"net"
	"net/netip"

	"github.com/anstrom/netprobe/internal/correlator"
)

// TCPScanner probes targets with a full TCP connect and, on success, reads
// the service banner.
type TCPScanner struct {
	opts Options
}

// NewTCPScanner creates a TCP connect scanner.
func NewTCPScanner(opts Options) *TCPScanner {
	return &TCPScanner{opts: opts.withDefaults()}
}

// Name returns the scanner name.
func (s *TCPScanner) Name() string { return "tcp" }

// Scan probes every target in batch over TCP.
func (s *TCPScanner) Scan(ctx context.Context, batch Batch) error {
	return scanBatch(ctx, s.Name(), s.opts, batch, s.probe)
}

// Close releases nothing; sockets are per probe.
func (s *TCPScanner) Close() error { return nil }

type dialResult struct {
	conn net.Conn
	err  error
}

func (s *TCPScanner) probe(ctx context.Context, t *Target) (Reason, []byte) {
	addr, ok := lookup(ctx, s.opts, s.Name(), "ip", t)
	if !ok {
		return ReasonTimedOut, nil
	}

	release, err := s.opts.Budget.Acquire(ctx, t.String())
	if err != nil {
		return ReasonUnknown, nil
	}
	defer release()

	// The local port is not known before connect, so the key leaves it open.
	waiter := registerNotice(s.opts, s.Name(), correlator.TransportKey(correlator.ProtoTCP, addr, t.Port, 0))
	if waiter != nil {
		defer waiter.Cancel()
	}

	dctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	results := make(chan dialResult, 1)
	go func() {
		conn, err := s.opts.Dialer.DialContext(dctx, "tcp", netip.AddrPortFrom(addr, t.Port).String())
		results <- dialResult{conn: conn, err: err}
	}()

	var res dialResult
	select {
	case res = <-results:
	case note := <-notices(waiter):
		cancel()
		res = <-results
		if res.err != nil {
			s.opts.Logger.DebugProbe("Connect rejected by ICMP", t.String(),
				"type", note.Type, "code", note.Code, "from", note.From)
			return ReasonIcmpUnreachable, nil
		}
	}
	if res.err != nil {
		return classifyDialError(res.err), nil
	}
	defer res.conn.Close()

	banner, err := CaptureBanner(res.conn, s.opts.BannerTimeout, s.opts.BannerSize)
	if err != nil {
		s.opts.Logger.DebugProbe("Banner capture failed", t.String(), "error", err)
		banner = nil
	}
	return ReasonReplyReceived, banner
}

// registerNotice registers key for ICMP error notices when the correlator
// can see them. It returns nil when no notice can be delivered.
func registerNotice(opts Options, scanner string, key correlator.Key) *correlator.Waiter {
	c := opts.Correlator
	if c == nil || !c.Privileged() || !c.Available(correlator.FamilyOf(key.Remote)) {
		return nil
	}
	w, err := c.Register(key)
	if err != nil {
		opts.Logger.Debug("Probe proceeds without ICMP correlation",
			"component", scanner,
			"key", key.String(),
			"error", err)
		return nil
	}
	return w
}

// notices returns the waiter's channel, or nil (blocks forever) without one.
func notices(w *correlator.Waiter) <-chan correlator.Notification {
	if w == nil {
		return nil
	}
	return w.C()
}
