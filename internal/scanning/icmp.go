package scanning

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/anstrom/netprobe/internal/correlator"
	"github.com/anstrom/netprobe/internal/errors"
)

const registerAttempts = 3

// ICMPPinger sends ICMP echo requests through the shared correlator and
// waits for the matching reply. Ports are ignored.
type ICMPPinger struct {
	opts Options
}

// NewICMPPinger creates an echo pinger. It needs opts.Correlator to scan.
func NewICMPPinger(opts Options) *ICMPPinger {
	return &ICMPPinger{opts: opts.withDefaults()}
}

// Name returns the scanner name.
func (p *ICMPPinger) Name() string { return "icmp" }

// Scan pings every target in batch. It fails without touching any record
// when no ICMP socket is available for a family the batch asks for.
func (p *ICMPPinger) Scan(ctx context.Context, batch Batch) error {
	if err := p.ready(batch); err != nil {
		p.opts.Logger.ErrorBatch("ICMP scan unavailable", p.Name(), err)
		return err
	}
	return scanBatch(ctx, p.Name(), p.opts, batch, p.probe)
}

// Close releases nothing; the correlator belongs to the caller.
func (p *ICMPPinger) Close() error { return nil }

func (p *ICMPPinger) ready(batch Batch) error {
	c := p.opts.Correlator
	if c == nil {
		return errors.ErrSocketCreation("icmp echo", fmt.Errorf("no ICMP correlator attached"))
	}
	if !c.Available(correlator.FamilyV4) && !c.Available(correlator.FamilyV6) {
		return errors.ErrSocketCreation("icmp echo", fmt.Errorf("no ICMP socket open"))
	}
	for _, t := range batch {
		family, ok := familyOf(t.Protocol)
		if ok && !c.Available(family) {
			return errors.ErrSocketCreation("icmp echo",
				fmt.Errorf("no %s ICMP socket open", family))
		}
	}
	return nil
}

func familyOf(p Protocol) (correlator.Family, bool) {
	switch p {
	case ProtocolICMPv4:
		return correlator.FamilyV4, true
	case ProtocolICMPv6:
		return correlator.FamilyV6, true
	default:
		return 0, false
	}
}

func (p *ICMPPinger) probe(ctx context.Context, t *Target) (Reason, []byte) {
	network := "ip"
	if family, ok := familyOf(t.Protocol); ok {
		network = family.String()
	}

	addr, ok := lookup(ctx, p.opts, p.Name(), network, t)
	if !ok {
		return ReasonTimedOut, nil
	}

	c := p.opts.Correlator
	family := correlator.FamilyOf(addr)
	id, ok := c.EchoID(family)
	if !ok {
		p.opts.Logger.DebugProbe("No ICMP socket for address family", t.String(), "family", family.String())
		return ReasonTimedOut, nil
	}

	waiter, seq, err := p.register(addr, id)
	if err != nil {
		p.opts.Logger.DebugProbe("Echo registration failed", t.String(), "error", err)
		return ReasonTimedOut, nil
	}
	defer waiter.Cancel()

	msg, err := echoRequest(family, id, seq, time.Now())
	if err != nil {
		p.opts.Logger.DebugProbe("Echo marshal failed", t.String(), "error", err)
		return ReasonTimedOut, nil
	}

	sent := time.Now()
	if err := c.WriteTo(msg, addr); err != nil {
		reason := classifyDialError(err)
		if reason != ReasonIcmpUnreachable {
			reason = ReasonTimedOut
		}
		p.opts.Logger.DebugProbe("Echo send failed", t.String(), "error", err, "reason", reason.String())
		return reason, nil
	}

	timer := time.NewTimer(p.opts.ICMPTimeout)
	defer timer.Stop()

	select {
	case note := <-waiter.C():
		if note.Kind == correlator.KindEchoReply {
			p.opts.Logger.DebugProbe("Echo reply", t.String(), "rtt", time.Since(sent), "seq", seq)
			return ReasonReplyReceived, nil
		}
		p.opts.Logger.DebugProbe("Echo rejected", t.String(),
			"type", note.Type, "code", note.Code, "from", note.From)
		return ReasonIcmpUnreachable, nil
	case <-timer.C:
		return ReasonTimedOut, nil
	case <-ctx.Done():
		return ReasonUnknown, nil
	}
}

// register reserves an echo key, drawing a fresh sequence number if one is
// still held by an earlier probe after wrapping.
func (p *ICMPPinger) register(addr netip.Addr, id uint16) (*correlator.Waiter, uint16, error) {
	var lastErr error
	for range registerAttempts {
		seq := p.opts.Correlator.NextSeq()
		w, err := p.opts.Correlator.Register(correlator.EchoKey(addr, id, seq))
		if err == nil {
			return w, seq, nil
		}
		if !errors.IsCode(err, errors.CodeKeyInUse) {
			return nil, 0, err
		}
		lastErr = err
	}
	return nil, 0, lastErr
}

// echoRequest marshals an echo request carrying the send time.
func echoRequest(family correlator.Family, id, seq uint16, now time.Time) ([]byte, error) {
	var typ icmp.Type = ipv4.ICMPTypeEcho
	if family == correlator.FamilyV6 {
		typ = ipv6.ICMPTypeEchoRequest
	}

	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(now.UnixNano()))

	msg := icmp.Message{
		Type: typ,
		Body: &icmp.Echo{ID: int(id), Seq: int(seq), Data: data},
	}
	return msg.Marshal(nil)
}
