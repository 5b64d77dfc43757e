package scanning

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netprobe/internal/correlator"
	"github.com/anstrom/netprobe/internal/correlator/correlatortest"
	"github.com/anstrom/netprobe/internal/payloads"
)

// dnsServer runs an authoritative test server answering every A query.
func dnsServer(t *testing.T) uint16 {
	t.Helper()
	return dnsServerOn(t, "127.0.0.1")
}

func dnsServerOn(t *testing.T, host string) uint16 {
	t.Helper()
	pc, err := net.ListenPacket("udp", net.JoinHostPort(host, "0"))
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		rr, err := dns.NewRR(r.Question[0].Name + " 60 IN A 192.0.2.53")
		if err == nil {
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	<-started

	return uint16(pc.LocalAddr().(*net.UDPAddr).Port)
}

// libraryFor maps the DNS probe onto an arbitrary port.
func libraryFor(t *testing.T, port uint16) *payloads.Library {
	t.Helper()
	lib, err := payloads.New(map[uint16][]byte{
		payloads.Generic: payloads.Default().Lookup(payloads.Generic),
		port:             payloads.Default().Lookup(payloads.PortDNS),
	})
	require.NoError(t, err)
	return lib
}

func TestUDPScanner_DNSReply(t *testing.T) {
	port := dnsServer(t)

	opts := testOptions()
	opts.Payloads = libraryFor(t, port)

	batch := Batch{NewTarget("127.0.0.1", port, ProtocolUDP)}
	require.NoError(t, NewUDPScanner(opts).Scan(context.Background(), batch))

	require.True(t, batch[0].Alive)
	assert.Equal(t, ReasonReplyReceived, batch[0].Reason)

	var reply dns.Msg
	require.NoError(t, reply.Unpack(batch[0].Banner), "banner holds the raw reply")
	assert.True(t, reply.Response)
	assert.Len(t, reply.Answer, 1)
}

func TestUDPScanner_IPv6(t *testing.T) {
	requireIPv6(t)
	port := dnsServerOn(t, "::1")

	opts := testOptions()
	opts.Payloads = libraryFor(t, port)

	batch := Batch{NewTarget("::1", port, ProtocolUDP)}
	require.NoError(t, NewUDPScanner(opts).Scan(context.Background(), batch))

	require.True(t, batch[0].Alive)
	assert.Equal(t, ReasonReplyReceived, batch[0].Reason)

	var reply dns.Msg
	require.NoError(t, reply.Unpack(batch[0].Banner))
	assert.True(t, reply.Response)

	if testing.Short() {
		return
	}
	closed := Batch{NewTarget("::1", closedUDPPortOn(t, "::1"), ProtocolUDP)}
	require.NoError(t, NewUDPScanner(testOptions()).Scan(context.Background(), closed))
	assert.False(t, closed[0].Alive)
	assert.Equal(t, ReasonIcmpUnreachable, closed[0].Reason)
}

func TestUDPScanner_SilentPortTimesOut(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	opts := testOptions()
	opts.ProbeTimeout = 100 * time.Millisecond

	batch := Batch{NewTarget("127.0.0.1", uint16(pc.LocalAddr().(*net.UDPAddr).Port), ProtocolUDP)}

	start := time.Now()
	require.NoError(t, NewUDPScanner(opts).Scan(context.Background(), batch))

	assert.False(t, batch[0].Alive)
	assert.Equal(t, ReasonTimedOut, batch[0].Reason)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestUDPScanner_ClosedPort(t *testing.T) {
	if testing.Short() {
		t.Skip("relies on the kernel reporting loopback port unreachable")
	}

	batch := Batch{NewTarget("127.0.0.1", closedUDPPort(t), ProtocolUDP)}
	require.NoError(t, NewUDPScanner(testOptions()).Scan(context.Background(), batch))

	assert.False(t, batch[0].Alive)
	assert.Equal(t, ReasonIcmpUnreachable, batch[0].Reason)
}

func TestUDPScanner_CorrelatedUnreachable(t *testing.T) {
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	l := correlatortest.NewListener()
	raw := l.Conn("ip4:icmp")
	loopback := netip.MustParseAddr("127.0.0.1")

	opts := testOptions()
	opts.ProbeTimeout = 2 * time.Second
	opts.Correlator = openCorrelator(t, true, l)
	opts.Dialer = dialFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		conn, err := (&net.Dialer{}).DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		local := conn.LocalAddr().(*net.UDPAddr)
		remote := conn.RemoteAddr().(*net.UDPAddr)
		go func() {
			time.Sleep(20 * time.Millisecond)
			raw.Inject(correlatortest.PortUnreachable(correlator.ProtoUDP, loopback, loopback,
				uint16(local.Port), uint16(remote.Port)), correlatortest.IPAddr(loopback))
		}()
		return conn, nil
	})

	batch := Batch{NewTarget("127.0.0.1", uint16(silent.LocalAddr().(*net.UDPAddr).Port), ProtocolUDP)}

	start := time.Now()
	require.NoError(t, NewUDPScanner(opts).Scan(context.Background(), batch))

	assert.Equal(t, ReasonIcmpUnreachable, batch[0].Reason)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, opts.Correlator.Pending())
}

func TestUDPScanner_SendsPortPayload(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	port := uint16(pc.LocalAddr().(*net.UDPAddr).Port)

	lib, err := payloads.New(map[uint16][]byte{
		payloads.Generic: []byte("generic"),
		port:             []byte("ping"),
	})
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		got <- string(buf[:n])
		_, _ = pc.WriteTo([]byte("pong"), from)
	}()

	opts := testOptions()
	opts.Payloads = lib
	s := NewUDPScanner(opts)
	assert.Same(t, lib, s.Payloads())

	batch := Batch{NewTarget("127.0.0.1", port, ProtocolUDP)}
	require.NoError(t, s.Scan(context.Background(), batch))

	assert.Equal(t, "ping", <-got)
	assert.Equal(t, "pong", string(batch[0].Banner))
}

func TestUDPScanner_DefaultPayloads(t *testing.T) {
	lib := NewUDPScanner(Options{}).Payloads()

	assert.GreaterOrEqual(t, lib.Len(), 2)
	assert.True(t, lib.Has(payloads.Generic))
	assert.True(t, lib.Has(payloads.PortDNS))
}
