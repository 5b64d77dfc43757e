package correlator_test

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/netprobe/internal/correlator"
	"github.com/anstrom/netprobe/internal/correlator/correlatortest"
	perrors "github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/metrics"
	"github.com/anstrom/netprobe/internal/metrics/mocks"
)

const waitFor = time.Second

func openCorrelator(t *testing.T, privileged bool) (*correlator.Correlator, *correlatortest.Listener) {
	t.Helper()
	l := correlatortest.NewListener()
	c := correlator.New(correlator.Options{
		Privileged: privileged,
		Listen:     l.Listen,
		Metrics:    metrics.NopRecorder{},
	})
	require.NoError(t, c.Open())
	t.Cleanup(func() { _ = c.Close() })
	return c, l
}

func receive(t *testing.T, w *correlator.Waiter) correlator.Notification {
	t.Helper()
	select {
	case n := <-w.C():
		return n
	case <-time.After(waitFor):
		t.Fatalf("no notification for %s", w.Key())
		return correlator.Notification{}
	}
}

func assertSilent(t *testing.T, w *correlator.Waiter) {
	t.Helper()
	select {
	case n := <-w.C():
		t.Fatalf("unexpected notification %+v for %s", n, w.Key())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOpen(t *testing.T) {
	t.Run("privileged uses raw sockets", func(t *testing.T) {
		c, _ := openCorrelator(t, true)
		assert.True(t, c.Available(correlator.FamilyV4))
		assert.True(t, c.Available(correlator.FamilyV6))
		assert.True(t, c.Privileged())
	})

	t.Run("unprivileged echo id is the socket port", func(t *testing.T) {
		c, _ := openCorrelator(t, false)
		id, ok := c.EchoID(correlator.FamilyV4)
		require.True(t, ok)
		assert.Equal(t, uint16(40001), id)
		id, ok = c.EchoID(correlator.FamilyV6)
		require.True(t, ok)
		assert.Equal(t, uint16(40002), id)
	})

	t.Run("one family missing is tolerated", func(t *testing.T) {
		l := correlatortest.NewListener()
		l.Fail["ip6:ipv6-icmp"] = errors.New("address family not supported")
		c := correlator.New(correlator.Options{Privileged: true, Listen: l.Listen})
		require.NoError(t, c.Open())
		defer c.Close()

		assert.True(t, c.Available(correlator.FamilyV4))
		assert.False(t, c.Available(correlator.FamilyV6))
		_, ok := c.EchoID(correlator.FamilyV6)
		assert.False(t, ok)
		err := c.WriteTo([]byte{0}, netip.MustParseAddr("2001:db8::1"))
		assert.True(t, perrors.IsCode(err, perrors.CodeSocketCreation))
	})

	t.Run("no family is a socket creation failure", func(t *testing.T) {
		l := correlatortest.NewListener()
		l.Fail["ip4:icmp"] = errors.New("operation not permitted")
		l.Fail["ip6:ipv6-icmp"] = errors.New("operation not permitted")
		c := correlator.New(correlator.Options{Privileged: true, Listen: l.Listen})

		err := c.Open()
		require.Error(t, err)
		assert.True(t, perrors.IsCode(err, perrors.CodeSocketCreation))
		assert.Contains(t, err.Error(), "operation not permitted")
	})

	t.Run("second open fails", func(t *testing.T) {
		c, _ := openCorrelator(t, true)
		assert.Error(t, c.Open())
	})
}

func TestEchoReplyRouting(t *testing.T) {
	c, l := openCorrelator(t, true)
	conn := l.Conn("ip4:icmp")
	target := netip.MustParseAddr("192.0.2.1")

	w1, err := c.Register(correlator.EchoKey(target, 100, 1))
	require.NoError(t, err)
	defer w1.Cancel()
	w2, err := c.Register(correlator.EchoKey(target, 100, 2))
	require.NoError(t, err)
	defer w2.Cancel()

	conn.Inject(correlatortest.EchoReply(correlator.FamilyV4, 100, 2, nil), correlatortest.IPAddr(target))

	n := receive(t, w2)
	assert.Equal(t, correlator.KindEchoReply, n.Kind)
	assert.Equal(t, target, n.From)
	assertSilent(t, w1)
}

func TestZonedLinkLocalRouting(t *testing.T) {
	c, l := openCorrelator(t, true)
	conn := l.Conn("ip6:ipv6-icmp")
	target := netip.MustParseAddr("fe80::1%eth0")
	local := netip.MustParseAddr("fe80::2")

	echo, err := c.Register(correlator.EchoKey(target, 7, 1))
	require.NoError(t, err)
	defer echo.Cancel()
	udp, err := c.Register(correlator.TransportKey(correlator.ProtoUDP, target, 53, 40000))
	require.NoError(t, err)
	defer udp.Cancel()

	conn.Inject(correlatortest.EchoReply(correlator.FamilyV6, 7, 1, nil), correlatortest.IPAddr(target))
	n := receive(t, echo)
	assert.Equal(t, correlator.KindEchoReply, n.Kind)
	assert.Equal(t, target, n.From, "the reported source keeps its zone")

	// Quoted headers carry no zone at all.
	conn.Inject(correlatortest.PortUnreachable(correlator.ProtoUDP, local, target.WithZone(""), 40000, 53),
		correlatortest.IPAddr(target))
	assert.Equal(t, correlator.KindUnreachable, receive(t, udp).Kind)
}

func TestUnreachableRouting(t *testing.T) {
	c, l := openCorrelator(t, true)
	local := netip.MustParseAddr("192.0.2.100")
	target := netip.MustParseAddr("192.0.2.1")
	router := netip.MustParseAddr("192.0.2.254")

	t.Run("exact udp key", func(t *testing.T) {
		w, err := c.Register(correlator.TransportKey(correlator.ProtoUDP, target, 161, 50123))
		require.NoError(t, err)
		defer w.Cancel()

		l.Conn("ip4:icmp").Inject(
			correlatortest.PortUnreachable(correlator.ProtoUDP, local, target, 50123, 161),
			correlatortest.IPAddr(router))

		n := receive(t, w)
		assert.Equal(t, correlator.KindUnreachable, n.Kind)
		assert.Equal(t, router, n.From)
	})

	t.Run("tcp wildcard local port", func(t *testing.T) {
		w, err := c.Register(correlator.TransportKey(correlator.ProtoTCP, target, 22, 0))
		require.NoError(t, err)
		defer w.Cancel()

		l.Conn("ip4:icmp").Inject(
			correlatortest.PortUnreachable(correlator.ProtoTCP, local, target, 48000, 22),
			correlatortest.IPAddr(router))

		assert.Equal(t, correlator.KindUnreachable, receive(t, w).Kind)
	})

	t.Run("ipv6 echo quoted", func(t *testing.T) {
		v6 := netip.MustParseAddr("2001:db8::1")
		w, err := c.Register(correlator.EchoKey(v6, 9, 9))
		require.NoError(t, err)
		defer w.Cancel()

		l.Conn("ip6:ipv6-icmp").Inject(
			correlatortest.EchoRequestQuoted(netip.MustParseAddr("2001:db8::100"), v6, 9, 9),
			correlatortest.IPAddr(netip.MustParseAddr("2001:db8::fe")))

		assert.Equal(t, correlator.KindUnreachable, receive(t, w).Kind)
	})

	t.Run("mismatched port is discarded", func(t *testing.T) {
		w, err := c.Register(correlator.TransportKey(correlator.ProtoUDP, target, 53, 50000))
		require.NoError(t, err)
		defer w.Cancel()

		l.Conn("ip4:icmp").Inject(
			correlatortest.PortUnreachable(correlator.ProtoUDP, local, target, 50000, 54),
			correlatortest.IPAddr(router))

		assertSilent(t, w)
	})
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	c, _ := openCorrelator(t, true)
	key := correlator.EchoKey(netip.MustParseAddr("10.1.1.1"), 1, 1)

	w, err := c.Register(key)
	require.NoError(t, err)

	_, err = c.Register(key)
	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.CodeKeyInUse))

	w.Cancel()
	w.Cancel()
	assert.Equal(t, 0, c.Pending())

	w2, err := c.Register(key)
	require.NoError(t, err)
	w2.Cancel()
}

func TestLateMessageAfterCancelIsDropped(t *testing.T) {
	c, l := openCorrelator(t, true)
	target := netip.MustParseAddr("192.0.2.77")
	key := correlator.EchoKey(target, 5, 5)

	stale, err := c.Register(key)
	require.NoError(t, err)
	stale.Cancel()

	fresh, err := c.Register(correlator.EchoKey(target, 5, 6))
	require.NoError(t, err)
	defer fresh.Cancel()

	l.Conn("ip4:icmp").Inject(correlatortest.EchoReply(correlator.FamilyV4, 5, 5, nil), correlatortest.IPAddr(target))

	assertSilent(t, stale)
	assertSilent(t, fresh)
}

func TestDeliveryIsExactlyOnce(t *testing.T) {
	c, l := openCorrelator(t, true)
	target := netip.MustParseAddr("192.0.2.9")

	w, err := c.Register(correlator.EchoKey(target, 3, 3))
	require.NoError(t, err)
	defer w.Cancel()

	reply := correlatortest.EchoReply(correlator.FamilyV4, 3, 3, nil)
	l.Conn("ip4:icmp").Inject(reply, correlatortest.IPAddr(target))
	l.Conn("ip4:icmp").Inject(reply, correlatortest.IPAddr(target))

	receive(t, w)
	assertSilent(t, w)
	assert.Equal(t, 0, c.Pending())
}

func TestConcurrentRegistration(t *testing.T) {
	c, l := openCorrelator(t, true)
	target := netip.MustParseAddr("192.0.2.50")
	conn := l.Conn("ip4:icmp")

	const probes = 200
	var wg sync.WaitGroup
	results := make([]bool, probes)

	for i := 0; i < probes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq := uint16(i)
			w, err := c.Register(correlator.EchoKey(target, 77, seq))
			if err != nil {
				return
			}
			defer w.Cancel()

			// Only even probes get a reply.
			if i%2 == 0 {
				conn.Inject(correlatortest.EchoReply(correlator.FamilyV4, 77, seq, nil), correlatortest.IPAddr(target))
			}
			select {
			case <-w.C():
				results[i] = true
			case <-time.After(200 * time.Millisecond):
			}
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, i%2 == 0, got, "probe %d", i)
	}
	assert.Equal(t, 0, c.Pending())
}

func TestMetricsOutcomes(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().SetCorrelatorPending(gomock.Any()).AnyTimes()

	matched := make(chan struct{})
	discarded := make(chan struct{})
	rec.EXPECT().RecordICMPMessage("ip4", metrics.OutcomeMatched).Do(func(string, string) { close(matched) })
	rec.EXPECT().RecordICMPMessage("ip4", metrics.OutcomeDiscarded).Do(func(string, string) { close(discarded) })

	l := correlatortest.NewListener()
	c := correlator.New(correlator.Options{Privileged: true, Listen: l.Listen, Metrics: rec})
	require.NoError(t, c.Open())
	defer c.Close()

	target := netip.MustParseAddr("192.0.2.2")
	w, err := c.Register(correlator.EchoKey(target, 1, 1))
	require.NoError(t, err)
	defer w.Cancel()

	conn := l.Conn("ip4:icmp")
	conn.Inject(correlatortest.EchoReply(correlator.FamilyV4, 1, 1, nil), correlatortest.IPAddr(target))
	receive(t, w)
	<-matched

	conn.Inject(correlatortest.EchoReply(correlator.FamilyV4, 1, 99, nil), correlatortest.IPAddr(target))
	select {
	case <-discarded:
	case <-time.After(waitFor):
		t.Fatal("unmatched reply was not counted")
	}
}

func TestWriteToUsesModeAddress(t *testing.T) {
	for _, privileged := range []bool{true, false} {
		c, l := openCorrelator(t, privileged)
		network := "udp4"
		if privileged {
			network = "ip4:icmp"
		}

		dst := netip.MustParseAddr("192.0.2.3")
		require.NoError(t, c.WriteTo([]byte{8, 0, 0, 0, 0, 1, 0, 1}, dst))

		p := <-l.Conn(network).Sent()
		switch p.Addr.(type) {
		case *net.IPAddr:
			assert.True(t, privileged)
		case *net.UDPAddr:
			assert.False(t, privileged)
		default:
			t.Fatalf("unexpected address type %T", p.Addr)
		}
	}
}

func TestCloseRejectsRegistration(t *testing.T) {
	l := correlatortest.NewListener()
	c := correlator.New(correlator.Options{Privileged: true, Listen: l.Listen})
	require.NoError(t, c.Open())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Register(correlator.EchoKey(netip.MustParseAddr("192.0.2.1"), 1, 1))
	assert.Error(t, err)
}
