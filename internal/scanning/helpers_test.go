package scanning

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anstrom/netprobe/internal/correlator"
	"github.com/anstrom/netprobe/internal/correlator/correlatortest"
	"github.com/anstrom/netprobe/internal/logging"
	"github.com/anstrom/netprobe/internal/metrics"
)

// testOptions returns options with timeouts short enough for unit tests.
func testOptions() Options {
	return Options{
		Workers:        8,
		ConnectTimeout: 300 * time.Millisecond,
		BannerTimeout:  100 * time.Millisecond,
		BannerSize:     512,
		ProbeTimeout:   300 * time.Millisecond,
		ICMPTimeout:    200 * time.Millisecond,
		Metrics:        metrics.NopRecorder{},
		Logger:         logging.NewWithWriter(logging.Config{Level: logging.LevelDebug}, io.Discard),
	}
}

// openCorrelator opens a correlator over in-memory ICMP sockets.
func openCorrelator(t *testing.T, privileged bool, l *correlatortest.Listener) *correlator.Correlator {
	t.Helper()
	if l == nil {
		l = correlatortest.NewListener()
	}
	c := correlator.New(correlator.Options{
		Privileged: privileged,
		Listen:     l.Listen,
		Metrics:    metrics.NopRecorder{},
		Logger:     logging.NewWithWriter(logging.Config{}, io.Discard),
	})
	require.NoError(t, c.Open())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// requireIPv6 skips the test on hosts without an IPv6 loopback.
func requireIPv6(t *testing.T) {
	t.Helper()
	ln, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		t.Skipf("no IPv6 loopback: %v", err)
	}
	_ = ln.Close()
}

// bannerServer accepts TCP connections on loopback and greets each with banner.
func bannerServer(t *testing.T, banner string) *net.TCPAddr {
	t.Helper()
	return bannerServerOn(t, "127.0.0.1", banner)
}

func bannerServerOn(t *testing.T, host, banner string) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				if banner != "" {
					_, _ = c.Write([]byte(banner))
				}
				_, _ = io.Copy(io.Discard, c)
			}(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr)
}

// closedTCPPort returns a loopback port with nothing listening.
func closedTCPPort(t *testing.T) uint16 {
	t.Helper()
	return closedTCPPortOn(t, "127.0.0.1")
}

func closedTCPPortOn(t *testing.T, host string) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return uint16(port)
}

// closedUDPPort returns a loopback port with no socket bound.
func closedUDPPort(t *testing.T) uint16 {
	t.Helper()
	return closedUDPPortOn(t, "127.0.0.1")
}

func closedUDPPortOn(t *testing.T, host string) uint16 {
	t.Helper()
	pc, err := net.ListenPacket("udp", net.JoinHostPort(host, "0"))
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, pc.Close())
	return uint16(port)
}

// dialFunc adapts a function to Dialer.
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}
