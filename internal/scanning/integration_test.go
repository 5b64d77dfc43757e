//go:build integration

package scanning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netprobe/internal/correlator"
)

// These tests probe public hosts. They need outbound TCP/25, IPv6
// connectivity and, for ICMP, root or a permitted ping group range.

const (
	mailHostV4 = "178.62.249.168"
	mailHostV6 = "2a03:b0c0:2:d0::19:6001"
)

func liveOptions() Options {
	opts := testOptions()
	opts.ConnectTimeout = 5 * time.Second
	opts.BannerTimeout = 2 * time.Second
	opts.ProbeTimeout = 3 * time.Second
	opts.ICMPTimeout = 3 * time.Second
	return opts
}

func assertNotAlive(t *testing.T, tg *Target) {
	t.Helper()
	assert.False(t, tg.Alive, tg.String())
	assert.Contains(t, []Reason{ReasonTimedOut, ReasonIcmpUnreachable}, tg.Reason, tg.String())
}

func TestLive_TCP(t *testing.T) {
	for _, host := range []string{mailHostV4, mailHostV6} {
		t.Run(host, func(t *testing.T) {
			batch := Batch{
				NewTarget(host, 20, ProtocolTCP),
				NewTarget(host, 25, ProtocolTCP),
			}
			require.NoError(t, NewTCPScanner(liveOptions()).Scan(context.Background(), batch))

			assertNotAlive(t, batch[0])
			assert.True(t, batch[1].Alive)
			assert.Equal(t, ReasonReplyReceived, batch[1].Reason)
			assert.NotEmpty(t, batch[1].Banner)
		})
	}
}

func TestLive_UDP(t *testing.T) {
	tests := []struct{ silent, resolver string }{
		{mailHostV4, "208.67.222.222"},
		{mailHostV6, "2620:0:ccc::2"},
	}
	for _, tt := range tests {
		t.Run(tt.resolver, func(t *testing.T) {
			batch := Batch{
				NewTarget(tt.silent, 53, ProtocolUDP),
				NewTarget(tt.resolver, 53, ProtocolUDP),
			}
			require.NoError(t, NewUDPScanner(liveOptions()).Scan(context.Background(), batch))

			assertNotAlive(t, batch[0])
			assert.True(t, batch[1].Alive)
			assert.NotEmpty(t, batch[1].Banner)
		})
	}
}

func TestLive_ICMP(t *testing.T) {
	corr := correlator.New(correlator.Options{Privileged: correlator.CanOpenRaw()})
	require.NoError(t, corr.Open())
	defer corr.Close()

	opts := liveOptions()
	opts.Correlator = corr

	batch := Batch{
		NewTarget(mailHostV4, 0, ProtocolICMPv4),
		NewTarget("0.0.1.0", 0, ProtocolICMPv4),
		NewTarget(mailHostV6, 0, ProtocolICMPv6),
		NewTarget("0100::", 0, ProtocolICMPv6),
	}
	require.NoError(t, NewICMPPinger(opts).Scan(context.Background(), batch))

	assert.True(t, batch[0].Alive)
	assertNotAlive(t, batch[1])
	assert.True(t, batch[2].Alive)
	assertNotAlive(t, batch[3])
}

func TestLive_Nmap(t *testing.T) {
	for _, host := range []string{mailHostV4, mailHostV6} {
		t.Run(host, func(t *testing.T) {
			batch := Batch{NewTarget(host, 25, ProtocolTCP)}
			err := NewNmapScanner(liveOptions(), nil).Scan(context.Background(), batch)
			if err != nil {
				t.Skipf("nmap unavailable: %v", err)
			}

			assert.True(t, batch[0].Alive)
			assert.NotEmpty(t, batch[0].Banner)
		})
	}
}
