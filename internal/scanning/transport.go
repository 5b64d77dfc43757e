package scanning

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/anstrom/netprobe/internal/scanning Dialer,Resolver

import (
	"context"
	"net"
	"net/netip"
)

// Dialer opens per-probe connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver maps host names to addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// resolve returns the first address of host in the requested network
// ("ip", "ip4" or "ip6"). Literals are accepted without a lookup.
func resolve(ctx context.Context, r Resolver, network, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if !familyMatches(network, addr) {
			return netip.Addr{}, &net.AddrError{Err: "address family mismatch", Addr: host}
		}
		return addr, nil
	}

	addrs, err := r.LookupNetIP(ctx, network, host)
	if err != nil {
		return netip.Addr{}, err
	}
	for _, addr := range addrs {
		addr = addr.Unmap()
		if familyMatches(network, addr) {
			return addr, nil
		}
	}
	return netip.Addr{}, &net.DNSError{Err: "no suitable address", Name: host, IsNotFound: true}
}

func familyMatches(network string, addr netip.Addr) bool {
	switch network {
	case "ip4":
		return addr.Is4()
	case "ip6":
		return addr.Is6()
	default:
		return true
	}
}
