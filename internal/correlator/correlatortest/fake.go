// Package correlatortest provides an in-memory ICMP socket and message
// builders for exercising the correlator and the strategies built on it
// without raw network access.
package correlatortest

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/anstrom/netprobe/internal/correlator"
)

// Packet is one datagram read or written through a Conn.
type Packet struct {
	B    []byte
	Addr net.Addr
}

// Conn is an in-memory correlator.PacketConn.
type Conn struct {
	local   net.Addr
	inbound chan Packet
	sent    chan Packet

	mu      sync.Mutex
	onWrite func(c *Conn, b []byte, dst net.Addr)

	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn returns a Conn reporting local as its address.
func NewConn(local net.Addr) *Conn {
	return &Conn{
		local:   local,
		inbound: make(chan Packet, 64),
		sent:    make(chan Packet, 64),
		closed:  make(chan struct{}),
	}
}

// OnWrite installs a hook run synchronously for every written datagram.
func (c *Conn) OnWrite(fn func(c *Conn, b []byte, dst net.Addr)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

// Inject queues b as if received from from.
func (c *Conn) Inject(b []byte, from net.Addr) {
	select {
	case c.inbound <- Packet{B: append([]byte(nil), b...), Addr: from}:
	case <-c.closed:
	}
}

// Sent exposes written datagrams.
func (c *Conn) Sent() <-chan Packet {
	return c.sent
}

func (c *Conn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case p := <-c.inbound:
		return copy(b, p.B), p.Addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *Conn) WriteTo(b []byte, dst net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	c.mu.Lock()
	hook := c.onWrite
	c.mu.Unlock()

	select {
	case c.sent <- Packet{B: append([]byte(nil), b...), Addr: dst}:
	default:
	}
	if hook != nil {
		hook(c, b, dst)
	}
	return len(b), nil
}

func (c *Conn) LocalAddr() net.Addr { return c.local }

func (c *Conn) SetReadDeadline(time.Time) error { return nil }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Listener hands out Conns by network name.
type Listener struct {
	mu    sync.Mutex
	Conns map[string]*Conn
	Fail  map[string]error
}

// NewListener returns a Listener with a Conn for every ICMP network.
func NewListener() *Listener {
	return &Listener{
		Conns: map[string]*Conn{
			"ip4:icmp":      NewConn(&net.IPAddr{IP: net.IPv4zero}),
			"ip6:ipv6-icmp": NewConn(&net.IPAddr{IP: net.IPv6unspecified}),
			"udp4":          NewConn(&net.UDPAddr{IP: net.IPv4zero, Port: 40001}),
			"udp6":          NewConn(&net.UDPAddr{IP: net.IPv6unspecified, Port: 40002}),
		},
		Fail: map[string]error{},
	}
}

// Listen implements correlator.ListenFunc.
func (l *Listener) Listen(network, _ string) (correlator.PacketConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Fail[network]; err != nil {
		return nil, err
	}
	c, ok := l.Conns[network]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	return c, nil
}

// Conn returns the Conn for network.
func (l *Listener) Conn(network string) *Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Conns[network]
}

// EchoReply marshals an echo reply.
func EchoReply(family correlator.Family, id, seq uint16, data []byte) []byte {
	var typ icmp.Type = ipv4.ICMPTypeEchoReply
	if family == correlator.FamilyV6 {
		typ = ipv6.ICMPTypeEchoReply
	}
	return marshal(&icmp.Message{
		Type: typ,
		Body: &icmp.Echo{ID: int(id), Seq: int(seq), Data: data},
	})
}

// EchoRequestQuoted marshals a destination unreachable notice quoting an
// echo request sent from src to dst.
func EchoRequestQuoted(src, dst netip.Addr, id, seq uint16) []byte {
	inner := make([]byte, 8)
	if dst.Is4() {
		inner[0] = byte(ipv4.ICMPTypeEcho)
	} else {
		inner[0] = byte(ipv6.ICMPTypeEchoRequest)
	}
	binary.BigEndian.PutUint16(inner[4:6], id)
	binary.BigEndian.PutUint16(inner[6:8], seq)
	return unreachable(src, dst, icmpProtoFor(dst), inner)
}

// PortUnreachable marshals a port unreachable notice quoting a TCP or UDP
// packet sent from src:srcPort to dst:dstPort.
func PortUnreachable(proto correlator.Proto, src, dst netip.Addr, srcPort, dstPort uint16) []byte {
	inner := make([]byte, 8)
	binary.BigEndian.PutUint16(inner[0:2], srcPort)
	binary.BigEndian.PutUint16(inner[2:4], dstPort)

	next := byte(17)
	if proto == correlator.ProtoTCP {
		next = 6
	}
	return unreachable(src, dst, next, inner)
}

// IPAddr converts addr to the *net.IPAddr a raw socket reports.
func IPAddr(addr netip.Addr) net.Addr {
	return &net.IPAddr{IP: net.IP(addr.AsSlice()), Zone: addr.Zone()}
}

// DestinationOf extracts the address a Conn wrote to.
func DestinationOf(a net.Addr) netip.Addr {
	var (
		ip   net.IP
		zone string
	)
	switch v := a.(type) {
	case *net.IPAddr:
		ip, zone = v.IP, v.Zone
	case *net.UDPAddr:
		ip, zone = v.IP, v.Zone
	}
	addr, _ := netip.AddrFromSlice(ip)
	return addr.Unmap().WithZone(zone)
}

// AutoEcho answers every echo request written to c with a matching reply
// from its destination.
func AutoEcho(family correlator.Family) func(c *Conn, b []byte, dst net.Addr) {
	return func(c *Conn, b []byte, dst net.Addr) {
		proto := 1
		if family == correlator.FamilyV6 {
			proto = 58
		}
		msg, err := icmp.ParseMessage(proto, b)
		if err != nil {
			return
		}
		echo, ok := msg.Body.(*icmp.Echo)
		if !ok {
			return
		}
		c.Inject(EchoReply(family, uint16(echo.ID), uint16(echo.Seq), echo.Data), IPAddr(DestinationOf(dst)))
	}
}

// AutoUnreachable answers every echo request written to c with a host
// unreachable notice sent by router.
func AutoUnreachable(family correlator.Family, local, router netip.Addr) func(c *Conn, b []byte, dst net.Addr) {
	return func(c *Conn, b []byte, dst net.Addr) {
		proto := 1
		if family == correlator.FamilyV6 {
			proto = 58
		}
		msg, err := icmp.ParseMessage(proto, b)
		if err != nil {
			return
		}
		echo, ok := msg.Body.(*icmp.Echo)
		if !ok {
			return
		}
		c.Inject(EchoRequestQuoted(local, DestinationOf(dst), uint16(echo.ID), uint16(echo.Seq)), IPAddr(router))
	}
}

func icmpProtoFor(addr netip.Addr) byte {
	if addr.Is4() {
		return 1
	}
	return 58
}

func unreachable(src, dst netip.Addr, next byte, inner []byte) []byte {
	var (
		header []byte
		typ    icmp.Type
		code   int
	)
	if dst.Is4() {
		header = make([]byte, 20)
		header[0] = 0x45
		binary.BigEndian.PutUint16(header[2:4], uint16(20+len(inner)))
		header[8] = 64
		header[9] = next
		s, d := src.As4(), dst.As4()
		copy(header[12:16], s[:])
		copy(header[16:20], d[:])
		typ, code = ipv4.ICMPTypeDestinationUnreachable, 3
	} else {
		header = make([]byte, 40)
		header[0] = 0x60
		binary.BigEndian.PutUint16(header[4:6], uint16(len(inner)))
		header[6] = next
		header[7] = 64
		s, d := src.As16(), dst.As16()
		copy(header[8:24], s[:])
		copy(header[24:40], d[:])
		typ, code = ipv6.ICMPTypeDestinationUnreachable, 4
	}

	return marshal(&icmp.Message{
		Type: typ,
		Code: code,
		Body: &icmp.DstUnreach{Data: append(header, inner...)},
	})
}

func marshal(m *icmp.Message) []byte {
	b, err := m.Marshal(nil)
	if err != nil {
		panic(err)
	}
	return b
}
