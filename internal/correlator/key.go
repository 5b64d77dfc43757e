package correlator

import (
	"fmt"
	"net/netip"

	"golang.org/x/net/icmp"
)

// Proto identifies the transport of the probe a key belongs to.
type Proto uint8

const (
	ProtoICMP Proto = iota + 1
	ProtoTCP
	ProtoUDP
)

// IP protocol numbers as they appear in embedded headers.
const (
	ipProtoICMP   = 1
	ipProtoTCP    = 6
	ipProtoUDP    = 17
	ipProtoICMPv6 = 58
)

func (p Proto) String() string {
	switch p {
	case ProtoICMP:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// Family is an IP address family.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

func (f Family) String() string {
	if f == FamilyV6 {
		return "ip6"
	}
	return "ip4"
}

// keyAddr drops the IPv4-mapped prefix and the zone. Inbound sources and
// quoted headers never carry the zone of the literal a probe was sent to.
func keyAddr(addr netip.Addr) netip.Addr {
	return addr.Unmap().WithZone("")
}

// FamilyOf returns the family of addr.
func FamilyOf(addr netip.Addr) Family {
	if addr.Unmap().Is4() {
		return FamilyV4
	}
	return FamilyV6
}

// Key identifies one outstanding probe.
//
// Transport probes use (Proto, Remote, RemotePort, LocalPort); echo probes
// use (Remote, ID, Seq). A transport key with LocalPort zero matches any
// local port and is consulted only after the exact key misses.
type Key struct {
	Proto      Proto
	Remote     netip.Addr
	RemotePort uint16
	LocalPort  uint16
	ID         uint16
	Seq        uint16
}

// TransportKey builds the key of a TCP or UDP probe.
func TransportKey(proto Proto, remote netip.Addr, remotePort, localPort uint16) Key {
	return Key{
		Proto:      proto,
		Remote:     keyAddr(remote),
		RemotePort: remotePort,
		LocalPort:  localPort,
	}
}

// EchoKey builds the key of an echo request.
func EchoKey(remote netip.Addr, id, seq uint16) Key {
	return Key{
		Proto:  ProtoICMP,
		Remote: keyAddr(remote),
		ID:     id,
		Seq:    seq,
	}
}

func (k Key) wildcard() (Key, bool) {
	if k.Proto == ProtoICMP || k.LocalPort == 0 {
		return k, false
	}
	k.LocalPort = 0
	return k, true
}

func (k Key) String() string {
	if k.Proto == ProtoICMP {
		return fmt.Sprintf("icmp %s id=%d seq=%d", k.Remote, k.ID, k.Seq)
	}
	return fmt.Sprintf("%s %s:%d <- :%d", k.Proto, k.Remote, k.RemotePort, k.LocalPort)
}

// Kind classifies a routed message.
type Kind int

const (
	// KindEchoReply is an echo reply to one of our requests.
	KindEchoReply Kind = iota + 1
	// KindUnreachable covers destination unreachable and time exceeded
	// notices quoting one of our packets.
	KindUnreachable
	// KindPacketTooBig is an ICMPv6 packet too big notice quoting one of
	// our packets.
	KindPacketTooBig
)

func (k Kind) String() string {
	switch k {
	case KindEchoReply:
		return "echo-reply"
	case KindUnreachable:
		return "unreachable"
	case KindPacketTooBig:
		return "packet-too-big"
	default:
		return "unknown"
	}
}

// Notification is delivered to the waiter whose key matched.
type Notification struct {
	Kind Kind
	Type icmp.Type
	Code int
	From netip.Addr
	// MTU is set for KindPacketTooBig.
	MTU int
}
