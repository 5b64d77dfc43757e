package correlator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	ipv4MinHeaderLen = 20
	ipv6HeaderLen    = 40
	portsLen         = 4
	echoHeaderLen    = 8
)

var (
	errIgnored   = errors.New("message type not routed")
	errTruncated = errors.New("embedded packet truncated")
)

// parseMessage decodes one inbound ICMP message and derives the key of the
// probe it refers to.
func parseMessage(family Family, b []byte, peer net.Addr) (Key, Notification, error) {
	proto := ipProtoICMP
	if family == FamilyV6 {
		proto = ipProtoICMPv6
	}

	msg, err := icmp.ParseMessage(proto, b)
	if err != nil {
		return Key{}, Notification{}, err
	}

	from := addrFromNet(peer)
	note := Notification{Type: msg.Type, Code: msg.Code, From: from}

	var quoted []byte
	kind := KindUnreachable
	switch msg.Type {
	case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
		echo, ok := msg.Body.(*icmp.Echo)
		if !ok {
			return Key{}, Notification{}, fmt.Errorf("echo reply with %T body", msg.Body)
		}
		note.Kind = KindEchoReply
		return EchoKey(from, uint16(echo.ID), uint16(echo.Seq)), note, nil

	case ipv4.ICMPTypeDestinationUnreachable, ipv6.ICMPTypeDestinationUnreachable:
		body, ok := msg.Body.(*icmp.DstUnreach)
		if !ok {
			return Key{}, Notification{}, fmt.Errorf("unreachable with %T body", msg.Body)
		}
		quoted = body.Data

	case ipv4.ICMPTypeTimeExceeded, ipv6.ICMPTypeTimeExceeded:
		body, ok := msg.Body.(*icmp.TimeExceeded)
		if !ok {
			return Key{}, Notification{}, fmt.Errorf("time exceeded with %T body", msg.Body)
		}
		quoted = body.Data

	case ipv6.ICMPTypePacketTooBig:
		body, ok := msg.Body.(*icmp.PacketTooBig)
		if !ok {
			return Key{}, Notification{}, fmt.Errorf("packet too big with %T body", msg.Body)
		}
		quoted = body.Data
		kind = KindPacketTooBig
		note.MTU = body.MTU

	default:
		return Key{}, Notification{}, errIgnored
	}

	key, err := parseQuoted(quoted)
	if err != nil {
		return Key{}, Notification{}, err
	}
	note.Kind = kind
	return key, note, nil
}

// parseQuoted extracts the key of the original packet quoted in an error
// message: its IP header followed by at least the first eight bytes of
// its payload.
func parseQuoted(data []byte) (Key, error) {
	if len(data) == 0 {
		return Key{}, errTruncated
	}

	var (
		dst     netip.Addr
		next    byte
		payload []byte
	)

	switch data[0] >> 4 {
	case 4:
		if len(data) < ipv4MinHeaderLen {
			return Key{}, errTruncated
		}
		ihl := int(data[0]&0x0f) * 4
		if ihl < ipv4MinHeaderLen || len(data) < ihl {
			return Key{}, errTruncated
		}
		next = data[9]
		dst = netip.AddrFrom4([4]byte(data[16:20]))
		payload = data[ihl:]
	case 6:
		if len(data) < ipv6HeaderLen {
			return Key{}, errTruncated
		}
		next = data[6]
		dst = netip.AddrFrom16([16]byte(data[24:40]))
		payload = data[ipv6HeaderLen:]
	default:
		return Key{}, fmt.Errorf("quoted packet has IP version %d", data[0]>>4)
	}

	switch next {
	case ipProtoTCP, ipProtoUDP:
		if len(payload) < portsLen {
			return Key{}, errTruncated
		}
		proto := ProtoUDP
		if next == ipProtoTCP {
			proto = ProtoTCP
		}
		src := binary.BigEndian.Uint16(payload[0:2])
		dstPort := binary.BigEndian.Uint16(payload[2:4])
		return TransportKey(proto, dst, dstPort, src), nil

	case ipProtoICMP, ipProtoICMPv6:
		if len(payload) < echoHeaderLen {
			return Key{}, errTruncated
		}
		typ := payload[0]
		if typ != byte(ipv4.ICMPTypeEcho) && typ != byte(ipv6.ICMPTypeEchoRequest) {
			return Key{}, errIgnored
		}
		id := binary.BigEndian.Uint16(payload[4:6])
		seq := binary.BigEndian.Uint16(payload[6:8])
		return EchoKey(dst, id, seq), nil

	default:
		return Key{}, errIgnored
	}
}

func addrFromNet(a net.Addr) netip.Addr {
	var (
		ip   net.IP
		zone string
	)
	switch v := a.(type) {
	case *net.IPAddr:
		ip, zone = v.IP, v.Zone
	case *net.UDPAddr:
		ip, zone = v.IP, v.Zone
	default:
		return netip.Addr{}
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap().WithZone(zone)
}

// netAddrFor returns the destination form expected by a socket of the given mode.
func netAddrFor(addr netip.Addr, privileged bool) net.Addr {
	ip := net.IP(addr.AsSlice())
	if privileged {
		return &net.IPAddr{IP: ip, Zone: addr.Zone()}
	}
	return &net.UDPAddr{IP: ip, Zone: addr.Zone()}
}
