package scanning

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/anstrom/netprobe/internal/errors"
)

const (
	// Port validation constants.
	expectedPortRangeParts = 2
	maxPort                = 65535
)

// Protocol selects the probe strategy for a target.
type Protocol uint8

const (
	// ProtocolNone is only meaningful together with the external scanner.
	ProtocolNone Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolICMPv4
	ProtocolICMPv6
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolICMPv4:
		return "icmp4"
	case ProtocolICMPv6:
		return "icmp6"
	default:
		return "none"
	}
}

// IsICMP reports whether p is one of the echo protocols.
func (p Protocol) IsICMP() bool {
	return p == ProtocolICMPv4 || p == ProtocolICMPv6
}

// ParseProtocol converts a protocol name to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	case "icmp", "icmp4", "icmpv4":
		return ProtocolICMPv4, nil
	case "icmp6", "icmpv6":
		return ProtocolICMPv6, nil
	case "none", "":
		return ProtocolNone, nil
	default:
		return ProtocolNone, errors.ErrUnsupportedProtocol(s)
	}
}

// Reason explains the outcome recorded on a target.
type Reason uint8

const (
	ReasonUnknown Reason = iota
	ReasonReplyReceived
	ReasonTimedOut
	ReasonIcmpUnreachable
)

func (r Reason) String() string {
	switch r {
	case ReasonReplyReceived:
		return "reply-received"
	case ReasonTimedOut:
		return "timed-out"
	case ReasonIcmpUnreachable:
		return "icmp-unreachable"
	default:
		return "unknown"
	}
}

// Target is one (host, port, protocol) record and the result of probing it.
// Scanners write the result fields in place; a later scan overwrites them.
type Target struct {
	Host     string
	Port     uint16
	Protocol Protocol

	Alive  bool
	Reason Reason
	Banner []byte
}

// NewTarget creates a target in its initial, unprobed state.
func NewTarget(host string, port uint16, protocol Protocol) *Target {
	return &Target{Host: host, Port: port, Protocol: protocol}
}

// complete records a probe outcome. All result fields are replaced together
// so a rescan never leaves a banner or liveness from an earlier run behind.
func (t *Target) complete(reason Reason, banner []byte) {
	t.Alive = reason == ReasonReplyReceived
	t.Reason = reason
	if len(banner) == 0 {
		t.Banner = nil
		return
	}
	t.Banner = append([]byte(nil), banner...)
}

// Address returns host:port for transport probes and the bare host for ICMP.
func (t *Target) Address() string {
	if t.Protocol.IsICMP() {
		return t.Host
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

func (t *Target) String() string {
	return t.Protocol.String() + "://" + t.Address()
}

// ParseTarget parses "proto://host:port", "proto://host" for ICMP, or a bare
// "host:port" / "host" using defaultProto.
func ParseTarget(spec string, defaultProto Protocol) (*Target, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.ErrInvalidTarget(spec)
	}

	proto := defaultProto
	rest := spec
	if scheme, after, ok := strings.Cut(spec, "://"); ok {
		p, err := ParseProtocol(scheme)
		if err != nil {
			return nil, err
		}
		proto, rest = p, after
	}

	if proto.IsICMP() {
		host := strings.TrimSuffix(strings.TrimPrefix(rest, "["), "]")
		if host == "" {
			return nil, errors.ErrInvalidTarget(spec)
		}
		return NewTarget(host, 0, proto), nil
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeTargetInvalid, "target needs host:port", err).WithTarget(spec)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeTargetInvalid, "invalid port", err).WithTarget(spec)
	}
	if host == "" {
		return nil, errors.ErrInvalidTarget(spec)
	}
	return NewTarget(host, port, proto), nil
}

// ParsePorts expands a port list such as "22,80,8000-8010".
func ParsePorts(spec string) ([]uint16, error) {
	var ports []uint16
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "-") {
			p, err := parsePort(part)
			if err != nil {
				return nil, err
			}
			ports = append(ports, p)
			continue
		}

		bounds := strings.Split(part, "-")
		if len(bounds) != expectedPortRangeParts {
			return nil, errors.ErrConfigInvalid("ports", part)
		}
		start, err := parsePort(bounds[0])
		if err != nil {
			return nil, err
		}
		end, err := parsePort(bounds[1])
		if err != nil {
			return nil, err
		}
		if start > end {
			return nil, errors.NewConfigFieldError(errors.CodeValidation,
				"start port must not exceed end port", "ports", part)
		}
		for p := int(start); p <= int(end); p++ {
			ports = append(ports, uint16(p))
		}
	}
	if len(ports) == 0 {
		return nil, errors.ErrConfigMissing("ports")
	}
	return ports, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > maxPort {
		return 0, errors.ErrConfigInvalid("port", s)
	}
	return uint16(n), nil
}

// Batch is an ordered list of targets probed in place.
type Batch []*Target

// Summary counts the outcomes in a batch.
type Summary struct {
	Total       int `json:"total"`
	Alive       int `json:"alive"`
	TimedOut    int `json:"timed_out"`
	Unreachable int `json:"unreachable"`
	Unknown     int `json:"unknown"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d targets: %d alive, %d timed out, %d unreachable, %d unknown",
		s.Total, s.Alive, s.TimedOut, s.Unreachable, s.Unknown)
}

// Summary counts the batch's outcomes.
func (b Batch) Summary() Summary {
	s := Summary{Total: len(b)}
	for _, t := range b {
		switch t.Reason {
		case ReasonReplyReceived:
			s.Alive++
		case ReasonTimedOut:
			s.TimedOut++
		case ReasonIcmpUnreachable:
			s.Unreachable++
		default:
			s.Unknown++
		}
	}
	return s
}

// byProtocol returns the indices of b grouped by protocol, keeping batch order.
func (b Batch) byProtocol() map[Protocol][]int {
	groups := make(map[Protocol][]int)
	for i, t := range b {
		groups[t.Protocol] = append(groups[t.Protocol], i)
	}
	return groups
}
