// Package payloads holds the UDP probe payloads keyed by destination port.
//
// A UDP service usually answers only a datagram it can parse, so each
// well-known port gets a request in its own protocol. Ports without a
// specific entry receive the Generic payload.
package payloads

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"
)

// Generic is the sentinel key of the fallback payload.
const Generic uint16 = 0

// Well-known ports with dedicated payloads.
const (
	PortDNS     uint16 = 53
	PortNTP     uint16 = 123
	PortNetBIOS uint16 = 137
	PortSNMP    uint16 = 161
	PortSSDP    uint16 = 1900
	PortMDNS    uint16 = 5353
)

const (
	dnsQueryID      = 0x4e50
	dnsQueryName    = "example.com."
	mdnsServiceName = "_services._dns-sd._udp.local."
	snmpCommunity   = "public"
	snmpSysDescrOID = ".1.3.6.1.2.1.1.1.0"
	ntpPacketSize   = 48
	ntpClientV3     = 0x1b // LI=0, VN=3, Mode=3
)

var (
	genericPayload = []byte("\r\n\r\n")

	// NBSTAT query for the wildcard name "*".
	netbiosStatus = []byte("\x80\xf0\x00\x10\x00\x01\x00\x00\x00\x00\x00\x00" +
		"\x20CKAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA\x00\x00\x21\x00\x01")

	ssdpSearch = []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 1\r\n" +
		"ST: ssdp:all\r\n\r\n")
)

// Library is an immutable port to payload mapping.
type Library struct {
	entries map[uint16][]byte
}

// New builds a library from entries. The Generic entry is mandatory.
func New(entries map[uint16][]byte) (*Library, error) {
	if _, ok := entries[Generic]; !ok {
		return nil, fmt.Errorf("payload library requires a generic entry")
	}
	copied := make(map[uint16][]byte, len(entries))
	for port, payload := range entries {
		copied[port] = bytes.Clone(payload)
	}
	return &Library{entries: copied}, nil
}

var (
	defaultOnce sync.Once
	defaultLib  *Library
)

// Default returns the process-wide library, built on first use.
func Default() *Library {
	defaultOnce.Do(func() {
		lib, err := Build()
		if err != nil {
			panic(err)
		}
		defaultLib = lib
	})
	return defaultLib
}

// Build assembles the built-in payload set.
func Build() (*Library, error) {
	entries := map[uint16][]byte{
		Generic:     genericPayload,
		PortNTP:     ntpRequest(),
		PortNetBIOS: netbiosStatus,
		PortSSDP:    ssdpSearch,
	}

	builders := []struct {
		port  uint16
		build func() ([]byte, error)
	}{
		{PortDNS, dnsQuery},
		{PortMDNS, mdnsQuery},
		{PortSNMP, snmpGetRequest},
	}
	for _, b := range builders {
		payload, err := b.build()
		if err != nil {
			return nil, fmt.Errorf("building payload for port %d: %w", b.port, err)
		}
		entries[b.port] = payload
	}

	return New(entries)
}

// Lookup returns the payload for port, or the generic payload. The returned
// slice is a copy.
func (l *Library) Lookup(port uint16) []byte {
	if payload, ok := l.entries[port]; ok {
		return bytes.Clone(payload)
	}
	return bytes.Clone(l.entries[Generic])
}

// Has reports whether port has a dedicated entry.
func (l *Library) Has(port uint16) bool {
	_, ok := l.entries[port]
	return ok
}

// Len returns the number of entries, including the generic one.
func (l *Library) Len() int {
	return len(l.entries)
}

// Ports returns every key in ascending order.
func (l *Library) Ports() []uint16 {
	return slices.Sorted(maps.Keys(l.entries))
}

func dnsQuery() ([]byte, error) {
	m := new(dns.Msg)
	m.SetQuestion(dnsQueryName, dns.TypeA)
	m.Id = dnsQueryID
	m.RecursionDesired = true
	return m.Pack()
}

func mdnsQuery() ([]byte, error) {
	m := new(dns.Msg)
	m.SetQuestion(mdnsServiceName, dns.TypePTR)
	m.Id = 0
	m.RecursionDesired = false
	return m.Pack()
}

func snmpGetRequest() ([]byte, error) {
	packet := &gosnmp.SnmpPacket{
		Version:   gosnmp.Version2c,
		Community: snmpCommunity,
		PDUType:   gosnmp.GetRequest,
		RequestID: 1,
		Variables: []gosnmp.SnmpPDU{
			{Name: snmpSysDescrOID, Type: gosnmp.Null},
		},
	}
	return packet.MarshalMsg()
}

func ntpRequest() []byte {
	b := make([]byte, ntpPacketSize)
	b[0] = ntpClientV3
	return b
}
