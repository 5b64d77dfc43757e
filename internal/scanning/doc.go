// Package scanning provides the probe strategies of netprobe.
//
// The package takes a Batch of Target records, each naming a host, a port
// and a protocol, and determines for every record whether something
// answered and, for TCP and UDP, what it said first.
//
// # Main Components
//
// ## Records
//
//   - Target: one (host, port, protocol) record plus its outcome
//     (Alive, Reason, Banner)
//   - Batch: an ordered list of records probed in place
//   - Reason: reply-received, timed-out, icmp-unreachable or unknown
//
// A record's outcome fields are written together, once per probe. Scanning
// the same batch again overwrites them; nothing from an earlier run leaks
// into a later one.
//
// ## Scanners
//
//   - TCPScanner: full connect, then a bounded banner read
//   - UDPScanner: sends a port-specific payload and waits for a datagram
//   - ICMPPinger: echo request over the shared ICMP correlator
//   - NmapScanner: delegates to an installed nmap binary
//
// Factory.Get returns the scanner for a protocol and Factory.ScanAll runs a
// mixed batch. Scanners share the collaborators in Options: the correlator,
// the payload library, the socket budget and the dialer.
//
// # Usage
//
//	factory := scanning.NewFactory(scanning.Options{
//		Correlator: corr,
//		Workers:    128,
//	})
//
//	batch := scanning.Batch{
//		scanning.NewTarget("192.0.2.10", 25, scanning.ProtocolTCP),
//		scanning.NewTarget("192.0.2.10", 53, scanning.ProtocolUDP),
//		scanning.NewTarget("2001:db8::1", 0, scanning.ProtocolICMPv6),
//	}
//
//	if err := factory.ScanAll(ctx, batch, false); err != nil {
//		log.Fatal(err)
//	}
//	for _, t := range batch {
//		fmt.Println(t, t.Reason, len(t.Banner))
//	}
//
// # Outcomes
//
// A reply of any kind marks the record alive. An explicit rejection, either
// an ICMP error routed back by the correlator or a refused, reset or
// unreachable error from the kernel, is reported as icmp-unreachable.
// Silence until the deadline is reported as timed-out, which for UDP covers
// both filtered ports and open services that ignored the payload. Hosts
// that cannot be resolved are logged and reported as timed-out.
//
// # Error Handling
//
// Scan returns an error only when the batch as a whole cannot be probed:
// no ICMP socket for the pinger, nmap missing or failing, or the context
// ending. In the first two cases no record is modified. When the context
// ends, records that were not probed keep their previous outcome.
//
// # Thread Safety
//
// Each record is written by exactly one worker per scan. A batch must not
// be scanned by two scans at the same time.
package scanning
