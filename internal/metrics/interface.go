// Package metrics provides interfaces for metrics collection and monitoring.
package metrics

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/anstrom/netprobe/internal/metrics Recorder

import "time"

// Recorder defines the probe-level instrumentation used by the scanning engine.
// This interface allows for easy mocking and testing of metrics functionality.
type Recorder interface {
	// RecordProbe records the terminal classification of one probe.
	RecordProbe(protocol, reason string, duration time.Duration)

	// ProbeStarted marks a probe as in flight.
	ProbeStarted(protocol string)

	// ProbeFinished marks an in-flight probe as done.
	ProbeFinished(protocol string)

	// RecordICMPMessage counts an inbound ICMP message by routing outcome.
	RecordICMPMessage(family, outcome string)

	// SetCorrelatorPending reports the number of registered correlation keys.
	SetCorrelatorPending(count int)

	// RecordBatch records a completed batch scan.
	RecordBatch(scanner, status string, size int, duration time.Duration)
}

// Ensure that both recorders implement Recorder.
var (
	_ Recorder = (*PrometheusMetrics)(nil)
	_ Recorder = NopRecorder{}
)
