// Package metrics provides monitoring and metrics collection for netprobe.
// Probe outcomes, correlator traffic, and batch timings are recorded through
// a Recorder; the process-wide recorder defaults to a no-op until the CLI
// installs a Prometheus-backed one.
package metrics

import (
	"sync"
	"time"
)

// Outcomes reported for inbound ICMP messages.
const (
	OutcomeMatched   = "matched"
	OutcomeDiscarded = "discarded"
	OutcomeMalformed = "malformed"
)

// Batch statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordProbe(string, string, time.Duration) {}
func (NopRecorder) ProbeStarted(string) {}
func (NopRecorder) ProbeFinished(string) {}
func (NopRecorder) RecordICMPMessage(string, string) {}
func (NopRecorder) SetCorrelatorPending(int) {}
func (NopRecorder) RecordBatch(string, string, int, time.Duration) {}

var (
	globalMu sync.RWMutex
	global   Recorder = NopRecorder{}
)

// SetGlobal installs the process-wide recorder. A nil recorder restores the no-op.
func SetGlobal(r Recorder) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if r == nil {
		r = NopRecorder{}
	}
	global = r
}

// Global returns the process-wide recorder.
func Global() Recorder {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Timer measures the duration of one probe.
type Timer struct {
	recorder Recorder
	protocol string
	start    time.Time
}

// StartProbe marks a probe in flight and returns a timer that records its outcome.
func StartProbe(r Recorder, protocol string) *Timer {
	r.ProbeStarted(protocol)
	return &Timer{
		recorder: r,
		protocol: protocol,
		start:    time.Now(),
	}
}

// Stop records the probe outcome and clears the in-flight mark.
func (t *Timer) Stop(reason string) time.Duration {
	d := time.Since(t.start)
	t.recorder.ProbeFinished(t.protocol)
	t.recorder.RecordProbe(t.protocol, reason, d)
	return d
}
