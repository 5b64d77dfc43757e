package metrics

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all netprobe metrics
	namespace = "netprobe"

	// Subsystems
	subsystemProbe      = "probe"
	subsystemCorrelator = "correlator"
	subsystemBatch      = "batch"
	subsystemSystem     = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	activeProbes  *prometheus.GaugeVec

	// Correlator metrics
	icmpMessages *prometheus.CounterVec
	pendingKeys  prometheus.Gauge

	// Batch metrics
	batchesTotal  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	batchTargets  *prometheus.CounterVec

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initProbeMetrics()
	pm.initCorrelatorMetrics()
	pm.initBatchMetrics()
	pm.initSystemMetrics()

	registry.MustRegister(
		pm.probesTotal,
		pm.probeDuration,
		pm.activeProbes,
		pm.icmpMessages,
		pm.pendingKeys,
		pm.batchesTotal,
		pm.batchDuration,
		pm.batchTargets,
		pm.goroutines,
		pm.uptime,
	)

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of probes by protocol and terminal reason",
		},
		[]string{"protocol", "reason"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of individual probes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"protocol"},
	)

	pm.activeProbes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "active",
			Help:      "Number of probes currently in flight",
		},
		[]string{"protocol"},
	)
}

func (pm *PrometheusMetrics) initCorrelatorMetrics() {
	pm.icmpMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCorrelator,
			Name:      "icmp_messages_total",
			Help:      "Inbound ICMP messages by address family and routing outcome",
		},
		[]string{"family", "outcome"},
	)

	pm.pendingKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemCorrelator,
			Name:      "pending",
			Help:      "Correlation keys currently awaiting a message",
		},
	)
}

func (pm *PrometheusMetrics) initBatchMetrics() {
	pm.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemBatch,
			Name:      "total",
			Help:      "Total number of batches scanned by scanner and status",
		},
		[]string{"scanner", "status"},
	)

	pm.batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemBatch,
			Name:      "duration_seconds",
			Help:      "Duration of batch scans in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"scanner"},
	)

	pm.batchTargets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemBatch,
			Name:      "targets_total",
			Help:      "Total number of targets submitted in batches",
		},
		[]string{"scanner"},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// RecordProbe implements Recorder.
func (pm *PrometheusMetrics) RecordProbe(protocol, reason string, duration time.Duration) {
	pm.probesTotal.WithLabelValues(protocol, reason).Inc()
	pm.probeDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

// ProbeStarted implements Recorder.
func (pm *PrometheusMetrics) ProbeStarted(protocol string) {
	pm.activeProbes.WithLabelValues(protocol).Inc()
}

// ProbeFinished implements Recorder.
func (pm *PrometheusMetrics) ProbeFinished(protocol string) {
	pm.activeProbes.WithLabelValues(protocol).Dec()
}

// RecordICMPMessage implements Recorder.
func (pm *PrometheusMetrics) RecordICMPMessage(family, outcome string) {
	pm.icmpMessages.WithLabelValues(family, outcome).Inc()
}

// SetCorrelatorPending implements Recorder.
func (pm *PrometheusMetrics) SetCorrelatorPending(count int) {
	pm.pendingKeys.Set(float64(count))
}

// RecordBatch implements Recorder.
func (pm *PrometheusMetrics) RecordBatch(scanner, status string, size int, duration time.Duration) {
	pm.batchesTotal.WithLabelValues(scanner, status).Inc()
	pm.batchDuration.WithLabelValues(scanner).Observe(duration.Seconds())
	pm.batchTargets.WithLabelValues(scanner).Add(float64(size))
}

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}
