// Prometheus collectors for pulsescan. These back the optional /metrics
// endpoint of the ops server and complement the lightweight in-process
// registry with proper histogram buckets and label vectors.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all pulsescan metrics
	namespace = "pulsescan"

	// Subsystems
	subsystemProbe  = "probe"
	subsystemSource = "source"
	subsystemSink   = "sink"
	subsystemSystem = "system"
	subsystemAPI    = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	rateWait      prometheus.Histogram
	activeWorkers prometheus.Gauge

	// Source metrics
	targetsGenerated  *prometheus.CounterVec
	addressesFiltered *prometheus.CounterVec
	sourceParseErrors *prometheus.CounterVec

	// Sink metrics
	sinkWrites *prometheus.CounterVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	// Performance tracking
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
	pm.initSourceMetrics()
	pm.initSinkMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initProbeMetrics initializes probe-related metrics
func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of probes performed by outcome",
		},
		[]string{"outcome"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of individual probes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"outcome"},
	)

	pm.rateWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "rate_wait_seconds",
			Help:      "Time workers spent waiting for a rate-limiter token",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	pm.activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "workers_active",
			Help:      "Number of workers currently executing probes",
		},
	)
}

// initSourceMetrics initializes address-source metrics
func (pm *PrometheusMetrics) initSourceMetrics() {
	pm.targetsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSource,
			Name:      "targets_total",
			Help:      "Total number of probe targets generated by source kind",
		},
		[]string{"source"},
	)

	pm.addressesFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSource,
			Name:      "filtered_total",
			Help:      "Total number of addresses rejected by the routability filter",
		},
		[]string{"source"},
	)

	pm.sourceParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSource,
			Name:      "parse_errors_total",
			Help:      "Total number of malformed source entries skipped",
		},
		[]string{"source"},
	)
}

// initSinkMetrics initializes result-sink metrics
func (pm *PrometheusMetrics) initSinkMetrics() {
	pm.sinkWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSink,
			Name:      "writes_total",
			Help:      "Total number of sink writes by format and status",
		},
		[]string{"format", "status"},
	)
}

// initAPIMetrics initializes ops-endpoint metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

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

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.probesTotal)
	pm.registry.MustRegister(pm.probeDuration)
	pm.registry.MustRegister(pm.rateWait)
	pm.registry.MustRegister(pm.activeWorkers)

	pm.registry.MustRegister(pm.targetsGenerated)
	pm.registry.MustRegister(pm.addressesFiltered)
	pm.registry.MustRegister(pm.sourceParseErrors)

	pm.registry.MustRegister(pm.sinkWrites)

	pm.registry.MustRegister(pm.httpRequests)
	pm.registry.MustRegister(pm.httpDuration)

	pm.registry.MustRegister(pm.memoryUsage)
	pm.registry.MustRegister(pm.goroutines)
	pm.registry.MustRegister(pm.uptime)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Probe Metrics Methods

// IncrementProbesTotal increments the probe counter for an outcome
func (pm *PrometheusMetrics) IncrementProbesTotal(outcome string) {
	pm.probesTotal.WithLabelValues(outcome).Inc()
}

// RecordProbeDuration records a probe duration by outcome
func (pm *PrometheusMetrics) RecordProbeDuration(outcome string, duration time.Duration) {
	pm.probeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRateWait records a token-acquisition wait
func (pm *PrometheusMetrics) RecordRateWait(duration time.Duration) {
	pm.rateWait.Observe(duration.Seconds())
}

// SetActiveWorkers sets the number of workers currently probing
func (pm *PrometheusMetrics) SetActiveWorkers(count int) {
	pm.activeWorkers.Set(float64(count))
}

// Source Metrics Methods

// IncrementTargetsGenerated increments the generated-target counter
func (pm *PrometheusMetrics) IncrementTargetsGenerated(source string, count int) {
	pm.targetsGenerated.WithLabelValues(source).Add(float64(count))
}

// IncrementAddressesFiltered increments the filtered-address counter
func (pm *PrometheusMetrics) IncrementAddressesFiltered(source string) {
	pm.addressesFiltered.WithLabelValues(source).Inc()
}

// IncrementSourceParseErrors increments the skipped-entry counter
func (pm *PrometheusMetrics) IncrementSourceParseErrors(source string) {
	pm.sourceParseErrors.WithLabelValues(source).Inc()
}

// Sink Metrics Methods

// IncrementSinkWrites increments the sink write counter
func (pm *PrometheusMetrics) IncrementSinkWrites(format, status string) {
	pm.sinkWrites.WithLabelValues(format, status).Inc()
}

// API Metrics Methods

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())

	pm.lastUpdate = time.Now()
}

// Utility Methods

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

// StartPeriodicUpdates starts a goroutine that periodically updates system metrics
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Update immediately
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

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}

// Convenience functions using global instance

// RecordProbeDurationPrometheus records a probe duration using global metrics
func RecordProbeDurationPrometheus(outcome string, duration time.Duration) {
	GetGlobalMetrics().RecordProbeDuration(outcome, duration)
}

// IncrementProbesTotalPrometheus increments the probe counter using global metrics
func IncrementProbesTotalPrometheus(outcome string) {
	GetGlobalMetrics().IncrementProbesTotal(outcome)
}

// RecordRateWaitPrometheus records a token wait using global metrics
func RecordRateWaitPrometheus(duration time.Duration) {
	GetGlobalMetrics().RecordRateWait(duration)
}

// IncrementTargetsGeneratedPrometheus increments generated targets using global metrics
func IncrementTargetsGeneratedPrometheus(source string, count int) {
	GetGlobalMetrics().IncrementTargetsGenerated(source, count)
}

// IncrementSinkWritesPrometheus increments sink writes using global metrics
func IncrementSinkWritesPrometheus(format string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	GetGlobalMetrics().IncrementSinkWrites(format, status)
}
