// Package metrics provides Prometheus metrics for the proctoring engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Session lifecycle
	sessionsCreated *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	sessionsByState *prometheus.GaugeVec
	integrityScore  prometheus.Histogram

	// Frame pipeline
	framesAnalyzed   prometheus.Counter
	framesRejected   *prometheus.CounterVec
	detectorFailures prometheus.Counter
	analysisLatency  prometheus.Histogram
	identityChecks   *prometheus.CounterVec

	// Violations and client events
	violations      *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	liveSubscribers prometheus.Gauge
	archiveResults  *prometheus.CounterVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Registry
	registrySize *prometheus.GaugeVec

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "proctor",
		subsystem:        "engine",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, labels)
}

//nolint:funlen // flat list of metric definitions
func (m *Manager) initializeMetrics() {
	m.sessionsCreated = m.counterVec("sessions_created_total", "Sessions created by sensitivity", "sensitivity")
	m.sessionsEnded = m.counterVec("sessions_ended_total", "Sessions ended by recommendation", "recommendation")
	m.sessionsByState = m.gaugeVec("sessions", "Sessions currently held in the registry by state", "state")
	m.integrityScore = m.histogram("integrity_score", "Final integrity score of ended sessions",
		[]float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100})

	m.framesAnalyzed = m.counter("frames_analyzed_total", "Frames applied to a session tracker")
	m.framesRejected = m.counterVec("frames_rejected_total", "Frames rejected before analysis", "reason")
	m.detectorFailures = m.counter("detector_failures_total", "Detection provider errors and timeouts")
	m.analysisLatency = m.histogram("analysis_latency_milliseconds", "Decode plus detection latency", m.histogramBuckets)
	m.identityChecks = m.counterVec("identity_checks_total", "Identity comparisons by outcome", "outcome")

	m.violations = m.counterVec("violations_total", "Violations emitted", "kind", "severity")
	m.duplicates = m.counterVec("duplicates_total", "Retried frames and events dropped by idempotency", "type")
	m.liveSubscribers = m.gauge("live_subscribers", "Websocket clients following live violations")
	m.archiveResults = m.counterVec("archive_total", "Report archival attempts", "target", "status")

	m.queueSize = m.gauge("queue_size", "Analysis jobs waiting for a worker")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum analysis jobs the queue accepts")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size over capacity")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Analysis jobs enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Analysis jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Analysis jobs refused by the queue")

	m.registrySize = m.gaugeVec("registry_entries", "Entries held by an in-memory registry", "registry")

	m.workerCount = m.gauge("worker_count", "Analysis workers running")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Time a worker spends on one job", m.histogramBuckets)

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Goroutines running")
}

// UpdateRegistrySize sets the entry count of a named registry.
func UpdateRegistrySize(name string, size int) {
	globalManager.registrySize.WithLabelValues(name).Set(float64(size))
}

// RecordSessionCreated counts a new session.
func RecordSessionCreated(sensitivity string) {
	globalManager.sessionsCreated.WithLabelValues(sensitivity).Inc()
}

// RecordSessionEnded counts a finalized session and observes its score.
func RecordSessionEnded(recommendation string, score float64) {
	globalManager.sessionsEnded.WithLabelValues(recommendation).Inc()
	globalManager.integrityScore.Observe(score)
}

// UpdateSessionsByState sets the registry population for one state.
func UpdateSessionsByState(state string, count int) {
	globalManager.sessionsByState.WithLabelValues(state).Set(float64(count))
}

// RecordFrameAnalyzed counts a frame applied to a tracker.
func RecordFrameAnalyzed() {
	globalManager.framesAnalyzed.Inc()
}

// RecordFrameRejected counts a frame refused before analysis.
func RecordFrameRejected(reason string) {
	globalManager.framesRejected.WithLabelValues(reason).Inc()
}

// RecordDetectorFailure counts a provider error or timeout.
func RecordDetectorFailure() {
	globalManager.detectorFailures.Inc()
}

// RecordAnalysisLatency records decode plus detection latency.
func RecordAnalysisLatency(latencyMs float64) {
	globalManager.analysisLatency.Observe(latencyMs)
}

// RecordIdentityCheck counts an identity comparison ("match" or "mismatch").
func RecordIdentityCheck(outcome string) {
	globalManager.identityChecks.WithLabelValues(outcome).Inc()
}

// RecordViolation counts an emitted violation.
func RecordViolation(kind, severity string) {
	globalManager.violations.WithLabelValues(kind, severity).Inc()
}

// RecordDuplicate counts a retried frame or event dropped by idempotency.
func RecordDuplicate(kind string) {
	globalManager.duplicates.WithLabelValues(kind).Inc()
}

// AddLiveSubscribers adjusts the websocket subscriber gauge.
func AddLiveSubscribers(delta int) {
	globalManager.liveSubscribers.Add(float64(delta))
}

// RecordArchive counts an archival attempt.
func RecordArchive(target, status string) {
	globalManager.archiveResults.WithLabelValues(target, status).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error by type and severity.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error by HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom registry used for all metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
