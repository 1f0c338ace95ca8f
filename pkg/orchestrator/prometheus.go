package orchestrator

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	// Request metrics
	admitted        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	completed       *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Instance metrics
	faults    *prometheus.CounterVec
	lifecycle *prometheus.CounterVec
	healthy   *prometheus.GaugeVec

	// Health and fallback metrics
	probes        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	fallbacks     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector with its own registry
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "vaultworker"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.admitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_admitted_total",
			Help:      "Total number of requests accepted by a worker instance",
		},
		[]string{"worker_type", "priority", "queued"},
	)

	pmc.retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Total number of request retransmissions after a timeout",
		},
		[]string{"worker_type", "operation"},
	)

	pmc.completed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_completed_total",
			Help:      "Total number of settled requests by outcome",
		},
		[]string{"worker_type", "operation", "outcome"},
	)

	pmc.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from dispatch to settlement of worker requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"worker_type", "operation"},
	)

	pmc.faults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_faults_total",
			Help:      "Total number of worker faults",
		},
		[]string{"worker_type"},
	)

	pmc.lifecycle = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_lifecycle_events_total",
			Help:      "Total number of worker lifecycle events",
		},
		[]string{"worker_type", "event"},
	)

	pmc.healthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_healthy",
			Help:      "Whether the worker instance of a type is healthy (1) or not (0)",
		},
		[]string{"worker_type"},
	)

	pmc.probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_probes_total",
			Help:      "Total number of health monitor probes",
		},
		[]string{"worker_type", "result"},
	)

	pmc.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_probe_duration_seconds",
			Help:      "Duration of health monitor probes",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"worker_type"},
	)

	pmc.fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of operations executed locally instead of on a worker",
		},
		[]string{"worker_type", "operation", "reason"},
	)

	pmc.registry.MustRegister(
		pmc.admitted,
		pmc.retries,
		pmc.completed,
		pmc.requestDuration,
		pmc.faults,
		pmc.lifecycle,
		pmc.healthy,
		pmc.probes,
		pmc.probeDuration,
		pmc.fallbacks,
	)

	return pmc
}

// RequestAdmitted records a request accepted by an instance
func (pmc *PrometheusMetricsCollector) RequestAdmitted(wt types.WorkerType, priority types.Priority, queued bool) {
	pmc.admitted.WithLabelValues(string(wt), priority.String(), strconv.FormatBool(queued)).Inc()
}

// RequestRetried records a retransmission
func (pmc *PrometheusMetricsCollector) RequestRetried(wt types.WorkerType, op types.Operation) {
	pmc.retries.WithLabelValues(string(wt), string(op)).Inc()
}

// RequestCompleted records a settled request
func (pmc *PrometheusMetricsCollector) RequestCompleted(wt types.WorkerType, op types.Operation, outcome worker.Outcome, latency time.Duration) {
	pmc.completed.WithLabelValues(string(wt), string(op), string(outcome)).Inc()
	pmc.requestDuration.WithLabelValues(string(wt), string(op)).Observe(latency.Seconds())
}

// InstanceFaulted records a worker fault
func (pmc *PrometheusMetricsCollector) InstanceFaulted(wt types.WorkerType) {
	pmc.faults.WithLabelValues(string(wt)).Inc()
	pmc.healthy.WithLabelValues(string(wt)).Set(0)
}

// InstanceStarted records a successful initialization
func (pmc *PrometheusMetricsCollector) InstanceStarted(wt types.WorkerType) {
	pmc.lifecycle.WithLabelValues(string(wt), "started").Inc()
	pmc.healthy.WithLabelValues(string(wt)).Set(1)
}

// InstanceTerminated records a termination
func (pmc *PrometheusMetricsCollector) InstanceTerminated(wt types.WorkerType) {
	pmc.lifecycle.WithLabelValues(string(wt), "terminated").Inc()
	pmc.healthy.WithLabelValues(string(wt)).Set(0)
}

// InitializationFailed records a failed initialization
func (pmc *PrometheusMetricsCollector) InitializationFailed(wt types.WorkerType) {
	pmc.lifecycle.WithLabelValues(string(wt), "init_failed").Inc()
}

// InstanceRestarted records a restart
func (pmc *PrometheusMetricsCollector) InstanceRestarted(wt types.WorkerType) {
	pmc.lifecycle.WithLabelValues(string(wt), "restarted").Inc()
}

// HealthProbe records a health monitor probe
func (pmc *PrometheusMetricsCollector) HealthProbe(wt types.WorkerType, healthy bool, duration time.Duration) {
	result := "healthy"
	if !healthy {
		result = "unhealthy"
		pmc.healthy.WithLabelValues(string(wt)).Set(0)
	}
	pmc.probes.WithLabelValues(string(wt), result).Inc()
	pmc.probeDuration.WithLabelValues(string(wt)).Observe(duration.Seconds())
}

// Fallback records a local execution
func (pmc *PrometheusMetricsCollector) Fallback(wt types.WorkerType, op types.Operation, reason string) {
	pmc.fallbacks.WithLabelValues(string(wt), string(op), reason).Inc()
}

// Registry returns the Prometheus registry holding every collector
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}
