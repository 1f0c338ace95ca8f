package orchestrator

import (
	"time"

	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

// MetricsCollector defines the interface for collecting orchestrator metrics. It receives the
// request events of every instance as a worker.Observer.
type MetricsCollector interface {
	worker.Observer

	// InstanceStarted records a successful Initialize
	InstanceStarted(wt types.WorkerType)

	// InstanceTerminated records a Terminate of a live instance
	InstanceTerminated(wt types.WorkerType)

	// InitializationFailed records an Initialize whose probe failed
	InitializationFailed(wt types.WorkerType)

	// InstanceRestarted records a Restart
	InstanceRestarted(wt types.WorkerType)

	// HealthProbe records the outcome of a health monitor probe
	HealthProbe(wt types.WorkerType, healthy bool, duration time.Duration)

	// Fallback records an operation executed locally instead of on a worker
	Fallback(wt types.WorkerType, op types.Operation, reason string)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct {
	worker.NoopObserver
}

func (n *noopMetricsCollector) InstanceStarted(types.WorkerType)                   {}
func (n *noopMetricsCollector) InstanceTerminated(types.WorkerType)                {}
func (n *noopMetricsCollector) InitializationFailed(types.WorkerType)              {}
func (n *noopMetricsCollector) InstanceRestarted(types.WorkerType)                 {}
func (n *noopMetricsCollector) HealthProbe(types.WorkerType, bool, time.Duration)  {}
func (n *noopMetricsCollector) Fallback(types.WorkerType, types.Operation, string) {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
