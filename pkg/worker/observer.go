package worker

import (
	"time"

	"github.com/jzx17/vaultworker/pkg/types"
)

// Outcome labels how a request ended
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeOperationError Outcome = "operation_error"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeFault          Outcome = "fault"
	OutcomeTerminated     Outcome = "terminated"
	OutcomeCanceled       Outcome = "canceled"
)

// Observer receives request-level events from an Instance. Implementations must be safe for
// concurrent use and must not call back into the instance.
type Observer interface {
	// RequestAdmitted is called once per request; queued reports whether it had to wait
	RequestAdmitted(wt types.WorkerType, priority types.Priority, queued bool)

	// RequestRetried is called on every retransmission
	RequestRetried(wt types.WorkerType, op types.Operation)

	// RequestCompleted is called exactly once per request
	RequestCompleted(wt types.WorkerType, op types.Operation, outcome Outcome, latency time.Duration)

	// InstanceFaulted is called when an instance turns unhealthy because of a fault
	InstanceFaulted(wt types.WorkerType)
}

// NoopObserver discards every event
type NoopObserver struct{}

func (NoopObserver) RequestAdmitted(types.WorkerType, types.Priority, bool)                     {}
func (NoopObserver) RequestRetried(types.WorkerType, types.Operation)                           {}
func (NoopObserver) RequestCompleted(types.WorkerType, types.Operation, Outcome, time.Duration) {}
func (NoopObserver) InstanceFaulted(types.WorkerType)                                           {}
