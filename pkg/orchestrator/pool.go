// Package orchestrator owns one worker instance per capability type: it starts them on demand,
// routes requests to them, watches their health and shuts them down.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/retry"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

// ErrClosed is returned by operations on a closed orchestrator
var ErrClosed = errors.New("orchestrator closed")

// HandlerFactory builds the handler for a new execution unit of type wt
type HandlerFactory func(wt types.WorkerType) (worker.Handler, error)

// Orchestrator is the worker pool and lifecycle manager. Create it with New and pass it to the
// adapters that need workers.
type Orchestrator struct {
	cfg     Config
	clock   types.Clock
	logger  *zap.Logger
	metrics MetricsCollector
	health  *HealthMonitor

	mu        sync.RWMutex
	factories map[types.WorkerType]HandlerFactory
	instances map[types.WorkerType]*worker.Instance
	closed    bool

	initGroup singleflight.Group
}

// New creates an orchestrator. A nil cfg means DefaultConfig.
func New(cfg *Config) *Orchestrator {
	c := cfg.withDefaults()
	o := &Orchestrator{
		cfg:       c,
		clock:     c.Clock,
		logger:    c.Logger,
		metrics:   c.Metrics,
		factories: make(map[types.WorkerType]HandlerFactory),
		instances: make(map[types.WorkerType]*worker.Instance),
	}
	o.health = newHealthMonitor(o)
	return o
}

// Register sets the handler factory for a worker type
func (o *Orchestrator) Register(wt types.WorkerType, factory HandlerFactory) error {
	if !wt.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownWorkerType, wt)
	}
	if factory == nil {
		return fmt.Errorf("nil handler factory for %s", wt)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.factories[wt] = factory
	return nil
}

// Metrics returns the metrics collector
func (o *Orchestrator) Metrics() MetricsCollector {
	return o.metrics
}

// Logger returns the orchestrator logger
func (o *Orchestrator) Logger() *zap.Logger {
	return o.logger
}

// Health returns the health monitor
func (o *Orchestrator) Health() *HealthMonitor {
	return o.health
}

// Initialize starts a worker of type wt and waits for its first probe. It is a no-op when a
// healthy instance exists; an unhealthy or terminated instance is replaced by a new one.
// Concurrent calls for the same type share one attempt.
func (o *Orchestrator) Initialize(ctx context.Context, wt types.WorkerType) error {
	if !wt.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownWorkerType, wt)
	}
	_, err, _ := o.initGroup.Do(string(wt), func() (interface{}, error) {
		return nil, o.initialize(ctx, wt)
	})
	return err
}

func (o *Orchestrator) initialize(ctx context.Context, wt types.WorkerType) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	factory, ok := o.factories[wt]
	if !ok {
		o.mu.Unlock()
		return types.NewWorkerError(types.KindInitialization, wt, errors.New("no handler registered"))
	}
	old := o.instances[wt]
	if old != nil && old.IsHealthy() {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	if old != nil && old.State() != types.StateTerminated {
		old.Terminate()
		o.metrics.InstanceTerminated(wt)
	}

	handler, err := factory(wt)
	if err != nil {
		o.metrics.InitializationFailed(wt)
		return types.NewWorkerError(types.KindInitialization, wt, err)
	}

	inst := worker.NewInstance(wt, handler, o.cfg.workerConfig())
	o.mu.Lock()
	o.instances[wt] = inst
	o.mu.Unlock()

	probe := &worker.SendConfig{
		Timeout:  o.cfg.InitProbeTimeout,
		Priority: types.PriorityHigh,
	}
	if err := ping(ctx, inst, probe); err != nil {
		inst.Terminate()
		o.metrics.InitializationFailed(wt)
		o.logger.Warn("worker initialization failed",
			zap.String("worker_type", wt.String()),
			zap.String("instance_id", inst.ID()),
			zap.Error(err))
		return types.NewWorkerError(types.KindInitialization, wt, err)
	}

	inst.MarkHealthy()
	o.metrics.InstanceStarted(wt)
	o.logger.Info("worker initialized",
		zap.String("worker_type", wt.String()),
		zap.String("instance_id", inst.ID()))
	return nil
}

// InitializeWithRetry runs Initialize under policy. A nil policy retries three times with
// exponential backoff from 100ms.
func (o *Orchestrator) InitializeWithRetry(ctx context.Context, wt types.WorkerType, policy retry.RetryPolicy) error {
	if policy == nil {
		policy = retry.NewExponentialBackoffRetry(3, DefaultInitRetryDelay,
			retry.WithRetryCondition(retry.InitializationCondition))
	}
	executor := retry.NewRetryExecutor(policy,
		retry.WithClock(o.clock),
		retry.WithLogger(o.logger.With(zap.String("worker_type", wt.String()))))
	return retry.Do(executor, ctx, "initialize "+wt.String(), func(ctx context.Context) error {
		return o.Initialize(ctx, wt)
	})
}

// Terminate rejects every pending and queued request of the wt instance and stops its unit.
// It is a no-op when no live instance exists.
func (o *Orchestrator) Terminate(wt types.WorkerType) error {
	if !wt.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownWorkerType, wt)
	}
	inst := o.instance(wt)
	if inst == nil || inst.State() == types.StateTerminated {
		return nil
	}
	inst.Terminate()
	o.metrics.InstanceTerminated(wt)
	o.logger.Info("worker terminated", zap.String("worker_type", wt.String()), zap.String("instance_id", inst.ID()))
	return nil
}

// Restart terminates the wt instance and initializes a new one
func (o *Orchestrator) Restart(ctx context.Context, wt types.WorkerType) error {
	if err := o.Terminate(wt); err != nil {
		return err
	}
	o.metrics.InstanceRestarted(wt)
	return o.Initialize(ctx, wt)
}

// AutoInitialize makes sure a usable instance of wt exists before a dispatch, starting one
// when the type's heuristic says the payload is worth a worker. It reports whether a healthy
// instance is available afterwards.
func (o *Orchestrator) AutoInitialize(ctx context.Context, wt types.WorkerType, estimatedPayloadSize int) bool {
	if !wt.Valid() {
		return false
	}
	if inst := o.instance(wt); inst != nil {
		switch inst.State() {
		case types.StateHealthy, types.StateBusy:
			return true
		case types.StateUnhealthy:
			if !o.cfg.AutoRestartUnhealthy {
				return false
			}
		}
	}
	if !o.warranted(wt, estimatedPayloadSize) {
		return false
	}
	if err := o.Initialize(ctx, wt); err != nil {
		o.logger.Warn("lazy worker initialization failed", zap.String("worker_type", wt.String()), zap.Error(err))
		return false
	}
	return o.IsHealthy(wt)
}

// warranted is the per-type heuristic for starting a worker on demand
func (o *Orchestrator) warranted(wt types.WorkerType, size int) bool {
	switch wt {
	case types.WorkerTypeEncryption, types.WorkerTypeSearch:
		return true
	case types.WorkerTypeFileProcessing:
		return size >= o.cfg.FileProcessingThreshold
	default:
		return false
	}
}

// IsHealthy reports whether a healthy instance of wt exists
func (o *Orchestrator) IsHealthy(wt types.WorkerType) bool {
	inst := o.instance(wt)
	return inst != nil && inst.IsHealthy()
}

// State returns the lifecycle state of the wt instance
func (o *Orchestrator) State(wt types.WorkerType) types.WorkerState {
	inst := o.instance(wt)
	if inst == nil {
		return types.StateUninitialized
	}
	return inst.State()
}

// InstanceID returns the id of the current wt instance, "" when none was created
func (o *Orchestrator) InstanceID(wt types.WorkerType) string {
	inst := o.instance(wt)
	if inst == nil {
		return ""
	}
	return inst.ID()
}

// Stats returns a snapshot of every instance
func (o *Orchestrator) Stats() map[types.WorkerType]worker.Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[types.WorkerType]worker.Stats, len(o.instances))
	for wt, inst := range o.instances {
		out[wt] = inst.Stats()
	}
	return out
}

// Close stops the health monitor, terminates every instance and waits for their units to stop
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	instances := make([]*worker.Instance, 0, len(o.instances))
	for _, inst := range o.instances {
		instances = append(instances, inst)
	}
	o.mu.Unlock()

	o.health.Stop()

	var err error
	for _, inst := range instances {
		if inst.State() != types.StateTerminated {
			inst.Terminate()
			o.metrics.InstanceTerminated(inst.Type())
		}
		select {
		case <-inst.Unit().Done():
		case <-o.clock.After(o.cfg.ShutdownTimeout):
			err = multierr.Append(err, fmt.Errorf("%s unit did not stop within %s", inst.Type(), o.cfg.ShutdownTimeout))
		}
	}
	return err
}

func (o *Orchestrator) instance(wt types.WorkerType) *worker.Instance {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.instances[wt]
}

// ping sends a probe to inst and waits for it to settle
func ping(ctx context.Context, inst *worker.Instance, cfg *worker.SendConfig) error {
	h, err := inst.Send(ops.Ping{}, cfg)
	if err != nil {
		return err
	}
	if _, err := h.Wait(ctx); err != nil {
		h.Cancel()
		return err
	}
	return nil
}
