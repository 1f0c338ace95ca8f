package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

// ProbeResult is the outcome of one health sweep for one worker type
type ProbeResult struct {
	WorkerType types.WorkerType
	// Probed is false when the instance was active recently enough to skip the probe
	Probed  bool
	Healthy bool
	Err     error
}

// HealthMonitor periodically probes idle workers. A failed probe marks the instance unhealthy;
// it never marks an unhealthy instance healthy again, only Restart does.
type HealthMonitor struct {
	o        *Orchestrator
	interval time.Duration
	probe    worker.SendConfig
	clock    types.Clock
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newHealthMonitor(o *Orchestrator) *HealthMonitor {
	return &HealthMonitor{
		o:        o,
		interval: o.cfg.HealthCheckInterval,
		probe: worker.SendConfig{
			Timeout:    o.cfg.ProbeTimeout,
			MaxRetries: o.cfg.ProbeRetries,
			RetryDelay: o.cfg.ProbeRetryDelay,
			Priority:   types.PriorityHigh,
		},
		clock:  o.clock,
		logger: o.logger.With(zap.String("component", "health")),
	}
}

// Start launches the periodic sweep. It is a no-op when already running.
func (m *HealthMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	ticker := m.clock.NewTicker(m.interval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				m.CheckNow(ctx)
			}
		}
	}(m.done)
}

// Stop ends the periodic sweep and waits for a running sweep to return
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// CheckNow runs one sweep: every healthy instance idle for at least two intervals gets a ping.
// Probes run in parallel and the results are ordered by worker type.
func (m *HealthMonitor) CheckNow(ctx context.Context) []ProbeResult {
	m.o.mu.RLock()
	instances := make([]*worker.Instance, 0, len(m.o.instances))
	for _, inst := range m.o.instances {
		instances = append(instances, inst)
	}
	m.o.mu.RUnlock()

	var (
		mu      sync.Mutex
		results []ProbeResult
	)
	g := new(errgroup.Group)
	for _, inst := range instances {
		if !inst.IsHealthy() {
			continue
		}
		res := ProbeResult{WorkerType: inst.Type(), Healthy: true}
		if m.clock.Since(inst.LastActivity()) < 2*m.interval {
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			res.Probed = true
			start := m.clock.Now()
			if err := ping(ctx, inst, &m.probe); err != nil && ctx.Err() == nil {
				res.Healthy = false
				res.Err = err
				inst.MarkUnhealthy(err)
				m.logger.Warn("health probe failed", zap.String("worker_type", inst.Type().String()), zap.Error(err))
			}
			if ctx.Err() == nil {
				m.o.metrics.HealthProbe(inst.Type(), res.Healthy, m.clock.Since(start))
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].WorkerType < results[j].WorkerType })
	return results
}
