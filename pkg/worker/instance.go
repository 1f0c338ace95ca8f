package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/types"
)

// PendingRequest tracks one request from Send until it settles
type PendingRequest struct {
	// ID is the correlation id, "" while the request waits in the admission queue
	ID       string
	Request  ops.Request
	Priority types.Priority
	Retries  int

	CreatedAt    time.Time
	EnqueuedAt   time.Time
	DispatchedAt time.Time

	cfg    SendConfig
	handle *Handle
	timer  types.Timer
	gen    uint64 // invalidates stale timer callbacks
	num    uint64 // numeric form of ID
	seq    uint64 // arrival order in the admission queue
	index  int    // heap index, -1 when not queued
}

// Metrics are cumulative request metrics of one instance
type Metrics struct {
	Total     int64 // requests accepted by Send
	Succeeded int64
	Failed    int64 // operation errors, timeouts, faults and terminations
	Retries   int64 // retransmissions
	TimedOut  int64
	Canceled  int64
	Dropped   int64 // responses that matched no pending request

	// AvgLatency is the cumulative moving average of dispatch-to-response time
	AvgLatency time.Duration
}

// Stats is a point-in-time snapshot of an instance
type Stats struct {
	WorkerType   types.WorkerType
	InstanceID   string
	State        types.WorkerState
	Busy         int
	MaxBusyCount int
	Pending      int
	LastActivity time.Time
	Metrics      Metrics
	Queue        QueueStats
	Unit         UnitStats
}

// Instance wraps one execution unit of a capability type. It owns the correlation id counter,
// the pending table, the busy counter and the admission queue; all of them only change under mu.
type Instance struct {
	workerType types.WorkerType
	id         string
	cfg        Config
	clock      types.Clock
	logger     *zap.Logger
	observer   Observer
	unit       *Unit

	mu           sync.Mutex
	state        types.WorkerState
	nextID       uint64
	pending      map[string]*PendingRequest
	queue        *admissionQueue
	busy         int
	lastActivity time.Time
	metrics      Metrics
	responses    int64
}

// NewInstance starts an execution unit running handler and returns its instance in the
// Initializing state. The caller promotes it with MarkHealthy once a probe succeeds.
func NewInstance(wt types.WorkerType, handler Handler, cfg Config) *Instance {
	cfg = cfg.withDefaults()
	i := &Instance{
		workerType:   wt,
		id:           uuid.NewString(),
		cfg:          cfg,
		clock:        cfg.Clock,
		observer:     cfg.Observer,
		state:        types.StateInitializing,
		pending:      make(map[string]*PendingRequest),
		queue:        newAdmissionQueue(cfg.Clock),
		lastActivity: cfg.Clock.Now(),
	}
	i.logger = cfg.Logger.With(zap.String("worker_type", wt.String()), zap.String("instance_id", i.id))
	i.unit = NewUnit(wt, handler, cfg)
	i.unit.Start(i.HandleResponse, i.Fault, i.isPending)
	return i
}

// Type returns the capability type
func (i *Instance) Type() types.WorkerType {
	return i.workerType
}

// ID returns the unique id of this instance object
func (i *Instance) ID() string {
	return i.id
}

// Unit returns the execution unit
func (i *Instance) Unit() *Unit {
	return i.unit
}

// State returns the lifecycle state; a healthy instance with requests in flight is Busy
func (i *Instance) State() types.WorkerState {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == types.StateHealthy && i.busy > 0 {
		return types.StateBusy
	}
	return i.state
}

// IsHealthy reports whether the instance accepts work
func (i *Instance) IsHealthy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state == types.StateHealthy
}

// MarkHealthy promotes an initializing instance. It reports false for any other state; only a
// new instance can become healthy again.
func (i *Instance) MarkHealthy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != types.StateInitializing {
		return false
	}
	i.state = types.StateHealthy
	return true
}

// MarkUnhealthy demotes the instance after a failed probe. Requests in flight keep running.
func (i *Instance) MarkUnhealthy(reason error) {
	i.mu.Lock()
	if i.state == types.StateTerminated || i.state == types.StateUnhealthy {
		i.mu.Unlock()
		return
	}
	i.state = types.StateUnhealthy
	i.mu.Unlock()

	i.logger.Warn("instance marked unhealthy", zap.Error(reason))
}

// LastActivity returns when the unit last answered a request
func (i *Instance) LastActivity() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastActivity
}

// Send submits req and returns its handle without waiting. The request is dispatched at once
// when a slot is free and nothing is queued, otherwise it waits in the admission queue.
func (i *Instance) Send(req ops.Request, cfg *SendConfig) (*Handle, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	op := req.Operation()
	if !ops.Supports(i.workerType, op) {
		return nil, fmt.Errorf("%w: %s does not serve %s", types.ErrUnsupportedOperation, i.workerType, op)
	}

	sc := cfg.normalize()
	p := &PendingRequest{
		Request:   req,
		Priority:  sc.Priority,
		CreatedAt: i.clock.Now(),
		cfg:       sc,
		handle:    newHandle(),
		index:     -1,
	}
	p.handle.cancel = func() { i.cancel(p) }

	i.mu.Lock()
	if err := i.acceptLocked(op); err != nil {
		i.mu.Unlock()
		return nil, err
	}
	i.metrics.Total++
	msg, dispatched := i.admitLocked(p)
	i.mu.Unlock()

	i.observer.RequestAdmitted(i.workerType, p.Priority, !dispatched)
	if dispatched {
		i.post(msg)
	} else {
		i.logger.Debug("request queued",
			zap.String("operation", string(op)),
			zap.Stringer("priority", p.Priority))
	}
	return p.handle, nil
}

func (i *Instance) acceptLocked(op types.Operation) error {
	switch i.state {
	case types.StateTerminated:
		return &types.WorkerError{Kind: types.KindTerminated, WorkerType: i.workerType, Operation: op}
	case types.StateUnhealthy:
		return &types.WorkerError{
			Kind:       types.KindUnavailable,
			WorkerType: i.workerType,
			Operation:  op,
			Cause:      errors.New("instance is unhealthy"),
		}
	default:
		return nil
	}
}

// dispatchLocked assigns a fresh correlation id, records p as pending and arms its timeout.
// The returned message must be posted after unlocking.
func (i *Instance) dispatchLocked(p *PendingRequest) ops.Message {
	i.nextID++
	p.num = i.nextID
	p.ID = strconv.FormatUint(p.num, 10)
	p.DispatchedAt = i.clock.Now()
	i.pending[p.ID] = p
	i.busy++
	p.handle.setID(p.ID)
	i.armTimeoutLocked(p)
	return ops.Message{ID: p.ID, Request: p.Request}
}

func (i *Instance) armTimeoutLocked(p *PendingRequest) {
	p.gen++
	id, gen := p.ID, p.gen
	p.timer = i.clock.AfterFunc(p.cfg.Timeout, func() { i.onTimeout(id, gen) })
}

// removeLocked takes a dispatched request out of the pending table and frees its slot
func (i *Instance) removeLocked(p *PendingRequest) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	delete(i.pending, p.ID)
	i.busy--
}

func (i *Instance) onTimeout(id string, gen uint64) {
	i.mu.Lock()
	p, ok := i.pending[id]
	if !ok || p.gen != gen {
		i.mu.Unlock()
		return
	}

	if p.Retries < p.cfg.MaxRetries {
		p.Retries++
		i.metrics.Retries++
		delay := p.cfg.retryDelay(p.Retries)
		p.gen++
		gen = p.gen
		if delay > 0 {
			p.timer = i.clock.AfterFunc(delay, func() { i.retransmit(id, gen) })
			i.mu.Unlock()
			return
		}
		i.mu.Unlock()
		i.retransmit(id, gen)
		return
	}

	i.removeLocked(p)
	i.metrics.Failed++
	i.metrics.TimedOut++
	posts := i.drainLocked()
	i.mu.Unlock()

	err := &types.WorkerError{
		Kind:       types.KindTimeout,
		WorkerType: i.workerType,
		Operation:  p.Request.Operation(),
		RequestID:  id,
		Retries:    p.Retries,
	}
	i.logger.Warn("request timed out",
		zap.String("request_id", id),
		zap.String("operation", string(p.Request.Operation())),
		zap.Int("retries", p.Retries))
	i.finish(p, nil, err, nil, OutcomeTimeout, i.clock.Since(p.CreatedAt))
	i.post(posts...)
}

// retransmit re-sends a timed out request under the same correlation id, so a late answer to
// an earlier transmission still settles it
func (i *Instance) retransmit(id string, gen uint64) {
	i.mu.Lock()
	p, ok := i.pending[id]
	if !ok || p.gen != gen {
		i.mu.Unlock()
		return
	}
	i.armTimeoutLocked(p)
	msg := ops.Message{ID: id, Request: p.Request}
	retries := p.Retries
	i.mu.Unlock()

	i.observer.RequestRetried(i.workerType, p.Request.Operation())
	i.logger.Debug("retransmitting request",
		zap.String("request_id", id),
		zap.String("operation", string(p.Request.Operation())),
		zap.Int("retries", retries))
	i.post(msg)
}

// HandleResponse settles the pending request matching resp.ID. Responses for unknown ids are
// dropped. A success whose result does not fit the request faults the instance.
func (i *Instance) HandleResponse(resp ops.Response) {
	i.mu.Lock()
	p, ok := i.pending[resp.ID]
	if !ok {
		i.metrics.Dropped++
		i.mu.Unlock()
		i.logger.Debug("dropping unmatched response", zap.String("request_id", resp.ID))
		return
	}

	op := p.Request.Operation()
	if resp.Success && !ops.Matches(op, resp.Result) {
		i.mu.Unlock()
		i.Fault(fmt.Errorf("malformed response to %s request %s: got %T", op, resp.ID, resp.Result))
		return
	}

	now := i.clock.Now()
	i.removeLocked(p)
	i.lastActivity = now
	latency := now.Sub(p.DispatchedAt)
	i.responses++
	i.metrics.AvgLatency += (latency - i.metrics.AvgLatency) / time.Duration(i.responses)

	var (
		result  ops.Result
		err     error
		outcome = OutcomeSuccess
	)
	if resp.Success {
		i.metrics.Succeeded++
		result = resp.Result
	} else {
		i.metrics.Failed++
		err = resp.Err()
		outcome = OutcomeOperationError
	}
	posts := i.drainLocked()
	i.mu.Unlock()

	i.finish(p, result, err, resp.Metrics, outcome, latency)
	i.post(posts...)
}

// Fault marks the instance unhealthy and rejects every pending and queued request with a
// WorkerFault error. It is a no-op on a terminated instance.
func (i *Instance) Fault(cause error) {
	i.mu.Lock()
	if i.state == types.StateTerminated {
		i.mu.Unlock()
		return
	}
	wasUnhealthy := i.state == types.StateUnhealthy
	i.state = types.StateUnhealthy
	victims := i.collectLocked()
	i.metrics.Failed += int64(len(victims))
	i.mu.Unlock()

	i.logger.Error("worker fault", zap.Error(cause), zap.Int("rejected", len(victims)))
	if !wasUnhealthy {
		i.observer.InstanceFaulted(i.workerType)
	}
	for _, p := range victims {
		err := &types.WorkerError{
			Kind:       types.KindFault,
			WorkerType: i.workerType,
			Operation:  p.Request.Operation(),
			RequestID:  p.ID,
			Retries:    p.Retries,
			Cause:      cause,
		}
		i.finish(p, nil, err, nil, OutcomeFault, i.clock.Since(p.CreatedAt))
	}
}

// Terminate rejects every pending and queued request, stops the unit and makes the instance
// permanently unusable. It is idempotent.
func (i *Instance) Terminate() {
	i.mu.Lock()
	if i.state == types.StateTerminated {
		i.mu.Unlock()
		return
	}
	i.state = types.StateTerminated
	victims := i.collectLocked()
	i.metrics.Failed += int64(len(victims))
	i.mu.Unlock()

	i.unit.Stop()
	for _, p := range victims {
		err := &types.WorkerError{
			Kind:       types.KindTerminated,
			WorkerType: i.workerType,
			Operation:  p.Request.Operation(),
			RequestID:  p.ID,
			Retries:    p.Retries,
		}
		i.finish(p, nil, err, nil, OutcomeTerminated, i.clock.Since(p.CreatedAt))
	}
	i.logger.Info("instance terminated", zap.Int("rejected", len(victims)))
}

// collectLocked empties the pending table and the queue. Dispatched requests come first in id
// order, then queued requests in dequeue order.
func (i *Instance) collectLocked() []*PendingRequest {
	victims := make([]*PendingRequest, 0, len(i.pending)+i.queue.Len())
	for _, p := range i.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.gen++
		victims = append(victims, p)
	}
	sort.Slice(victims, func(a, b int) bool { return victims[a].num < victims[b].num })

	i.pending = make(map[string]*PendingRequest)
	i.busy = 0
	return append(victims, i.queue.drainAll()...)
}

func (i *Instance) cancel(p *PendingRequest) {
	i.mu.Lock()
	var posts []ops.Message
	switch {
	case i.queue.remove(p):
	case p.ID != "" && i.pending[p.ID] == p:
		i.removeLocked(p)
		posts = i.drainLocked()
	default:
		i.mu.Unlock()
		return
	}
	i.metrics.Canceled++
	i.mu.Unlock()

	i.finish(p, nil, context.Canceled, nil, OutcomeCanceled, i.clock.Since(p.CreatedAt))
	i.post(posts...)
}

func (i *Instance) finish(p *PendingRequest, result ops.Result, err error, metrics *types.ExecMetrics, outcome Outcome, latency time.Duration) {
	p.handle.settle(result, err, metrics, func() {
		i.observer.RequestCompleted(i.workerType, p.Request.Operation(), outcome, latency)
	})
}

// post delivers messages to the unit. A stopped unit faults the instance. A full inbox does
// not: the request keeps its timer armed and is retransmitted or times out like a lost message.
func (i *Instance) post(msgs ...ops.Message) {
	for _, msg := range msgs {
		err := i.unit.Post(msg)
		switch {
		case err == nil:
		case errors.Is(err, ErrInboxFull):
			i.logger.Debug("inbox full, waiting for retransmission",
				zap.String("request_id", msg.ID),
				zap.String("operation", string(msg.Request.Operation())))
		default:
			i.Fault(fmt.Errorf("undeliverable request %s: %w", msg.ID, err))
			return
		}
	}
}

// isPending reports whether id still waits for a response
func (i *Instance) isPending(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.pending[id]
	return ok
}

// Stats returns a snapshot of the instance
func (i *Instance) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	state := i.state
	if state == types.StateHealthy && i.busy > 0 {
		state = types.StateBusy
	}
	return Stats{
		WorkerType:   i.workerType,
		InstanceID:   i.id,
		State:        state,
		Busy:         i.busy,
		MaxBusyCount: i.cfg.MaxBusyCount,
		Pending:      len(i.pending),
		LastActivity: i.lastActivity,
		Metrics:      i.metrics,
		Queue:        i.queue.stats(),
		Unit:         i.unit.Stats(),
	}
}
