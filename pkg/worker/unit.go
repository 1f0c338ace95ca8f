package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/types"
)

// ErrInboxFull is returned by Post when the unit cannot accept another message
var ErrInboxFull = errors.New("execution unit inbox full")

// UnitState defines the state of an execution unit
type UnitState int32

const (
	// UnitStateIdle means the unit runs with no handler in progress
	UnitStateIdle UnitState = iota
	// UnitStateWorking means at least one handler is in progress
	UnitStateWorking
	// UnitStateStopped means the unit no longer accepts messages
	UnitStateStopped
)

// String returns the string representation of UnitState
func (s UnitState) String() string {
	switch s {
	case UnitStateIdle:
		return "idle"
	case UnitStateWorking:
		return "working"
	case UnitStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// UnitStats contains execution unit statistics
type UnitStats struct {
	Received  int64 // messages accepted by Post
	Processed int64 // responses produced
	Failed    int64 // responses with Success == false
	Panics    int64 // handler panics, each one faults the instance
	Active    int64 // handlers currently running
	Skipped   int64 // messages whose request had already settled when read
}

// Unit is the isolated execution unit behind an Instance. It owns a single goroutine that reads
// the inbox and runs the handler for every message, at most concurrency at a time. The only way
// in is Post and the only way out is the deliver callback.
type Unit struct {
	workerType  types.WorkerType
	handler     Handler
	inbox       chan ops.Message
	concurrency int
	clock       types.Clock
	logger      *zap.Logger

	deliver func(ops.Response)
	fault   func(error)
	live    func(id string) bool

	ctx       context.Context
	cancel    context.CancelFunc
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	received  int64
	processed int64
	failed    int64
	panics    int64
	active    int64
	skipped   int64
	stopped   int32
}

// NewUnit creates an execution unit; it does nothing until Start
func NewUnit(wt types.WorkerType, handler Handler, cfg Config) *Unit {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Unit{
		workerType:  wt,
		handler:     handler,
		inbox:       make(chan ops.Message, cfg.InboxSize),
		concurrency: cfg.UnitConcurrency,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With(zap.String("worker_type", wt.String())),
		ctx:         ctx,
		cancel:      cancel,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start wires the callbacks and launches the unit goroutine. When live is not nil, messages
// it reports as settled are skipped instead of handled.
func (u *Unit) Start(deliver func(ops.Response), fault func(error), live func(id string) bool) {
	u.startOnce.Do(func() {
		u.deliver = deliver
		u.fault = fault
		u.live = live
		go u.run()
	})
}

// Post hands a message to the unit without blocking. It fails with types.ErrUnitStopped once
// the unit has been stopped and with ErrInboxFull when the inbox has no room.
func (u *Unit) Post(msg ops.Message) error {
	select {
	case <-u.quit:
		return types.ErrUnitStopped
	default:
	}

	select {
	case u.inbox <- msg:
		atomic.AddInt64(&u.received, 1)
		return nil
	default:
		return ErrInboxFull
	}
}

// Stop cancels running handlers and stops accepting messages. It does not wait; use Done.
func (u *Unit) Stop() {
	u.stopOnce.Do(func() {
		atomic.StoreInt32(&u.stopped, 1)
		close(u.quit)
		u.cancel()
	})
}

// Done is closed once the unit goroutine and every handler it started have returned
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// State returns the current unit state
func (u *Unit) State() UnitState {
	if atomic.LoadInt32(&u.stopped) == 1 {
		return UnitStateStopped
	}
	if atomic.LoadInt64(&u.active) > 0 {
		return UnitStateWorking
	}
	return UnitStateIdle
}

// Stats returns a snapshot of unit statistics
func (u *Unit) Stats() UnitStats {
	return UnitStats{
		Received:  atomic.LoadInt64(&u.received),
		Processed: atomic.LoadInt64(&u.processed),
		Failed:    atomic.LoadInt64(&u.failed),
		Panics:    atomic.LoadInt64(&u.panics),
		Active:    atomic.LoadInt64(&u.active),
		Skipped:   atomic.LoadInt64(&u.skipped),
	}
}

func (u *Unit) run() {
	defer close(u.done)

	g := new(errgroup.Group)
	g.SetLimit(u.concurrency)

	for {
		select {
		case <-u.quit:
			u.shutdown(g)
			return
		default:
		}

		select {
		case <-u.quit:
			u.shutdown(g)
			return
		case msg := <-u.inbox:
			if u.live != nil && !u.live(msg.ID) {
				atomic.AddInt64(&u.skipped, 1)
				continue
			}
			g.Go(func() error {
				u.execute(msg)
				return nil
			})
		}
	}
}

func (u *Unit) shutdown(g *errgroup.Group) {
	_ = g.Wait()
	if c, ok := u.handler.(Closer); ok {
		if err := c.Close(); err != nil {
			u.logger.Warn("closing handler", zap.Error(err))
		}
	}
}

func (u *Unit) execute(msg ops.Message) {
	atomic.AddInt64(&u.active, 1)
	defer atomic.AddInt64(&u.active, -1)

	op := msg.Request.Operation()
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&u.panics, 1)
			u.logger.Error("handler panic",
				zap.String("request_id", msg.ID),
				zap.String("operation", string(op)),
				zap.Any("panic", r))
			u.fault(fmt.Errorf("panic handling %s request %s: %v", op, msg.ID, r))
		}
	}()

	start := u.clock.Now()
	result, err := u.invoke(msg.Request)

	select {
	case <-u.quit:
		return
	default:
	}

	resp := ops.Response{
		ID:      msg.ID,
		Metrics: &types.ExecMetrics{Duration: u.clock.Since(start)},
	}
	if err != nil {
		atomic.AddInt64(&u.failed, 1)
		resp.Error, resp.ErrorCode = describe(err)
	} else {
		resp.Success = true
		resp.Result = result
		resp.Metrics.MemoryUsed = uint64(ops.PayloadSize(result))
	}

	atomic.AddInt64(&u.processed, 1)
	u.deliver(resp)
}

func (u *Unit) invoke(req ops.Request) (ops.Result, error) {
	if req.Operation() != types.OpPing {
		return u.handler.Handle(u.ctx, req)
	}
	if p, ok := u.handler.(Pinger); ok {
		if err := p.Ping(u.ctx); err != nil {
			return nil, err
		}
	}
	return ops.Pong{}, nil
}

func describe(err error) (msg, code string) {
	opErr := types.AsOperationError(err)
	return opErr.Message, opErr.Code
}
