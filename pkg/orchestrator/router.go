package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

// Send routes req to the wt worker and returns its handle without waiting for the result.
// A missing instance is started on demand when AutoInitialize allows it. Send fails fast with
// a WorkerUnavailable error, without dispatching, when no healthy instance is available.
func (o *Orchestrator) Send(ctx context.Context, wt types.WorkerType, req ops.Request, cfg *worker.SendConfig) (*worker.Handle, error) {
	if !wt.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownWorkerType, wt)
	}
	if req == nil {
		return nil, errors.New("nil request")
	}
	if !ops.Supports(wt, req.Operation()) {
		return nil, fmt.Errorf("%w: %s does not serve %s", types.ErrUnsupportedOperation, wt, req.Operation())
	}

	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return nil, types.NewWorkerError(types.KindUnavailable, wt, ErrClosed)
	}

	o.AutoInitialize(ctx, wt, ops.PayloadSize(req))
	inst := o.instance(wt)
	if inst == nil || !inst.IsHealthy() {
		return nil, &types.WorkerError{
			Kind:       types.KindUnavailable,
			WorkerType: wt,
			Operation:  req.Operation(),
			Cause:      fmt.Errorf("instance is %s", o.State(wt)),
		}
	}

	if cfg == nil {
		cfg = o.cfg.DefaultSend
	}
	return inst.Send(req, cfg)
}

// Call sends req and waits for a result of type R. When ctx ends first the request is
// cancelled so it stops holding a slot.
func Call[R ops.Result](ctx context.Context, o *Orchestrator, wt types.WorkerType, req ops.Request, cfg *worker.SendConfig) (R, *types.ExecMetrics, error) {
	var zero R
	h, err := o.Send(ctx, wt, req, cfg)
	if err != nil {
		return zero, nil, err
	}
	res, err := worker.Await[R](ctx, h)
	if err != nil && ctx.Err() != nil {
		h.Cancel()
	}
	return res, h.Metrics(), err
}
