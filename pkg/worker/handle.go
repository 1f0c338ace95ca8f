package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/types"
)

// Handle is the caller's view of one request. It settles exactly once.
type Handle struct {
	done   chan struct{}
	once   sync.Once
	cancel func()

	mu      sync.Mutex
	id      string
	result  ops.Result
	err     error
	metrics *types.ExecMetrics
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// ID returns the correlation id, or "" while the request is still queued
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

// Done is closed when the request settles
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the request settles or ctx is done. Giving up on ctx does not release
// the request's slot; use Cancel for that.
func (h *Handle) Wait(ctx context.Context) (ops.Result, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Metrics returns the execution metrics reported by the unit, nil until a response arrives
func (h *Handle) Metrics() *types.ExecMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.metrics
}

// Cancel withdraws the request. A queued request leaves the queue; an in-flight request frees
// its slot and any later response is dropped. The handle settles with context.Canceled.
// Cancel after settlement is a no-op.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Handle) setID(id string) {
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
}

// settle records the outcome and runs hook before waking waiters. Only the first call has
// any effect.
func (h *Handle) settle(result ops.Result, err error, metrics *types.ExecMetrics, hook func()) {
	h.once.Do(func() {
		h.mu.Lock()
		h.result, h.err, h.metrics = result, err, metrics
		h.mu.Unlock()
		if hook != nil {
			hook()
		}
		close(h.done)
	})
}

// Await waits on h and asserts the result type
func Await[R ops.Result](ctx context.Context, h *Handle) (R, error) {
	var zero R
	res, err := h.Wait(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected result %T, want %T", types.ErrWorkerFault, res, zero)
	}
	return typed, nil
}
