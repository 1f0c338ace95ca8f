package worker

import (
	"context"

	"github.com/jzx17/vaultworker/pkg/ops"
)

// Handler executes requests inside an execution unit. Returning an *types.OperationError
// reports an authoritative operation failure; any other error is reported with
// types.CodeOperationFailed. A panic faults the whole instance.
type Handler interface {
	Handle(ctx context.Context, req ops.Request) (ops.Result, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, req ops.Request) (ops.Result, error)

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, req ops.Request) (ops.Result, error) {
	return f(ctx, req)
}

// Pinger is implemented by handlers that answer health probes themselves. Handlers without
// it are considered alive whenever their unit is running.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Closer is implemented by handlers that hold resources released when their unit stops
type Closer interface {
	Close() error
}
