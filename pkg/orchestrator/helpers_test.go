package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/searchindex"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

// stubHandler serves every operation with canned results. While hung it answers nothing,
// pings included.
type stubHandler struct {
	hung atomic.Bool
}

func (h *stubHandler) Handle(ctx context.Context, req ops.Request) (ops.Result, error) {
	if h.hung.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	switch r := req.(type) {
	case ops.Encrypt:
		return ops.Encrypted{}, nil
	case ops.Decrypt:
		if string(r.Key) == "wrong" {
			return nil, types.NewOperationError("DECRYPTION_FAILED", "authentication failed")
		}
		return ops.Decrypted{Plaintext: []byte("secret")}, nil
	case ops.Query:
		return ops.QueryResult{}, nil
	case ops.HashFile:
		return ops.Hashed{Digest: "abc"}, nil
	default:
		return nil, errors.New("unsupported")
	}
}

func (h *stubHandler) Ping(ctx context.Context) error {
	if h.hung.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func stubFactory(h *stubHandler) HandlerFactory {
	return func(types.WorkerType) (worker.Handler, error) {
		return h, nil
	}
}

func newTestOrchestrator(cfg *Config, h *stubHandler) *Orchestrator {
	o := New(cfg)
	for _, wt := range types.AllWorkerTypes() {
		if err := o.Register(wt, stubFactory(h)); err != nil {
			panic(err)
		}
	}
	return o
}

func queryReq() ops.Query {
	return ops.Query{Criteria: searchindex.Criteria{Text: "mail"}}
}

func encryptReq() ops.Encrypt {
	return ops.Encrypt{Plaintext: []byte("secret"), Key: make([]byte, 32)}
}
