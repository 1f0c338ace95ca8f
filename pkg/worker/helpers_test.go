package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/types"
)

// echoHandler answers file requests immediately
type echoHandler struct{}

func (echoHandler) Handle(ctx context.Context, req ops.Request) (ops.Result, error) {
	switch r := req.(type) {
	case ops.HashFile:
		return ops.Hashed{Digest: string(r.Data)}, nil
	case ops.ChunkFile:
		return ops.Chunked{}, nil
	default:
		return nil, fmt.Errorf("unexpected request %T", req)
	}
}

// gateHandler blocks every request until the test releases it
type gateHandler struct {
	started chan ops.Request
	release chan struct{}
}

func newGateHandler() *gateHandler {
	return &gateHandler{
		started: make(chan ops.Request, 100),
		release: make(chan struct{}),
	}
}

func (h *gateHandler) Handle(ctx context.Context, req ops.Request) (ops.Result, error) {
	h.started <- req
	select {
	case <-h.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return echoHandler{}.Handle(ctx, req)
}

// next returns the request the unit started most recently
func (h *gateHandler) next(t *testing.T) ops.Request {
	t.Helper()
	select {
	case req := <-h.started:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request started")
		return nil
	}
}

func (h *gateHandler) releaseOne(t *testing.T) {
	t.Helper()
	select {
	case h.release <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("no request waiting for release")
	}
}

// silentHandler never answers
type silentHandler struct{}

func (silentHandler) Handle(ctx context.Context, req ops.Request) (ops.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (silentHandler) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// recordingObserver counts observer events
type recordingObserver struct {
	mu        sync.Mutex
	queued    int
	retries   int
	faults    int
	completed map[Outcome]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{completed: make(map[Outcome]int)}
}

func (o *recordingObserver) RequestAdmitted(_ types.WorkerType, _ types.Priority, queued bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if queued {
		o.queued++
	}
}

func (o *recordingObserver) RequestRetried(types.WorkerType, types.Operation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *recordingObserver) RequestCompleted(_ types.WorkerType, _ types.Operation, outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed[outcome]++
}

func (o *recordingObserver) InstanceFaulted(types.WorkerType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.faults++
}

func (o *recordingObserver) count(outcome Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completed[outcome]
}

func (o *recordingObserver) snapshot() (queued, retries, faults int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queued, o.retries, o.faults
}

func hashReq(n int) ops.HashFile {
	return ops.HashFile{Data: []byte("n" + strconv.Itoa(n))}
}

func newTestInstance(t *testing.T, h Handler, cfg Config) *Instance {
	t.Helper()
	inst := NewInstance(types.WorkerTypeFileProcessing, h, cfg)
	require.True(t, inst.MarkHealthy())
	t.Cleanup(inst.Terminate)
	return inst
}

func waitSettled(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("request %q did not settle", h.ID())
	}
}
