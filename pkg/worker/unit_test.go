package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/types"
)

type closingHandler struct {
	echoHandler
	closed chan struct{}
}

func (h closingHandler) Close() error {
	close(h.closed)
	return nil
}

func TestUnit_ProcessesMessages(t *testing.T) {
	handler := closingHandler{closed: make(chan struct{})}
	unit := NewUnit(types.WorkerTypeFileProcessing, handler, DefaultConfig())

	var mu sync.Mutex
	var responses []ops.Response
	unit.Start(func(r ops.Response) {
		mu.Lock()
		defer mu.Unlock()
		responses = append(responses, r)
	}, func(err error) { t.Errorf("unexpected fault: %v", err) }, nil)

	require.NoError(t, unit.Post(ops.Message{ID: "1", Request: hashReq(1)}))
	require.NoError(t, unit.Post(ops.Message{ID: "2", Request: ops.Ping{}}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(responses) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	for _, r := range responses {
		assert.True(t, r.Success)
		assert.NotNil(t, r.Metrics)
	}
	mu.Unlock()

	stats := unit.Stats()
	assert.Equal(t, int64(2), stats.Received)
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)

	unit.Stop()
	unit.Stop()
	assert.ErrorIs(t, unit.Post(ops.Message{ID: "3", Request: hashReq(3)}), types.ErrUnitStopped)

	select {
	case <-handler.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not closed")
	}
	<-unit.Done()
	assert.Equal(t, UnitStateStopped, unit.State())
}

func TestUnit_InboxFull(t *testing.T) {
	unit := NewUnit(types.WorkerTypeFileProcessing, echoHandler{}, Config{InboxSize: 1})
	// not started: nothing drains the inbox
	require.NoError(t, unit.Post(ops.Message{ID: "1", Request: hashReq(1)}))
	assert.ErrorIs(t, unit.Post(ops.Message{ID: "2", Request: hashReq(2)}), ErrInboxFull)
}

func TestUnit_SkipsSettledMessages(t *testing.T) {
	unit := NewUnit(types.WorkerTypeFileProcessing, echoHandler{}, DefaultConfig())
	t.Cleanup(unit.Stop)
	require.NoError(t, unit.Post(ops.Message{ID: "1", Request: hashReq(1)}))
	require.NoError(t, unit.Post(ops.Message{ID: "2", Request: hashReq(2)}))

	delivered := make(chan string, 2)
	unit.Start(func(r ops.Response) { delivered <- r.ID }, func(err error) { t.Errorf("unexpected fault: %v", err) },
		func(id string) bool { return id != "1" })

	select {
	case id := <-delivered:
		assert.Equal(t, "2", id)
	case <-time.After(2 * time.Second):
		t.Fatal("live message not handled")
	}
	assert.Eventually(t, func() bool { return unit.Stats().Skipped == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), unit.Stats().Processed)
	assert.Empty(t, delivered)
}

func TestUnit_PanicFaults(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, req ops.Request) (ops.Result, error) {
		panic("boom")
	})
	unit := NewUnit(types.WorkerTypeSearch, handler, DefaultConfig())
	t.Cleanup(unit.Stop)

	faults := make(chan error, 1)
	unit.Start(func(ops.Response) { t.Error("no response expected") }, func(err error) { faults <- err }, nil)
	require.NoError(t, unit.Post(ops.Message{ID: "1", Request: ops.Query{}}))

	select {
	case err := <-faults:
		assert.Contains(t, err.Error(), "boom")
		assert.Contains(t, err.Error(), "query request 1")
	case <-time.After(2 * time.Second):
		t.Fatal("fault not reported")
	}
	assert.Equal(t, int64(1), unit.Stats().Panics)
}

func TestUnit_ConcurrencyLimit(t *testing.T) {
	gate := newGateHandler()
	unit := NewUnit(types.WorkerTypeFileProcessing, gate, Config{UnitConcurrency: 2})
	t.Cleanup(unit.Stop)
	unit.Start(func(ops.Response) {}, func(error) {}, nil)

	for n := 0; n < 3; n++ {
		require.NoError(t, unit.Post(ops.Message{ID: "x", Request: hashReq(n)}))
	}
	gate.next(t)
	gate.next(t)
	select {
	case <-gate.started:
		t.Fatal("third handler started above the concurrency limit")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, UnitStateWorking, unit.State())
	assert.Equal(t, int64(2), unit.Stats().Active)

	gate.releaseOne(t)
	gate.next(t)
}
