package orchestrator

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/vaultworker/internal/testutils"
	"github.com/jzx17/vaultworker/pkg/retry"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

func TestOrchestrator_Initialize(t *testing.T) {
	ctx := testutils.Context(t)
	o := newTestOrchestrator(&Config{Logger: testutils.Logger(t)}, &stubHandler{})
	t.Cleanup(func() { require.NoError(t, o.Close()) })

	assert.Equal(t, types.StateUninitialized, o.State(types.WorkerTypeEncryption))
	assert.Empty(t, o.InstanceID(types.WorkerTypeEncryption))

	require.NoError(t, o.Initialize(ctx, types.WorkerTypeEncryption))
	assert.True(t, o.IsHealthy(types.WorkerTypeEncryption))
	assert.Equal(t, types.StateHealthy, o.State(types.WorkerTypeEncryption))

	id := o.InstanceID(types.WorkerTypeEncryption)
	require.NoError(t, o.Initialize(ctx, types.WorkerTypeEncryption))
	assert.Equal(t, id, o.InstanceID(types.WorkerTypeEncryption), "initialize of a healthy worker is a no-op")

	stats := o.Stats()
	require.Contains(t, stats, types.WorkerTypeEncryption)
	assert.Equal(t, int64(1), stats[types.WorkerTypeEncryption].Metrics.Succeeded, "the init probe")
}

func TestOrchestrator_InitializeErrors(t *testing.T) {
	ctx := testutils.Context(t)

	t.Run("unknown type", func(t *testing.T) {
		o := New(nil)
		err := o.Initialize(ctx, types.WorkerType("thumbnail"))
		assert.ErrorIs(t, err, types.ErrUnknownWorkerType)
	})

	t.Run("nothing registered", func(t *testing.T) {
		o := New(nil)
		err := o.Initialize(ctx, types.WorkerTypeSearch)
		assert.ErrorIs(t, err, types.ErrInitialization)
	})

	t.Run("factory fails", func(t *testing.T) {
		o := New(nil)
		require.NoError(t, o.Register(types.WorkerTypeSearch, func(types.WorkerType) (worker.Handler, error) {
			return nil, errors.New("index file missing")
		}))
		err := o.Initialize(ctx, types.WorkerTypeSearch)
		assert.ErrorIs(t, err, types.ErrInitialization)
		assert.Contains(t, err.Error(), "index file missing")
	})

	t.Run("probe times out", func(t *testing.T) {
		h := &stubHandler{}
		h.hung.Store(true)
		o := newTestOrchestrator(&Config{InitProbeTimeout: 30 * time.Millisecond}, h)
		t.Cleanup(func() { _ = o.Close() })

		err := o.Initialize(ctx, types.WorkerTypeSearch)
		require.ErrorIs(t, err, types.ErrInitialization)
		assert.ErrorIs(t, err, types.ErrTimeout)
		assert.False(t, o.IsHealthy(types.WorkerTypeSearch))
		assert.Equal(t, types.StateTerminated, o.State(types.WorkerTypeSearch))
	})
}

func TestOrchestrator_InitializeIsSingleFlight(t *testing.T) {
	ctx := testutils.Context(t)
	var created atomic.Int32
	release := make(chan struct{})
	o := New(nil)
	t.Cleanup(func() { _ = o.Close() })
	require.NoError(t, o.Register(types.WorkerTypeEncryption, func(types.WorkerType) (worker.Handler, error) {
		created.Add(1)
		<-release
		return &stubHandler{}, nil
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- o.Initialize(ctx, types.WorkerTypeEncryption)
		}()
	}
	assert.Eventually(t, func() bool { return created.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), created.Load())
}

func TestOrchestrator_InitializeWithRetry(t *testing.T) {
	ctx := testutils.Context(t)
	var attempts atomic.Int32
	o := New(nil)
	t.Cleanup(func() { _ = o.Close() })
	require.NoError(t, o.Register(types.WorkerTypeSearch, func(types.WorkerType) (worker.Handler, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("not yet")
		}
		return &stubHandler{}, nil
	}))

	policy := retry.NewFixedDelayRetry(5, time.Millisecond, retry.WithRetryCondition(retry.InitializationCondition))
	require.NoError(t, o.InitializeWithRetry(ctx, types.WorkerTypeSearch, policy))
	assert.Equal(t, int32(3), attempts.Load())
	assert.True(t, o.IsHealthy(types.WorkerTypeSearch))

	t.Run("gives up", func(t *testing.T) {
		o := New(nil)
		err := o.InitializeWithRetry(ctx, types.WorkerTypeFileProcessing,
			retry.NewFixedDelayRetry(2, time.Millisecond, retry.WithRetryCondition(retry.InitializationCondition)))
		assert.ErrorIs(t, err, types.ErrInitialization)
	})
}

func TestOrchestrator_TerminateAndRestart(t *testing.T) {
	ctx := testutils.Context(t)
	h := &stubHandler{}
	o := newTestOrchestrator(nil, h)
	t.Cleanup(func() { _ = o.Close() })

	require.NoError(t, o.Terminate(types.WorkerTypeSearch), "terminating an absent worker is a no-op")
	assert.ErrorIs(t, o.Terminate(types.WorkerType("x")), types.ErrUnknownWorkerType)

	require.NoError(t, o.Initialize(ctx, types.WorkerTypeSearch))
	first := o.InstanceID(types.WorkerTypeSearch)

	h.hung.Store(true)
	handle, err := o.Send(ctx, types.WorkerTypeSearch, queryReq(), nil)
	require.NoError(t, err)

	require.NoError(t, o.Terminate(types.WorkerTypeSearch))
	require.NoError(t, o.Terminate(types.WorkerTypeSearch))
	_, err = handle.Wait(ctx)
	assert.ErrorIs(t, err, types.ErrTerminated)
	assert.Equal(t, types.StateTerminated, o.State(types.WorkerTypeSearch))

	h.hung.Store(false)
	require.NoError(t, o.Restart(ctx, types.WorkerTypeSearch))
	assert.True(t, o.IsHealthy(types.WorkerTypeSearch))
	assert.NotEqual(t, first, o.InstanceID(types.WorkerTypeSearch))
}

func TestOrchestrator_AutoInitialize(t *testing.T) {
	ctx := testutils.Context(t)

	t.Run("heuristics", func(t *testing.T) {
		o := newTestOrchestrator(&Config{FileProcessingThreshold: 1024}, &stubHandler{})
		t.Cleanup(func() { _ = o.Close() })

		assert.True(t, o.AutoInitialize(ctx, types.WorkerTypeEncryption, 1))
		assert.True(t, o.AutoInitialize(ctx, types.WorkerTypeSearch, 0))
		assert.False(t, o.AutoInitialize(ctx, types.WorkerTypeFileProcessing, 1023))
		assert.Equal(t, types.StateUninitialized, o.State(types.WorkerTypeFileProcessing))
		assert.True(t, o.AutoInitialize(ctx, types.WorkerTypeFileProcessing, 1024))
		assert.False(t, o.AutoInitialize(ctx, types.WorkerType("x"), 1))
	})

	t.Run("terminated worker is recreated", func(t *testing.T) {
		o := newTestOrchestrator(nil, &stubHandler{})
		t.Cleanup(func() { _ = o.Close() })
		require.NoError(t, o.Initialize(ctx, types.WorkerTypeEncryption))
		first := o.InstanceID(types.WorkerTypeEncryption)
		require.NoError(t, o.Terminate(types.WorkerTypeEncryption))

		assert.True(t, o.AutoInitialize(ctx, types.WorkerTypeEncryption, 0))
		assert.NotEqual(t, first, o.InstanceID(types.WorkerTypeEncryption))
	})

	t.Run("unhealthy worker", func(t *testing.T) {
		for _, restart := range []bool{false, true} {
			o := newTestOrchestrator(&Config{AutoRestartUnhealthy: restart}, &stubHandler{})
			require.NoError(t, o.Initialize(ctx, types.WorkerTypeEncryption))
			first := o.InstanceID(types.WorkerTypeEncryption)
			o.instance(types.WorkerTypeEncryption).Fault(errors.New("crashed"))

			assert.Equal(t, restart, o.AutoInitialize(ctx, types.WorkerTypeEncryption, 0))
			assert.Equal(t, restart, first != o.InstanceID(types.WorkerTypeEncryption))
			require.NoError(t, o.Close())
		}
	})
}

func TestOrchestrator_Close(t *testing.T) {
	ctx := testutils.Context(t)
	o := newTestOrchestrator(nil, &stubHandler{})
	require.NoError(t, o.Initialize(ctx, types.WorkerTypeEncryption))
	require.NoError(t, o.Initialize(ctx, types.WorkerTypeSearch))
	o.Health().Start()

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	assert.Equal(t, types.StateTerminated, o.State(types.WorkerTypeEncryption))
	assert.Equal(t, types.StateTerminated, o.State(types.WorkerTypeSearch))

	_, err := o.Send(ctx, types.WorkerTypeEncryption, encryptReq(), nil)
	assert.ErrorIs(t, err, types.ErrWorkerUnavailable)
	assert.ErrorIs(t, o.Initialize(ctx, types.WorkerTypeEncryption), ErrClosed)
}
