package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/vaultworker/internal/testutils"
	"github.com/jzx17/vaultworker/pkg/types"
)

func TestExecute(t *testing.T) {
	initErr := types.NewWorkerError(types.KindInitialization, types.WorkerTypeSearch, errors.New("probe timed out"))

	t.Run("succeeds after failures", func(t *testing.T) {
		executor := NewRetryExecutor(NewFixedDelayRetry(3, time.Millisecond), WithLogger(testutils.Logger(t)))
		calls := 0
		got, err := Execute(executor, context.Background(), "init", func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, initErr
			}
			return 42, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, calls)

		stats := executor.GetStats()
		assert.Equal(t, int64(3), stats.TotalAttempts)
		assert.Equal(t, int64(2), stats.TotalRetries)
		assert.Equal(t, int64(1), stats.TotalSuccesses)
		assert.Equal(t, 2*time.Millisecond, stats.TotalRetryDelay)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		executor := NewRetryExecutor(NewFixedDelayRetry(2, time.Millisecond))
		calls := 0
		err := Do(executor, context.Background(), "init", func(ctx context.Context) error {
			calls++
			return initErr
		})

		assert.ErrorIs(t, err, types.ErrInitialization)
		assert.Contains(t, err.Error(), "after 2 attempts")
		assert.Equal(t, 2, calls)
		assert.Equal(t, int64(1), executor.GetStats().TotalFailures)
	})

	t.Run("operation error is not retried", func(t *testing.T) {
		executor := NewRetryExecutor(NewFixedDelayRetry(5, time.Millisecond))
		opErr := types.NewOperationError("DECRYPTION_FAILED", "wrong key")
		calls := 0
		err := Do(executor, context.Background(), "decrypt", func(ctx context.Context) error {
			calls++
			return opErr
		})

		assert.Same(t, opErr, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancelled while waiting", func(t *testing.T) {
		executor := NewRetryExecutor(NewFixedDelayRetry(5, time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		err := Do(executor, ctx, "init", func(ctx context.Context) error {
			cancel()
			return initErr
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
