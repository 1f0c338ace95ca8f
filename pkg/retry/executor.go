// Package retry provides the retry executor
package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jzx17/vaultworker/pkg/types"
)

// RetryExecutor runs a function until it succeeds or the policy gives up
type RetryExecutor struct {
	policy RetryPolicy
	clock  types.Clock
	logger *zap.Logger

	mu    sync.Mutex
	stats RetryStats
}

// ExecuteFunc is the function type to retry
type ExecuteFunc[T any] func(ctx context.Context) (T, error)

// RetryStats contains retry statistics
type RetryStats struct {
	TotalAttempts   int64         // total attempt count
	TotalRetries    int64         // total retry count
	TotalSuccesses  int64         // total success count
	TotalFailures   int64         // total failure count
	TotalRetryDelay time.Duration // total time spent waiting between attempts
	LastRetryTime   time.Time
}

// ExecutorOption is a configuration option for retry executor
type ExecutorOption func(*RetryExecutor)

// WithClock sets the clock used to wait between attempts
func WithClock(clock types.Clock) ExecutorOption {
	return func(r *RetryExecutor) {
		r.clock = types.OrRealClock(clock)
	}
}

// WithLogger sets the logger for retry events
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(r *RetryExecutor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRetryExecutor creates a retry executor
func NewRetryExecutor(policy RetryPolicy, opts ...ExecutorOption) *RetryExecutor {
	r := &RetryExecutor{
		policy: policy,
		clock:  types.NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute executes fn with retry logic
func Execute[T any](r *RetryExecutor, ctx context.Context, name string, fn ExecuteFunc[T]) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		r.update(func(s *RetryStats) { s.TotalAttempts++ })
		result, err := fn(ctx)
		if err == nil {
			r.update(func(s *RetryStats) { s.TotalSuccesses++ })
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.String("name", name), zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if !r.policy.ShouldRetry(err, attempt) {
			r.update(func(s *RetryStats) { s.TotalFailures++ })
			if attempt > 1 {
				return zero, fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
			}
			return zero, err
		}

		delay := r.policy.NextDelay(attempt)
		r.update(func(s *RetryStats) {
			s.TotalRetries++
			s.TotalRetryDelay += delay
			s.LastRetryTime = r.clock.Now()
		})
		r.logger.Warn("attempt failed, retrying",
			zap.String("name", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if delay > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-r.clock.After(delay):
			}
		}
	}
}

// Do executes fn, which only reports an error, with retry logic
func Do(r *RetryExecutor, ctx context.Context, name string, fn func(ctx context.Context) error) error {
	_, err := Execute(r, ctx, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// GetStats gets retry statistics
func (r *RetryExecutor) GetStats() RetryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *RetryExecutor) update(fn func(*RetryStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
}
