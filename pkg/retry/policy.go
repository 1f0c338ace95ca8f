// Package retry provides retry policies
package retry

import (
	"errors"
	"time"

	"github.com/jzx17/vaultworker/pkg/types"
)

// RetryPolicy decides whether and when a failed attempt is retried
type RetryPolicy interface {
	// ShouldRetry determines whether to retry after the given 1-based attempt failed
	ShouldRetry(err error, attempt int) bool

	// NextDelay returns the delay before the next attempt
	NextDelay(attempt int) time.Duration

	// MaxAttempts returns the total number of attempts allowed
	MaxAttempts() int
}

// RetryCondition reports whether an error is worth retrying
type RetryCondition func(error) bool

// Policy combines an attempt budget, a backoff strategy and a retry condition
type Policy struct {
	maxAttempts int
	backoff     BackoffStrategy
	condition   RetryCondition
}

// NewPolicy creates a retry policy. A nil backoff retries immediately.
func NewPolicy(maxAttempts int, backoff BackoffStrategy, opts ...PolicyOption) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	p := &Policy{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		condition:   DefaultRetryCondition,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFixedDelayRetry creates a policy with a fixed delay between attempts
func NewFixedDelayRetry(maxAttempts int, delay time.Duration, opts ...PolicyOption) *Policy {
	return NewPolicy(maxAttempts, NewFixedBackoff(delay), opts...)
}

// NewExponentialBackoffRetry creates a policy with exponential delays between attempts
func NewExponentialBackoffRetry(maxAttempts int, initialDelay time.Duration, opts ...PolicyOption) *Policy {
	return NewPolicy(maxAttempts, NewExponentialBackoff(initialDelay), opts...)
}

// ShouldRetry determines whether to retry
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	return p.condition(err)
}

// NextDelay returns the delay for the next retry
func (p *Policy) NextDelay(attempt int) time.Duration {
	if p.backoff == nil {
		return 0
	}
	return p.backoff.NextDelay(attempt)
}

// MaxAttempts returns the maximum number of attempts
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// PolicyOption is a configuration option for retry policies
type PolicyOption func(*Policy)

// WithRetryCondition sets the retry condition
func WithRetryCondition(condition RetryCondition) PolicyOption {
	return func(p *Policy) {
		if condition != nil {
			p.condition = condition
		}
	}
}

// DefaultRetryCondition retries worker-layer failures and never retries operation errors
// or caller cancellation
func DefaultRetryCondition(err error) bool {
	if err == nil || types.IsOperationError(err) {
		return false
	}
	if errors.Is(err, types.ErrUnknownWorkerType) {
		return false
	}
	return types.IsTransportError(err)
}

// InitializationCondition only retries failed worker start-ups
func InitializationCondition(err error) bool {
	return errors.Is(err, types.ErrInitialization)
}
