// Package retry provides backoff algorithm implementations
package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the delay before retransmission or re-initialization attempt n
type BackoffStrategy interface {
	// NextDelay calculates the delay for the given 1-based retry attempt
	NextDelay(attempt int) time.Duration
}

// BackoffFunc adapts a plain function to BackoffStrategy
type BackoffFunc func(attempt int) time.Duration

// NextDelay calls f
func (f BackoffFunc) NextDelay(attempt int) time.Duration {
	return f(attempt)
}

// FixedBackoff waits the same delay before every attempt
type FixedBackoff struct {
	delay  time.Duration
	jitter JitterFunc
}

// NewFixedBackoff creates a fixed backoff strategy
func NewFixedBackoff(delay time.Duration, opts ...BackoffOption) *FixedBackoff {
	o := applyBackoffOptions(opts)
	return &FixedBackoff{
		delay:  delay,
		jitter: o.jitter,
	}
}

// NextDelay returns the fixed delay, jittered if configured
func (b *FixedBackoff) NextDelay(attempt int) time.Duration {
	if b.jitter != nil {
		return b.jitter(b.delay)
	}
	return b.delay
}

// ExponentialBackoff multiplies the delay on every attempt up to a cap
type ExponentialBackoff struct {
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
	jitter       JitterFunc
}

// NewExponentialBackoff creates an exponential backoff strategy. The default multiplier is 2
// and the default cap is 30s.
func NewExponentialBackoff(initialDelay time.Duration, opts ...BackoffOption) *ExponentialBackoff {
	o := applyBackoffOptions(opts)
	b := &ExponentialBackoff{
		initialDelay: initialDelay,
		multiplier:   2.0,
		maxDelay:     30 * time.Second,
		jitter:       o.jitter,
	}
	if o.multiplier != nil {
		b.multiplier = *o.multiplier
	}
	if o.maxDelay != nil {
		b.maxDelay = *o.maxDelay
	}
	return b
}

// NextDelay calculates the delay for the next retry
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	delay := time.Duration(float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt-1)))
	if delay > b.maxDelay || delay < 0 {
		delay = b.maxDelay
	}

	if b.jitter != nil {
		delay = b.jitter(delay)
	}
	return delay
}

// JitterFunc perturbs a delay to avoid synchronized retries
type JitterFunc func(time.Duration) time.Duration

// FullJitter returns a random delay in [0, delay)
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)))
}

// EqualJitter returns delay/2 + random(0, delay/2)
func EqualJitter(delay time.Duration) time.Duration {
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}

// BackoffOption configures a backoff strategy
type BackoffOption func(*backoffOptions)

type backoffOptions struct {
	multiplier *float64
	maxDelay   *time.Duration
	jitter     JitterFunc
}

func applyBackoffOptions(opts []BackoffOption) backoffOptions {
	var o backoffOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMultiplier sets the growth factor of exponential backoff
func WithMultiplier(multiplier float64) BackoffOption {
	return func(o *backoffOptions) {
		o.multiplier = &multiplier
	}
}

// WithMaxDelay caps the delay of exponential backoff
func WithMaxDelay(maxDelay time.Duration) BackoffOption {
	return func(o *backoffOptions) {
		o.maxDelay = &maxDelay
	}
}

// WithJitter sets the jitter function
func WithJitter(jitter JitterFunc) BackoffOption {
	return func(o *backoffOptions) {
		o.jitter = jitter
	}
}
