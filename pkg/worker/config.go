package worker

import (
	"time"

	"go.uber.org/zap"

	"github.com/jzx17/vaultworker/pkg/retry"
	"github.com/jzx17/vaultworker/pkg/types"
)

// DefaultMaxBusyCount is the default number of in-flight requests per instance
const DefaultMaxBusyCount = 10

// Config configures an Instance and its execution unit
type Config struct {
	// MaxBusyCount bounds in-flight requests; excess requests are queued by priority
	MaxBusyCount int

	// UnitConcurrency bounds handlers running at once inside the unit; defaults to MaxBusyCount
	UnitConcurrency int

	// InboxSize is the unit inbox buffer; defaults to 4*MaxBusyCount to absorb retransmissions
	InboxSize int

	// Clock drives timeouts and retry delays
	Clock types.Clock

	// Logger receives lifecycle and request logs
	Logger *zap.Logger

	// Observer receives request metrics
	Observer Observer
}

// DefaultConfig returns the default instance configuration
func DefaultConfig() Config {
	return Config{
		MaxBusyCount: DefaultMaxBusyCount,
		Clock:        types.NewRealClock(),
		Logger:       zap.NewNop(),
		Observer:     NoopObserver{},
	}
}

func (c Config) withDefaults() Config {
	if c.MaxBusyCount <= 0 {
		c.MaxBusyCount = DefaultMaxBusyCount
	}
	if c.UnitConcurrency <= 0 {
		c.UnitConcurrency = c.MaxBusyCount
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 4 * c.MaxBusyCount
	}
	c.Clock = types.OrRealClock(c.Clock)
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Observer == nil {
		c.Observer = NoopObserver{}
	}
	return c
}

// Send defaults
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// SendConfig controls timeout, retransmission and queueing of one request
type SendConfig struct {
	// Timeout is how long to wait for a response to each transmission
	Timeout time.Duration

	// MaxRetries is the number of retransmissions after the first timeout
	MaxRetries int

	// RetryDelay is the wait between a timeout and the retransmission
	RetryDelay time.Duration

	// Priority orders the request while queued
	Priority types.Priority

	// Backoff overrides RetryDelay when set; it receives the 1-based retry number
	Backoff retry.BackoffStrategy
}

// DefaultSendConfig returns 30s timeout, 3 retries, 1s retry delay, normal priority
func DefaultSendConfig() *SendConfig {
	return &SendConfig{
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Priority:   types.PriorityNormal,
	}
}

// normalize returns a copy of cfg with defaults applied; a nil cfg means DefaultSendConfig
func (c *SendConfig) normalize() SendConfig {
	if c == nil {
		return *DefaultSendConfig()
	}
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryDelay < 0 {
		out.RetryDelay = 0
	}
	return out
}

func (c *SendConfig) retryDelay(attempt int) time.Duration {
	if c.Backoff != nil {
		return c.Backoff.NextDelay(attempt)
	}
	return c.RetryDelay
}
