package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

// DefaultInitRetryDelay is the first delay of the default InitializeWithRetry policy
const DefaultInitRetryDelay = 100 * time.Millisecond

// Config configures an Orchestrator
type Config struct {
	// MaxBusyCount bounds in-flight requests per worker type
	MaxBusyCount int

	// UnitConcurrency bounds handlers running at once inside one unit; 0 means MaxBusyCount
	UnitConcurrency int

	// InboxSize is the unit inbox buffer; 0 means 4*MaxBusyCount
	InboxSize int

	// InitProbeTimeout bounds the probe that completes Initialize
	InitProbeTimeout time.Duration

	// HealthCheckInterval is the health monitor tick
	HealthCheckInterval time.Duration

	// ProbeTimeout, ProbeRetries and ProbeRetryDelay configure health probes
	ProbeTimeout    time.Duration
	ProbeRetries    int
	ProbeRetryDelay time.Duration

	// FileProcessingThreshold is the payload size from which a file-processing worker is
	// started on demand
	FileProcessingThreshold int

	// AutoRestartUnhealthy lets AutoInitialize replace unhealthy instances. When false only
	// Initialize and Restart do.
	AutoRestartUnhealthy bool

	// ShutdownTimeout bounds how long Close waits for each unit to stop
	ShutdownTimeout time.Duration

	// DefaultSend is used by Send when the caller passes no SendConfig
	DefaultSend *worker.SendConfig

	Clock   types.Clock
	Logger  *zap.Logger
	Metrics MetricsCollector
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{
		MaxBusyCount:            worker.DefaultMaxBusyCount,
		InitProbeTimeout:        5 * time.Second,
		HealthCheckInterval:     60 * time.Second,
		ProbeTimeout:            5 * time.Second,
		ProbeRetries:            1,
		ProbeRetryDelay:         time.Second,
		FileProcessingThreshold: 1 << 20,
		ShutdownTimeout:         5 * time.Second,
		DefaultSend:             worker.DefaultSendConfig(),
		Clock:                   types.NewRealClock(),
		Logger:                  zap.NewNop(),
		Metrics:                 NewNoopMetricsCollector(),
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c *Config) withDefaults() Config {
	d := DefaultConfig()
	if c == nil {
		return *d
	}
	out := *c
	if out.MaxBusyCount <= 0 {
		out.MaxBusyCount = d.MaxBusyCount
	}
	if out.InitProbeTimeout <= 0 {
		out.InitProbeTimeout = d.InitProbeTimeout
	}
	if out.HealthCheckInterval <= 0 {
		out.HealthCheckInterval = d.HealthCheckInterval
	}
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = d.ProbeTimeout
	}
	if out.ProbeRetries < 0 {
		out.ProbeRetries = 0
	}
	if out.ProbeRetryDelay < 0 {
		out.ProbeRetryDelay = 0
	}
	if out.FileProcessingThreshold < 0 {
		out.FileProcessingThreshold = 0
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	out.Clock = types.OrRealClock(out.Clock)
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	if out.Metrics == nil {
		out.Metrics = d.Metrics
	}
	return out
}

func (c *Config) workerConfig() worker.Config {
	return worker.Config{
		MaxBusyCount:    c.MaxBusyCount,
		UnitConcurrency: c.UnitConcurrency,
		InboxSize:       c.InboxSize,
		Clock:           c.Clock,
		Logger:          c.Logger,
		Observer:        c.Metrics,
	}
}
