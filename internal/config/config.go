// Package config loads vaultworker configuration from a YAML file and VAULTWORKER_* environment
// variables and turns it into orchestrator and adapter settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jzx17/vaultworker/pkg/adapters"
	"github.com/jzx17/vaultworker/pkg/orchestrator"
	"github.com/jzx17/vaultworker/pkg/retry"
	"github.com/jzx17/vaultworker/pkg/worker"
)

// EnvPrefix prefixes every environment override, e.g. VAULTWORKER_SEND_TIMEOUT=10s
const EnvPrefix = "VAULTWORKER"

// Config holds the vaultworker configuration
type Config struct {
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Send         SendConfig         `mapstructure:"send" yaml:"send"`
	Adapters     AdaptersConfig     `mapstructure:"adapters" yaml:"adapters"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// OrchestratorConfig mirrors orchestrator.Config
type OrchestratorConfig struct {
	MaxBusyCount            int           `mapstructure:"max_busy_count" yaml:"max_busy_count"`
	UnitConcurrency         int           `mapstructure:"unit_concurrency" yaml:"unit_concurrency"`
	InboxSize               int           `mapstructure:"inbox_size" yaml:"inbox_size"`
	InitProbeTimeout        time.Duration `mapstructure:"init_probe_timeout" yaml:"init_probe_timeout"`
	HealthCheckInterval     time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval"`
	ProbeTimeout            time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	ProbeRetries            int           `mapstructure:"probe_retries" yaml:"probe_retries"`
	ProbeRetryDelay         time.Duration `mapstructure:"probe_retry_delay" yaml:"probe_retry_delay"`
	FileProcessingThreshold int           `mapstructure:"file_processing_threshold" yaml:"file_processing_threshold"`
	AutoRestartUnhealthy    bool          `mapstructure:"auto_restart_unhealthy" yaml:"auto_restart_unhealthy"`
	ShutdownTimeout         time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SendConfig holds the default timeout and retry budget of worker requests
type SendConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// Backoff is "fixed" or "exponential"
	Backoff       string        `mapstructure:"backoff" yaml:"backoff"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay"`
}

// AdaptersConfig holds the routing heuristics of the consumer adapters
type AdaptersConfig struct {
	EncryptionThreshold  int           `mapstructure:"encryption_threshold" yaml:"encryption_threshold"`
	SearchThreshold      int           `mapstructure:"search_threshold" yaml:"search_threshold"`
	FileThreshold        int           `mapstructure:"file_threshold" yaml:"file_threshold"`
	QueryCacheTTL        time.Duration `mapstructure:"query_cache_ttl" yaml:"query_cache_ttl"`
	QueryCacheSize       uint64        `mapstructure:"query_cache_size" yaml:"query_cache_size"`
	FallbackWarnInterval time.Duration `mapstructure:"fallback_warn_interval" yaml:"fallback_warn_interval"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Listen    string `mapstructure:"listen" yaml:"listen"`
}

func setDefaults(v *viper.Viper) {
	o := orchestrator.DefaultConfig()
	s := worker.DefaultSendConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("orchestrator.max_busy_count", o.MaxBusyCount)
	v.SetDefault("orchestrator.unit_concurrency", 0)
	v.SetDefault("orchestrator.inbox_size", 0)
	v.SetDefault("orchestrator.init_probe_timeout", o.InitProbeTimeout)
	v.SetDefault("orchestrator.health_check_interval", o.HealthCheckInterval)
	v.SetDefault("orchestrator.probe_timeout", o.ProbeTimeout)
	v.SetDefault("orchestrator.probe_retries", o.ProbeRetries)
	v.SetDefault("orchestrator.probe_retry_delay", o.ProbeRetryDelay)
	v.SetDefault("orchestrator.file_processing_threshold", o.FileProcessingThreshold)
	v.SetDefault("orchestrator.auto_restart_unhealthy", o.AutoRestartUnhealthy)
	v.SetDefault("orchestrator.shutdown_timeout", o.ShutdownTimeout)

	v.SetDefault("send.timeout", s.Timeout)
	v.SetDefault("send.max_retries", s.MaxRetries)
	v.SetDefault("send.retry_delay", s.RetryDelay)
	v.SetDefault("send.backoff", "fixed")
	v.SetDefault("send.max_retry_delay", 30*time.Second)

	v.SetDefault("adapters.encryption_threshold", adapters.DefaultEncryptionThreshold)
	v.SetDefault("adapters.search_threshold", adapters.DefaultSearchThreshold)
	v.SetDefault("adapters.file_threshold", adapters.DefaultFileThreshold)
	v.SetDefault("adapters.query_cache_ttl", 30*time.Second)
	v.SetDefault("adapters.query_cache_size", 256)
	v.SetDefault("adapters.fallback_warn_interval", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "vaultworker")
	v.SetDefault("metrics.listen", "127.0.0.1:9464")
}

// Load reads path, or vaultworker.yaml from the working directory and $HOME/.vaultworker when
// path is empty, and applies environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("vaultworker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.vaultworker")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var err error
	o := c.Orchestrator
	if o.MaxBusyCount <= 0 {
		err = multierr.Append(err, fmt.Errorf("orchestrator.max_busy_count must be positive, got %d", o.MaxBusyCount))
	}
	if o.HealthCheckInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("orchestrator.health_check_interval must be positive, got %s", o.HealthCheckInterval))
	}
	if o.ProbeRetries < 0 {
		err = multierr.Append(err, fmt.Errorf("orchestrator.probe_retries must not be negative, got %d", o.ProbeRetries))
	}
	if c.Send.Timeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("send.timeout must be positive, got %s", c.Send.Timeout))
	}
	if c.Send.MaxRetries < 0 {
		err = multierr.Append(err, fmt.Errorf("send.max_retries must not be negative, got %d", c.Send.MaxRetries))
	}
	switch c.Send.Backoff {
	case "fixed", "exponential":
	default:
		err = multierr.Append(err, fmt.Errorf("send.backoff must be fixed or exponential, got %q", c.Send.Backoff))
	}
	return err
}

// SendConfig returns the default worker request settings
func (c *Config) SendConfig() *worker.SendConfig {
	s := &worker.SendConfig{
		Timeout:    c.Send.Timeout,
		MaxRetries: c.Send.MaxRetries,
		RetryDelay: c.Send.RetryDelay,
	}
	if c.Send.Backoff == "exponential" {
		s.Backoff = retry.NewExponentialBackoff(c.Send.RetryDelay, retry.WithMaxDelay(c.Send.MaxRetryDelay))
	}
	return s
}

// OrchestratorConfig builds the orchestrator configuration. metrics may be nil.
func (c *Config) OrchestratorConfig(logger *zap.Logger, metrics orchestrator.MetricsCollector) *orchestrator.Config {
	o := c.Orchestrator
	return &orchestrator.Config{
		MaxBusyCount:            o.MaxBusyCount,
		UnitConcurrency:         o.UnitConcurrency,
		InboxSize:               o.InboxSize,
		InitProbeTimeout:        o.InitProbeTimeout,
		HealthCheckInterval:     o.HealthCheckInterval,
		ProbeTimeout:            o.ProbeTimeout,
		ProbeRetries:            o.ProbeRetries,
		ProbeRetryDelay:         o.ProbeRetryDelay,
		FileProcessingThreshold: o.FileProcessingThreshold,
		AutoRestartUnhealthy:    o.AutoRestartUnhealthy,
		ShutdownTimeout:         o.ShutdownTimeout,
		DefaultSend:             c.SendConfig(),
		Logger:                  logger,
		Metrics:                 metrics,
	}
}

// AdapterOptions returns the options shared by every adapter plus the threshold of kind, which
// is "encryption", "search" or "files".
func (c *Config) AdapterOptions(kind string, logger *zap.Logger) []adapters.Option {
	a := c.Adapters
	opts := []adapters.Option{
		adapters.WithLogger(logger),
		adapters.WithSendConfig(c.SendConfig()),
		adapters.WithFallbackWarnInterval(a.FallbackWarnInterval),
	}
	switch kind {
	case "encryption":
		opts = append(opts, adapters.WithThreshold(a.EncryptionThreshold))
	case "search":
		opts = append(opts, adapters.WithThreshold(a.SearchThreshold), adapters.WithQueryCache(a.QueryCacheTTL, a.QueryCacheSize))
	case "files":
		opts = append(opts, adapters.WithThreshold(a.FileThreshold))
	}
	return opts
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
