// Command vaultworker runs the worker orchestration layer on its reference collaborators. It
// can run a demo workload, print the effective configuration and serve Prometheus metrics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jzx17/vaultworker/internal/config"
	"github.com/jzx17/vaultworker/internal/logging"
	"github.com/jzx17/vaultworker/pkg/adapters"
	"github.com/jzx17/vaultworker/pkg/filecodec"
	"github.com/jzx17/vaultworker/pkg/orchestrator"
	"github.com/jzx17/vaultworker/pkg/vaultcrypto"
)

var rootCmd = &cobra.Command{
	Use:   "vaultworker",
	Short: "Worker orchestration for vault crypto, search and attachments",
	Long: `vaultworker routes encryption, search and file operations to background workers,
with admission control, retries, health monitoring and local fallback.

Configuration is read from vaultworker.yaml (or --config) and VAULTWORKER_* environment
variables, e.g. VAULTWORKER_SEND_TIMEOUT=10s.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ./vaultworker.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")

	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(metricsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is everything a command needs to talk to workers
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *orchestrator.PrometheusMetricsCollector
	orch    *orchestrator.Orchestrator

	encryption *adapters.EncryptionAdapter
	search     *adapters.SearchAdapter
	files      *adapters.FileAdapter
}

func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newRuntime(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg, logger: logger}
	var collector orchestrator.MetricsCollector
	if cfg.Metrics.Enabled {
		rt.metrics = orchestrator.NewPrometheusMetricsCollector(cfg.Metrics.Namespace)
		collector = rt.metrics
	}

	rt.orch = orchestrator.New(cfg.OrchestratorConfig(logger, collector))
	cipher := vaultcrypto.New()
	codec := filecodec.New()
	if err := adapters.RegisterHandlers(rt.orch, adapters.Collaborators{Crypto: cipher, Codec: codec}); err != nil {
		return nil, fmt.Errorf("registering handlers: %w", err)
	}

	rt.encryption = adapters.NewEncryptionAdapter(rt.orch, cipher, cfg.AdapterOptions("encryption", logger)...)
	rt.search = adapters.NewSearchAdapter(rt.orch, searchIndex(), cfg.AdapterOptions("search", logger)...)
	rt.files = adapters.NewFileAdapter(rt.orch, codec, cfg.AdapterOptions("files", logger)...)
	return rt, nil
}

func (rt *app) close() {
	if err := rt.orch.Close(); err != nil {
		rt.logger.Warn("shutdown", zap.Error(err))
	}
	_ = rt.logger.Sync()
}
