package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jzx17/vaultworker/pkg/retry"
	"github.com/jzx17/vaultworker/pkg/types"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Start every worker and serve Prometheus metrics and worker stats",
	Long: `metrics initializes every worker type, runs the health monitor and serves
/metrics (Prometheus) and /stats (JSON) until interrupted.`,
	RunE: runMetrics,
}

func init() {
	metricsCmd.Flags().String("listen", "", "Listen address (default: metrics.listen from config)")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()
	if rt.metrics == nil {
		return errors.New("metrics are disabled in the configuration")
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen == "" {
		listen = rt.cfg.Metrics.Listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := retry.NewExponentialBackoffRetry(3, 200*time.Millisecond, retry.WithRetryCondition(retry.InitializationCondition))
	for _, wt := range types.AllWorkerTypes() {
		if err := rt.orch.InitializeWithRetry(ctx, wt, policy); err != nil {
			return fmt.Errorf("initializing %s worker: %w", wt, err)
		}
	}
	rt.orch.Health().Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rt.orch.Stats()); err != nil {
			rt.logger.Warn("encoding stats", zap.Error(err))
		}
	})
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("serving metrics", zap.String("listen", listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Orchestrator.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
