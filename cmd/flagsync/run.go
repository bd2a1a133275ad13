package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/dgnsrekt/flagsync/internal/lifecycle"
	"github.com/dgnsrekt/flagsync/internal/telemetry"
)

func runCmd() *cobra.Command {
	var (
		noStreaming    bool
		statusInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Synchronize flags and segments until interrupted",
		Long: `Synchronize feature flag definitions and segment memberships.

Updates are received over the push stream when available; the daemon falls
back to periodic polling while the stream is down.

Signals:
  SIGINT/SIGTERM  stop
  SIGUSR1         pause (background)
  SIGUSR2         resume (foreground)

Examples:
  # Run with the default config file
  flagsync run

  # Poll only, logging cache state every 30 seconds
  flagsync run --no-streaming --status-interval 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			defer logger.Sync()

			if noStreaming {
				cfg.Sync.StreamingEnabled = false
			}

			provider := telemetry.NewNoopProvider()
			var metricsServer *http.Server
			if cfg.Metrics.Address != "" {
				var err error
				provider, err = telemetry.NewPrometheusProvider()
				if err != nil {
					return err
				}
				mux := http.NewServeMux()
				mux.Handle("/metrics", provider.Handler)
				metricsServer = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadTimeout: 10 * time.Second}
				go func() {
					logger.Info("serving metrics", zap.String("addr", metricsServer.Addr))
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
			}

			metrics, err := telemetry.NewSyncMetrics(provider.MeterProvider)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, metrics, clock.RealClock{}, logger)
			if err != nil {
				return err
			}
			a.watchStreaming(cfg.Notify)

			logger.Info("starting",
				zap.Bool("streaming", cfg.Sync.StreamingEnabled),
				zap.Int("backoffBase", cfg.Sync.PushRetryBackoffBase),
				zap.String("sdk", cfg.Endpoints.SDK),
			)
			a.start()

			lifecycleSig := make(chan os.Signal, 1)
			signal.Notify(lifecycleSig, syscall.SIGUSR1, syscall.SIGUSR2)
			defer signal.Stop(lifecycleSig)

			var status <-chan time.Time
			if statusInterval > 0 {
				ticker := time.NewTicker(statusInterval)
				defer ticker.Stop()
				status = ticker.C
			}

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case sig := <-lifecycleSig:
					if sig == syscall.SIGUSR1 {
						a.lifecycle.Publish(lifecycle.Background)
					} else {
						a.lifecycle.Publish(lifecycle.Foreground)
					}
				case <-status:
					a.summary()
				}
			}

			logger.Info("shutting down...")
			a.stop()
			a.summary()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if metricsServer != nil {
				if err := metricsServer.Shutdown(shutdownCtx); err != nil {
					logger.Error("metrics server shutdown error", zap.Error(err))
				}
			}
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("meter provider shutdown error", zap.Error(err))
			}

			logger.Info("stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStreaming, "no-streaming", false, "disable the push stream and poll only")
	cmd.Flags().DurationVar(&statusInterval, "status-interval", 0, "log cache state at this interval (0 disables)")

	return cmd
}
