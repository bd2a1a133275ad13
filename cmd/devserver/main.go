package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/devserver"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Setup logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Load config
	cfg, err := config.LoadDevServerConfig()
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Port),
		zap.Bool("pushEnabled", cfg.PushEnabled),
		zap.Duration("tokenTTL", cfg.TokenTTL),
		zap.String("seedFile", cfg.SeedFile),
	)

	store := devserver.NewStore()
	if cfg.SeedFile != "" {
		cn, err := store.LoadSeed(cfg.SeedFile)
		if err != nil {
			logger.Error("failed to load seed", zap.Error(err))
			return 1
		}
		logger.Info("seed loaded", zap.Int64("changeNumber", cn))
	}

	tokens := devserver.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	broadcaster := devserver.NewBroadcaster(tokens, logger.Named("sse"))
	srv := devserver.NewServer(store, tokens, broadcaster, cfg, logger)

	// Setup HTTP server. No write timeout: streams are long lived.
	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     devserver.NewRouter(srv, logger),
		ReadTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Streams never finish on their own
	broadcaster.CloseAll()

	// Graceful HTTP server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}
