package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ddevcap/subtracker/api"
	"github.com/ddevcap/subtracker/api/handler"
	"github.com/ddevcap/subtracker/config"
	"github.com/ddevcap/subtracker/registry"
	"github.com/ddevcap/subtracker/store"
	"github.com/ddevcap/subtracker/tracker"
	"github.com/ddevcap/subtracker/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data directory", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	channels := store.NewChannelStore(
		filepath.Join(cfg.DataDir, cfg.ChannelsFile),
		filepath.Join(cfg.DataDir, cfg.BackupFile),
	)
	history, err := store.OpenHistoryStore(cfg.HistoryDSN, cfg.DataDir)
	if err != nil {
		slog.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = history.Close() }()

	cache := registry.NewHistoryCache(history, cfg.CacheCleanupInterval, cfg.HistoryCacheCapacity)
	defer cache.Stop()

	client := upstream.New(cfg)
	tr := tracker.New(cfg, registry.New(cache), channels, history, client, nil)

	if err := tr.Bootstrap(context.Background()); err != nil {
		if errors.Is(err, store.ErrStorageCorruption) {
			slog.Error("tracked channel list is corrupt, refusing to start", "error", err)
		} else {
			slog.Error("failed to load tracked channels", "error", err)
		}
		os.Exit(1)
	}

	api.SeedChannels(context.Background(), tr, cfg)

	wsHub := handler.NewWSHub()
	tr.OnUpdate(wsHub.Publish)
	h, stopRouter := api.NewRouter(cfg, tr, client, wsHub)

	// Sweeps, discovery and cache eviction run until shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	// Start server in a goroutine so we can listen for shutdown signals.
	go func() {
		slog.Info("subscriber tracker listening", "addr", cfg.ListenAddr, "upstream", client.BaseURL())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt or SIGTERM (e.g. from container orchestration).
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	wsHub.Shutdown()
	cancel()
	tr.Stop()
	stopRouter()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server stopped", "writes", tr.Writes())
}
