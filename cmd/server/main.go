// Wunder workspace server
//
// Per-tenant workspace manager for an AI-agent platform:
// - Confined path resolution with a public alias form
// - Cached directory trees and keyword search with version invalidation
// - Background activity-record persistence (PostgreSQL)
// - Retention and temp-cleanup maintenance jobs
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/config"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/httpapi"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/logging"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/metrics"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/storage"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/workspace"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("wunder workspace server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("workspace_root", cfg.WorkspaceRoot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	var store storage.Store
	if cfg.DatabaseURL != "" {
		logging.Info("connecting to PostgreSQL...")
		store, err = storage.NewPostgres(cfg.DatabaseURL, cfg.AdminScopes)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
	} else {
		logging.Warn("DATABASE_URL not set, using in-memory store (development only)")
		store = storage.NewMemory(cfg.AdminScopes...)
	}
	defer store.Close()

	// Initialize the workspace manager
	manager, err := workspace.NewManager(cfg.WorkspaceRoot, store, workspace.Options{
		TreeDepth:       cfg.TreeDepth,
		TreeTTL:         cfg.TreeTTL,
		CacheIdleTTL:    cfg.CacheIdleTTL,
		MaxCachedScopes: cfg.MaxCachedUsers,
		IndexTTL:        cfg.IndexTTL,
		IndexMaxItems:   cfg.IndexMaxItems,
		WriteQueueSize:  cfg.WriteQueueSize,
		MaxUploadSize:   cfg.MaxUploadSize,
	})
	if err != nil {
		logging.Fatal("workspace manager init failed", zap.Error(err))
	}
	defer manager.Close()

	// Maintenance schedulers, kicked from request paths and a ticker below
	retention := workspace.NewRetentionScheduler(store, cfg.RetentionDays, cfg.RetentionInterval)
	tempCleanup := workspace.NewTempCleanupScheduler(cfg.WorkspaceRoot, store, cfg.TempCleanupIdle, cfg.TempCleanupInterval)

	// Create API server
	srv := httpapi.NewServer(manager, store, httpapi.NewAuth(cfg.JWTSecret),
		retention, tempCleanup, cfg.MaxUploadSize)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Maintenance ticker: a quiet deployment with no requests still performs
	// retention and temp cleanup.
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				retention.MaybeRun(gctx)
				tempCleanup.MaybeRun(gctx)
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-gctx.Done():
			return nil
		case sig := <-sigCh:
			logging.Info("shutting down...", zap.String("signal", sig.String()))
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}
