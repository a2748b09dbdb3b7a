package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/config"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/log"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/notify"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/remote"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/storage"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.Setup("sync-worker")
	logger.Info("Starting sync-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL is required - the sync-worker has nothing to replicate to without it")
		os.Exit(1)
	}

	sqliteRepo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer sqliteRepo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remoteStore, err := remote.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("Failed to connect to remote store", "error", err)
		os.Exit(1)
	}
	defer remoteStore.Close()

	if err := remoteStore.EnsureSchema(ctx); err != nil {
		logger.Error("Failed to ensure remote schema", "error", err)
		os.Exit(1)
	}

	syncWorker := worker.NewSyncWorker(sqliteRepo, remoteStore, cfg.SyncBatchSize)

	// On startup, replicate anything that accumulated while the worker
	// was down.
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", "error", err)
		// Don't exit - continue with normal operation
	}

	// Queue consumption is optional; the periodic pending scan below
	// covers deployments without a broker.
	if cfg.AMQPURL != "" {
		go func() {
			handler := func(msg *notify.RuleSyncMessage) error {
				return syncWorker.HandleSyncMessage(ctx, msg)
			}
			err := notify.ConsumeRuleSyncWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPSyncQueue, cfg.AMQPReminderQueue, handler)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", "error", err)
				cancel()
			}
		}()
	} else {
		logger.Info("AMQP disabled - relying on periodic sync only")
	}

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := syncWorker.ProcessPendingRules(ctx); err != nil {
					logger.Error("Periodic sync failed", "error", err)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down sync-worker...")
	cancel()

	// Give worker time to finish current operations
	time.Sleep(2 * time.Second)
	logger.Info("Sync-worker shutdown complete")
}
