package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/config"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/log"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/notify"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/recurring"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/remote"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/storage"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.Setup("recurrence-worker")
	logger.Info("Starting recurrence-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
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

	// Remote store is optional; without it the service runs mirror-only.
	var remoteStore recurring.RemoteStore
	if cfg.PostgresURL != "" {
		pg, err := remote.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Warn("Failed to connect to remote store, continuing in local-only mode", "error", err)
		} else {
			defer pg.Close()
			if err := pg.EnsureSchema(ctx); err != nil {
				logger.Error("Failed to ensure remote schema", "error", err)
				os.Exit(1)
			}
			remoteStore = pg
			logger.Info("Remote store connected")
		}
	} else {
		logger.Info("Remote store disabled - no POSTGRES_URL provided")
	}

	// AMQP is optional too; without it deferred sync falls back to the
	// periodic pending scan of the sync-worker.
	var amqpClient *notify.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = notify.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPSyncQueue, cfg.AMQPReminderQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without queue", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized")
		}
	} else {
		logger.Info("AMQP disabled - reminders and deferred sync unavailable")
	}

	var syncPublisher recurring.SyncPublisher
	var reminderPublisher worker.ReminderPublisher
	if amqpClient != nil {
		syncPublisher = amqpClient
		reminderPublisher = amqpClient
	}

	store := recurring.NewStore(sqliteRepo, remoteStore, syncPublisher)
	engine := recurring.NewEngine(store, sqliteRepo)
	genWorker := worker.NewGenerationWorker(sqliteRepo, engine, reminderPublisher)

	scheduler := worker.NewScheduler(genWorker, cfg.GenerationSpec, cfg.ReminderSpec, cfg.Location())

	go func() {
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("Scheduler failed to start", "error", err)
			cancel()
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

	logger.Info("Shutting down recurrence-worker...")
	cancel()

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Recurrence-worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
