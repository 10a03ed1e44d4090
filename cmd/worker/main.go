package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"catsync/internal/availability"
	"catsync/internal/broker"
	"catsync/internal/catalog"
	"catsync/internal/config"
	"catsync/internal/database"
	"catsync/internal/erp"
	"catsync/internal/logger"
	"catsync/internal/reconcile"
	"catsync/internal/settings"
	"catsync/internal/syncer"

	"github.com/jmoiron/sqlx"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	// Initialize primary database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	storefront, err := sqlx.Open("postgres", cfg.StorefrontDatabaseURL)
	if err != nil {
		logger.Fatal("Failed to open storefront connection: %v", err)
	}

	// Wire the pipeline
	loader := settings.NewLoader(db.DB, logger)
	cache := availability.NewCache(storefront, logger)
	client := erp.NewClient(loader, logger)
	processor := catalog.NewProcessor(client, loader, logger)
	reconciler := reconcile.NewManager(db.DB, logger)
	producer := broker.NewProducer(cfg.KafkaBrokers, logger)
	defer producer.Close()

	s := syncer.New(loader, cache, client, processor, reconciler, producer, db.DB, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One sync at a time: the pipeline expects callers to serialize runs.
	var inProgress atomic.Bool
	runSync := func(ctx context.Context, trigger string) {
		if !inProgress.CompareAndSwap(false, true) {
			logger.Warn("sync already in progress, skipping %s trigger", trigger)
			return
		}
		defer inProgress.Store(false)

		// The scheduler owns whitelist freshness: refresh before syncing
		// and fall back to the snapshot when the storefront is down.
		if _, err := cache.ForceRefresh(ctx); err != nil {
			logger.Warn("whitelist refresh failed before %s sync: %v", trigger, err)
		}
		if _, err := s.RunFullSync(ctx); err != nil {
			logger.Error("%s sync failed: %v", trigger, err)
		}
	}

	// Scheduled syncs
	interval := time.Duration(cfg.SyncIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				runSync(ctx, "scheduled")
			case <-ctx.Done():
				return
			}
		}
	}()

	// On-demand syncs
	consumer := broker.NewSyncRequestConsumer(cfg.KafkaBrokers, logger)
	defer consumer.Close()
	go func() {
		logger.Info("Worker started, listening for sync requests (interval %s)", interval)
		if err := consumer.Consume(ctx, func(ctx context.Context, req broker.SyncRequest) {
			logger.Info("sync requested by %s", req.RequestedBy)
			runSync(ctx, "requested")
		}); err != nil && ctx.Err() == nil {
			logger.Error("consumer stopped: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
}
