package main

import (
	"log"

	"catsync/internal/api"
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

	// Storefront connection is opened lazily: the whitelist cache falls
	// back to its snapshot when the storefront is unreachable.
	storefront, err := sqlx.Open("postgres", cfg.StorefrontDatabaseURL)
	if err != nil {
		logger.Fatal("Failed to open storefront connection: %v", err)
	}
	if err := storefront.Ping(); err != nil {
		logger.Warn("Storefront database not reachable at startup: %v", err)
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

	// Start server
	server := api.New(cfg, logger, db, s, producer)
	logger.Info("Starting API server on port %s", cfg.APIPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}
