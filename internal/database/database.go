package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	DB *gorm.DB
}

func New(databaseURL string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(databaseURL, "sqlite://") {
		// SQLite for development and tests
		dbPath := strings.TrimPrefix(databaseURL, "sqlite://")
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
	} else {
		// PostgreSQL for production
		db, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Create tables manually with raw SQL
	createTablesSQL := `
	CREATE TABLE IF NOT EXISTS products (
		id UUID PRIMARY KEY,
		external_id TEXT NOT NULL,
		sku TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		price DECIMAL(10,2),
		currency TEXT DEFAULT 'USD',
		category_id TEXT,
		category_name TEXT,
		bundle TEXT,
		secondary_prices TEXT,
		content_hash TEXT,
		last_sync_at TIMESTAMPTZ,
		is_outdated BOOLEAN DEFAULT false,
		weight INTEGER DEFAULT 0,
		sort_order INTEGER DEFAULT 0,
		stock_balances TEXT,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		created_count INTEGER DEFAULT 0,
		updated_count INTEGER DEFAULT 0,
		skipped_count INTEGER DEFAULT 0,
		bundle_count INTEGER DEFAULT 0,
		error_count INTEGER DEFAULT 0,
		message TEXT
	);
	`

	err = db.Exec(createTablesSQL).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
