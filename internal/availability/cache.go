package availability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"catsync/internal/logger"
	"catsync/internal/metrics"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// snapshotTTL is advisory: expiry shows up in Stats and is acted on by the
// scheduler via ForceRefresh, it never gates a read.
const snapshotTTL = 24 * time.Hour

// Whitelist query against the storefront database: published, in-stock
// items with a non-blank SKU.
const whitelistQuery = `
	SELECT sku, stock_quantity
	FROM storefront_products
	WHERE published = $1 AND stock_quantity > $2 AND sku <> ''
	ORDER BY sku`

type whitelistRow struct {
	SKU           string `db:"sku"`
	StockQuantity int    `db:"stock_quantity"`
}

// Snapshot is the cached whitelist. Read-only to everything outside this
// package.
type Snapshot struct {
	SKUs      []string
	Count     int
	UpdatedAt time.Time
}

type Stats struct {
	HasCache    bool      `json:"has_cache"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
	IsExpired   bool      `json:"is_expired"`
}

// Cache holds the process-wide whitelist snapshot. A failed storefront
// fetch never overwrites an existing snapshot; a successful fetch always
// does, even when empty.
type Cache struct {
	db     *sqlx.DB
	logger *logger.Logger

	mu       sync.Mutex
	snapshot *Snapshot
}

func NewCache(db *sqlx.DB, log *logger.Logger) *Cache {
	return &Cache{db: db, logger: log}
}

// GetWhitelist returns the cached SKU whitelist, fetching from the
// storefront database only when no usable snapshot exists. On fetch failure
// a stale snapshot, even an expired one, is served as a degraded fallback.
func (c *Cache) GetWhitelist(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil && c.snapshot.Count > 0 {
		return append([]string(nil), c.snapshot.SKUs...), nil
	}

	skus, err := c.fetch(ctx)
	if err != nil {
		if c.snapshot != nil {
			c.logger.Warn("whitelist fetch failed, serving stale snapshot of %d SKUs: %v", c.snapshot.Count, err)
			return append([]string(nil), c.snapshot.SKUs...), nil
		}
		return nil, fmt.Errorf("whitelist fetch failed with no cached snapshot: %w", err)
	}

	c.store(skus)
	return append([]string(nil), skus...), nil
}

// ForceRefresh bypasses the cache and re-queries the storefront. On failure
// the existing snapshot is left untouched.
func (c *Cache) ForceRefresh(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	skus, err := c.fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("whitelist refresh failed: %w", err)
	}
	c.store(skus)
	return len(skus), nil
}

// Clear drops the snapshot; the next read re-fetches.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
	c.logger.Info("whitelist cache cleared")
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil {
		return Stats{}
	}
	return Stats{
		HasCache:    true,
		Count:       c.snapshot.Count,
		LastUpdated: c.snapshot.UpdatedAt,
		IsExpired:   time.Since(c.snapshot.UpdatedAt) > snapshotTTL,
	}
}

// fetch runs the read-only storefront query. Rows with blank SKUs are
// dropped, not errors.
func (c *Cache) fetch(ctx context.Context) ([]string, error) {
	var rows []whitelistRow
	if err := c.db.SelectContext(ctx, &rows, whitelistQuery, true, 0); err != nil {
		return nil, err
	}

	skus := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		sku := strings.TrimSpace(row.SKU)
		if sku == "" {
			continue
		}
		if _, dup := seen[sku]; dup {
			continue
		}
		seen[sku] = struct{}{}
		skus = append(skus, sku)
	}
	return skus, nil
}

// store replaces the snapshot, including with an empty successful fetch.
func (c *Cache) store(skus []string) {
	c.snapshot = &Snapshot{
		SKUs:      skus,
		Count:     len(skus),
		UpdatedAt: time.Now(),
	}
	metrics.WhitelistSize.Set(float64(len(skus)))
	c.logger.Info("whitelist snapshot updated, %d SKUs", len(skus))
}
