package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catsync/internal/logger"
	"catsync/internal/metrics"
	"catsync/internal/models"

	"gorm.io/gorm"
)

// creationDefaults are the locally-owned weight/sort-order values stamped
// on first creation, by category id. Resyncs never touch them again.
var creationDefaults = map[string]struct {
	Weight    int
	SortOrder int
}{
	"1": {Weight: 400, SortOrder: 1000}, // first courses
	"2": {Weight: 300, SortOrder: 2000}, // second courses
	"6": {SortOrder: 3000},              // bundles
}

// Manager diffs processed products against the local store and performs
// idempotent create/update/skip, stock writes and staleness marking.
// Products are handled sequentially to keep hashing and logging
// deterministic and to avoid write races on the same SKU.
type Manager struct {
	db     *gorm.DB
	logger *logger.Logger
}

func NewManager(db *gorm.DB, log *logger.Logger) *Manager {
	return &Manager{db: db, logger: log}
}

// SyncToStore upserts every normalized product. A per-item failure is
// counted and logged, never aborts the batch.
func (m *Manager) SyncToStore(ctx context.Context, products []models.NormalizedProduct) *models.SyncResult {
	result := &models.SyncResult{Errors: []string{}}

	for _, product := range products {
		if len(product.Bundle) > 0 {
			result.Bundles++
		}

		outcome, err := m.upsert(ctx, product)
		if err != nil {
			m.logger.Error("reconcile: %s: %v", product.SKU, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", product.SKU, err))
			metrics.ProductsSyncedTotal.WithLabelValues("error").Inc()
			continue
		}
		metrics.ProductsSyncedTotal.WithLabelValues(outcome).Inc()
		switch outcome {
		case "created":
			result.Created++
		case "updated":
			result.Updated++
		case "skipped":
			result.Skipped++
		}
	}

	result.Summarize()
	m.logger.Info("reconcile: %s", result.Message)
	return result
}

func (m *Manager) upsert(ctx context.Context, product models.NormalizedProduct) (string, error) {
	hash := ContentHash(product)
	now := time.Now()

	var existing models.Product
	err := m.db.WithContext(ctx).Where("sku = ?", product.SKU).First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("lookup failed: %w", err)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := models.Product{
			ExternalID:   product.ExternalID,
			SKU:          product.SKU,
			Name:         product.Name,
			Price:        product.Price,
			Currency:     product.Currency,
			CategoryID:   product.CategoryID,
			CategoryName: product.CategoryName,
			ContentHash:  hash,
			LastSyncAt:   &now,
		}
		if err := row.SetBundle(product.Bundle); err != nil {
			return "", fmt.Errorf("bundle serialization failed: %w", err)
		}
		if err := row.SetSecondaryPrices(product.SecondaryPrices); err != nil {
			return "", fmt.Errorf("price serialization failed: %w", err)
		}
		if defaults, ok := creationDefaults[product.CategoryID]; ok {
			row.Weight = defaults.Weight
			row.SortOrder = defaults.SortOrder
		}
		if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
			return "", fmt.Errorf("create failed: %w", err)
		}
		return "created", nil
	}

	if existing.ContentHash == hash {
		return "skipped", nil
	}

	bundle, err := json.Marshal(product.Bundle)
	if err != nil {
		return "", fmt.Errorf("bundle serialization failed: %w", err)
	}
	secondary, err := json.Marshal(product.SecondaryPrices)
	if err != nil {
		return "", fmt.Errorf("price serialization failed: %w", err)
	}

	// ERP-sourced fields only: weight and sort_order are local edits and
	// stay untouched.
	updates := map[string]interface{}{
		"external_id":      product.ExternalID,
		"name":             product.Name,
		"price":            product.Price,
		"currency":         product.Currency,
		"category_id":      product.CategoryID,
		"category_name":    product.CategoryName,
		"bundle":           string(bundle),
		"secondary_prices": string(secondary),
		"content_hash":     hash,
		"last_sync_at":     now,
	}
	if err := m.db.WithContext(ctx).Model(&models.Product{}).Where("sku = ?", product.SKU).Updates(updates).Error; err != nil {
		return "", fmt.Errorf("update failed: %w", err)
	}
	return "updated", nil
}

// UpdateStockBalances overwrites only the per-warehouse balance field of
// each stored product. A missing product is a per-item error, not a batch
// failure.
func (m *Manager) UpdateStockBalances(ctx context.Context, balances []models.StockBalance) *models.StockUpdateResult {
	result := &models.StockUpdateResult{Errors: []string{}}

	for _, balance := range balances {
		serialized, err := json.Marshal(balance.Warehouses)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", balance.SKU, err))
			continue
		}

		tx := m.db.WithContext(ctx).Model(&models.Product{}).
			Where("sku = ?", balance.SKU).
			Update("stock_balances", string(serialized))
		if tx.Error != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", balance.SKU, tx.Error))
			continue
		}
		if tx.RowsAffected == 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: no stored product", balance.SKU))
			continue
		}
		result.Updated++
	}

	m.logger.Info("reconcile: stock updated for %d SKUs, %d errors", result.Updated, len(result.Errors))
	return result
}

// MarkOutdated flips is_outdated in both directions against the union of
// the whitelist and the always-keep list. Computed as a full pass over the
// products table every run, so a product unmarked out-of-band can never
// stay invisible.
func (m *Manager) MarkOutdated(ctx context.Context, whitelist, alwaysKeep []string) (marked, restored int64, err error) {
	covered := make([]string, 0, len(whitelist)+len(alwaysKeep))
	seen := make(map[string]struct{}, len(whitelist)+len(alwaysKeep))
	for _, sku := range append(append([]string{}, whitelist...), alwaysKeep...) {
		if sku == "" {
			continue
		}
		if _, dup := seen[sku]; dup {
			continue
		}
		seen[sku] = struct{}{}
		covered = append(covered, sku)
	}

	if len(covered) == 0 {
		tx := m.db.WithContext(ctx).Model(&models.Product{}).
			Where("is_outdated = ?", false).
			Update("is_outdated", true)
		return tx.RowsAffected, 0, tx.Error
	}

	tx := m.db.WithContext(ctx).Model(&models.Product{}).
		Where("sku NOT IN ?", covered).
		Where("is_outdated = ?", false).
		Update("is_outdated", true)
	if tx.Error != nil {
		return 0, 0, fmt.Errorf("marking outdated failed: %w", tx.Error)
	}
	marked = tx.RowsAffected

	tx = m.db.WithContext(ctx).Model(&models.Product{}).
		Where("sku IN ?", covered).
		Where("is_outdated = ?", true).
		Update("is_outdated", false)
	if tx.Error != nil {
		return marked, 0, fmt.Errorf("restoring outdated failed: %w", tx.Error)
	}
	restored = tx.RowsAffected

	if marked > 0 || restored > 0 {
		m.logger.Info("reconcile: %d products marked outdated, %d restored", marked, restored)
	}
	return marked, restored, nil
}
