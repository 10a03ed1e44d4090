package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"catsync/internal/logger"
	"catsync/internal/models"

	"gorm.io/gorm"
)

// Settings table keys.
const (
	KeyEndpointURL        = "erp.endpoint_url"
	KeyAPIKey             = "erp.api_key"
	KeyBundleGroupID      = "erp.bundle_group_id"
	KeyPrimaryPriceTierID = "erp.primary_price_tier_id"
	KeyCategoryMap        = "sync.category_map"
	KeyAlwaysKeepSKUs     = "sync.always_keep_skus"
	KeyInternalWarehouses = "sync.internal_warehouses"
)

const cacheTTL = 10 * time.Minute

// PipelineConfig is the hot-reloadable pipeline configuration sourced from
// the settings table.
type PipelineConfig struct {
	EndpointURL        string
	APIKey             string
	BundleGroupID      string
	PrimaryPriceTierID string
	CategoryNameToID   map[string]string
	AlwaysKeepSKUs     []string
	InternalWarehouses []string
}

// Defaults returns the compiled-in fallback configuration. The API key has
// no default: operations that require it fail until it is set.
func Defaults() PipelineConfig {
	return PipelineConfig{
		EndpointURL:        "https://erp.example.com/api/sync",
		APIKey:             "",
		BundleGroupID:      "6341",
		PrimaryPriceTierID: "1",
		CategoryNameToID: map[string]string{
			"first courses":  "1",
			"second courses": "2",
			"salads":         "3",
			"desserts":       "4",
			"drinks":         "5",
			"bundles":        "6",
		},
		AlwaysKeepSKUs:     nil,
		InternalWarehouses: []string{"production"},
	}
}

// Loader reads PipelineConfig from the settings table with a short-lived
// in-memory cache. It is the process-wide owner of that cache: Invalidate
// must be called whenever settings are edited externally.
type Loader struct {
	db     *gorm.DB
	logger *logger.Logger

	mu       sync.Mutex
	cached   *PipelineConfig
	loadedAt time.Time
}

func NewLoader(db *gorm.DB, log *logger.Logger) *Loader {
	return &Loader{db: db, logger: log}
}

// GetConfig returns the pipeline configuration, serving the cached copy for
// up to ten minutes. A settings read failure falls back to defaults with a
// warning; the only hard error is an empty endpoint in both settings and
// defaults.
func (l *Loader) GetConfig(ctx context.Context) (PipelineConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil && time.Since(l.loadedAt) < cacheTTL {
		return *l.cached, nil
	}

	cfg := Defaults()

	var rows []models.Setting
	err := l.db.WithContext(ctx).Find(&rows).Error
	if err != nil {
		l.logger.Warn("settings read failed, using defaults: %v", err)
	} else {
		l.apply(&cfg, rows)
	}

	if cfg.EndpointURL == "" {
		return cfg, fmt.Errorf("settings: ERP endpoint URL is not configured")
	}

	// A failed read is served from defaults but never cached, so the next
	// caller retries the table.
	if err == nil {
		l.cached = &cfg
		l.loadedAt = time.Now()
	}
	return cfg, nil
}

// Invalidate drops the cached configuration so the next GetConfig reloads
// from the settings table.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

func (l *Loader) apply(cfg *PipelineConfig, rows []models.Setting) {
	for _, row := range rows {
		if row.Value == "" {
			continue
		}
		switch row.Key {
		case KeyEndpointURL:
			cfg.EndpointURL = row.Value
		case KeyAPIKey:
			cfg.APIKey = row.Value
		case KeyBundleGroupID:
			cfg.BundleGroupID = row.Value
		case KeyPrimaryPriceTierID:
			cfg.PrimaryPriceTierID = row.Value
		case KeyCategoryMap:
			var m map[string]string
			if err := json.Unmarshal([]byte(row.Value), &m); err != nil {
				l.logger.Warn("settings: invalid %s value ignored: %v", row.Key, err)
				continue
			}
			cfg.CategoryNameToID = m
		case KeyAlwaysKeepSKUs:
			cfg.AlwaysKeepSKUs = l.parseList(row.Key, row.Value)
		case KeyInternalWarehouses:
			cfg.InternalWarehouses = l.parseList(row.Key, row.Value)
		}
	}
}

func (l *Loader) parseList(key, value string) []string {
	var list []string
	if err := json.Unmarshal([]byte(value), &list); err != nil {
		l.logger.Warn("settings: invalid %s value ignored: %v", key, err)
		return nil
	}
	return list
}
