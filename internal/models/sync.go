package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NormalizedProduct is the processed, de-duplicated unit handed to
// reconciliation: one per unique SKU, bundles resolved, price tiers
// extracted.
type NormalizedProduct struct {
	ExternalID      string
	SKU             string
	Name            string
	Price           decimal.Decimal
	Currency        string
	CategoryID      string
	CategoryName    string
	Bundle          []BundleComponent
	SecondaryPrices []PriceEntry
	ParentID        string
}

// StockBalance is the per-SKU aggregate across physical warehouses. Total
// excludes internal/production warehouses.
type StockBalance struct {
	SKU        string         `json:"sku"`
	Name       string         `json:"name"`
	Warehouses map[string]int `json:"warehouses"`
	Total      int            `json:"total"`
}

type SyncResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Bundles int      `json:"bundles"`
	Errors  []string `json:"errors"`
	Message string   `json:"message"`
}

func (r *SyncResult) Summarize() {
	r.Message = fmt.Sprintf("sync finished: %d created, %d updated, %d skipped, %d bundles, %d errors",
		r.Created, r.Updated, r.Skipped, r.Bundles, len(r.Errors))
}

type StockUpdateResult struct {
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}

// SyncRun is the persisted audit row for one full pipeline run.
type SyncRun struct {
	ID           string     `json:"id" gorm:"type:uuid;primary_key"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	CreatedCount int        `json:"created_count"`
	UpdatedCount int        `json:"updated_count"`
	SkippedCount int        `json:"skipped_count"`
	BundleCount  int        `json:"bundle_count"`
	ErrorCount   int        `json:"error_count"`
	Message      string     `json:"message"`
}

func (r *SyncRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
