package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is the persisted catalog row. Fields up to ExternalID mirror the
// ERP; ContentHash covers exactly those fields. Weight and SortOrder are
// owned locally: they are derived once on creation and never overwritten by
// a resync.
type Product struct {
	ID              string          `json:"id" gorm:"type:uuid;primary_key"`
	ExternalID      string          `json:"external_id" gorm:"not null"`
	SKU             string          `json:"sku" gorm:"unique;not null"`
	Name            string          `json:"name" gorm:"not null"`
	Price           decimal.Decimal `json:"price" gorm:"type:decimal(10,2)"`
	Currency        string          `json:"currency" gorm:"default:USD"`
	CategoryID      string          `json:"category_id"`
	CategoryName    string          `json:"category_name"`
	Bundle          string          `json:"bundle"`           // serialized []BundleComponent
	SecondaryPrices string          `json:"secondary_prices"` // serialized []PriceEntry
	ContentHash     string          `json:"content_hash"`
	LastSyncAt      *time.Time      `json:"last_sync_at"`
	IsOutdated      bool            `json:"is_outdated" gorm:"default:false"`
	Weight          int             `json:"weight" gorm:"default:0"`
	SortOrder       int             `json:"sort_order" gorm:"default:0"`
	StockBalances   string          `json:"stock_balances"` // serialized map[warehouse]quantity
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// BundleComponent is one resolved member of a composite product. ID is the
// component's SKU, or its external ERP id when no SKU could be resolved.
type BundleComponent struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// PriceEntry is a secondary price-tier value.
type PriceEntry struct {
	Tier  string          `json:"tier"`
	Value decimal.Decimal `json:"value"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

func (p *Product) SetBundle(components []BundleComponent) error {
	data, err := json.Marshal(components)
	if err != nil {
		return err
	}
	p.Bundle = string(data)
	return nil
}

func (p *Product) BundleComponents() []BundleComponent {
	if p.Bundle == "" {
		return nil
	}
	var components []BundleComponent
	if err := json.Unmarshal([]byte(p.Bundle), &components); err != nil {
		return nil
	}
	return components
}

func (p *Product) SetSecondaryPrices(entries []PriceEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	p.SecondaryPrices = string(data)
	return nil
}

func (p *Product) SecondaryPriceEntries() []PriceEntry {
	if p.SecondaryPrices == "" {
		return nil
	}
	var entries []PriceEntry
	if err := json.Unmarshal([]byte(p.SecondaryPrices), &entries); err != nil {
		return nil
	}
	return entries
}

func (p *Product) SetStockBalances(byWarehouse map[string]int) error {
	data, err := json.Marshal(byWarehouse)
	if err != nil {
		return err
	}
	p.StockBalances = string(data)
	return nil
}

func (p *Product) StockByWarehouse() map[string]int {
	if p.StockBalances == "" {
		return nil
	}
	var byWarehouse map[string]int
	if err := json.Unmarshal([]byte(p.StockBalances), &byWarehouse); err != nil {
		return nil
	}
	return byWarehouse
}
