package catalog

import (
	"context"
	"fmt"
	"time"

	"catsync/internal/erp"
	"catsync/internal/logger"
	"catsync/internal/models"
	"catsync/internal/settings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is stamped on every normalized product; the remote prices
// carry no currency of their own.
const DefaultCurrency = "USD"

// lookupDelay paces the per-object detail calls during bundle resolution.
// These are the most expensive calls in the pipeline and the remote
// penalizes rapid-fire access.
const lookupDelay = 300 * time.Millisecond

// ObjectResolver is the slice of the ERP client bundle resolution needs.
type ObjectResolver interface {
	GetObjectDetail(ctx context.Context, id string) (erp.ObjectDetail, error)
}

// ConfigSource supplies the pipeline configuration.
type ConfigSource interface {
	GetConfig(ctx context.Context) (settings.PipelineConfig, error)
}

// Processor turns raw price/catalog rows into normalized products: one per
// unique SKU, bundles resolved, price tiers extracted, categories mapped.
type Processor struct {
	resolver ObjectResolver
	config   ConfigSource
	logger   *logger.Logger

	delay time.Duration
}

func NewProcessor(resolver ObjectResolver, config ConfigSource, log *logger.Logger) *Processor {
	return &Processor{
		resolver: resolver,
		config:   config,
		logger:   log,
		delay:    lookupDelay,
	}
}

// Process consumes the raw rows of one fetch. Bundle resolution runs
// sequentially with paced detail calls; a failure for one SKU demotes it to
// a non-bundle product instead of aborting the batch.
func (p *Processor) Process(ctx context.Context, priceRows []erp.RawPriceRow, catalogRows []erp.RawCatalogRow) ([]models.NormalizedProduct, error) {
	cfg, err := p.config.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}

	// A product appears once per price tier; collapse to the first
	// occurrence but keep every tier row for price extraction.
	deduped := make([]erp.RawPriceRow, 0, len(priceRows))
	pricesByID := make(map[string][]erp.RawPriceRow)
	skuByID := make(map[string]string)
	seen := make(map[string]struct{})
	for _, row := range priceRows {
		if row.ID == "" {
			continue
		}
		pricesByID[row.ID] = append(pricesByID[row.ID], row)
		if _, ok := skuByID[row.ID]; !ok && row.SKU != "" {
			skuByID[row.ID] = row.SKU
		}
		if _, dup := seen[row.ID]; dup {
			continue
		}
		seen[row.ID] = struct{}{}
		deduped = append(deduped, row)
	}

	catalogByID := make(map[string]erp.RawCatalogRow, len(catalogRows))
	for _, row := range catalogRows {
		if row.ID == "" {
			continue
		}
		catalogByID[row.ID] = row
		if _, ok := skuByID[row.ID]; !ok && row.SKU != "" {
			skuByID[row.ID] = row.SKU
		}
	}

	var products []models.NormalizedProduct
	for _, row := range deduped {
		product, err := p.buildProduct(ctx, cfg, row, catalogByID, pricesByID, skuByID)
		if err != nil {
			p.logger.Warn("processor: skipping object %s: %v", row.ID, err)
			continue
		}
		products = append(products, product)
	}

	return dedupeBySKU(products), nil
}

func (p *Processor) buildProduct(
	ctx context.Context,
	cfg settings.PipelineConfig,
	row erp.RawPriceRow,
	catalogByID map[string]erp.RawCatalogRow,
	pricesByID map[string][]erp.RawPriceRow,
	skuByID map[string]string,
) (models.NormalizedProduct, error) {
	sku := row.SKU
	if sku == "" {
		sku = skuByID[row.ID]
	}
	if sku == "" {
		return models.NormalizedProduct{}, fmt.Errorf("no SKU")
	}

	catalogRow := catalogByID[row.ID]
	name := catalogRow.Name
	if name == "" {
		name = sku
	}

	// Bundles: a record whose parent group is the configured bundle group
	// carries its quantity as a component table.
	var bundle []models.BundleComponent
	if cfg.BundleGroupID != "" && row.ParentID == cfg.BundleGroupID {
		components, err := p.resolveBundle(ctx, row.ID, skuByID)
		if err != nil {
			p.logger.Error("processor: bundle resolution failed for %s (%s), emitting as plain product: %v", sku, row.ID, err)
		} else {
			bundle = components
		}
	}

	// The parent group's display name is the category name. When the group
	// row is absent from the batch the name stays empty; a raw group id is
	// not a display name.
	categoryName := catalogByID[row.ParentID].Name
	categoryID := resolveCategoryID(categoryName, cfg.CategoryNameToID)
	if categoryID == UncategorizedID {
		p.logger.Debug("processor: category %q unmapped for %s, defaulting to uncategorized", categoryName, sku)
	}

	primary, secondary := extractPrices(pricesByID[row.ID], cfg.PrimaryPriceTierID)

	return models.NormalizedProduct{
		ExternalID:      row.ID,
		SKU:             sku,
		Name:            name,
		Price:           primary,
		Currency:        DefaultCurrency,
		CategoryID:      categoryID,
		CategoryName:    categoryName,
		Bundle:          bundle,
		SecondaryPrices: secondary,
		ParentID:        row.ParentID,
	}, nil
}

// resolveBundle fetches the object's component table and resolves every
// component to a SKU, issuing a paced per-component lookup when the batch
// maps don't know it. Unresolvable components fall back to the external id.
func (p *Processor) resolveBundle(ctx context.Context, id string, skuByID map[string]string) ([]models.BundleComponent, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}

	detail, err := p.resolver.GetObjectDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	components := make([]models.BundleComponent, 0, len(detail.Components))
	for _, row := range detail.Components {
		sku := row.SKU
		if sku == "" {
			sku = skuByID[row.GoodID]
		}
		if sku == "" && row.GoodID != "" {
			if err := p.sleep(ctx); err != nil {
				return nil, err
			}
			child, err := p.resolver.GetObjectDetail(ctx, row.GoodID)
			if err != nil {
				p.logger.Warn("processor: component lookup failed for %s, falling back to external id: %v", row.GoodID, err)
			} else {
				sku = child.SKU
			}
		}
		if sku == "" {
			sku = row.GoodID
		}
		components = append(components, models.BundleComponent{
			ID:       sku,
			Quantity: row.Quantity,
		})
	}
	return components, nil
}

func (p *Processor) sleep(ctx context.Context) error {
	if p.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// extractPrices picks the primary tier value and keeps every other tier
// with a positive value as a secondary entry. Non-positive values mean "no
// price set", not a real zero.
func extractPrices(rows []erp.RawPriceRow, primaryTierID string) (decimal.Decimal, []models.PriceEntry) {
	var primary decimal.Decimal
	var secondary []models.PriceEntry
	tierIndex := make(map[string]int)

	// Last-seen wins when a tier repeats.
	for _, row := range rows {
		value, err := decimal.NewFromString(row.Price)
		if err != nil {
			continue
		}
		if row.TierID == primaryTierID {
			primary = value
			continue
		}
		if !value.IsPositive() {
			continue
		}
		entry := models.PriceEntry{Tier: row.TierID, Value: value}
		if at, ok := tierIndex[row.TierID]; ok {
			secondary[at] = entry
			continue
		}
		tierIndex[row.TierID] = len(secondary)
		secondary = append(secondary, entry)
	}
	return primary, secondary
}

// dedupeBySKU collapses duplicate SKUs, last-seen wins, preserving first
// appearance order.
func dedupeBySKU(products []models.NormalizedProduct) []models.NormalizedProduct {
	index := make(map[string]int, len(products))
	result := make([]models.NormalizedProduct, 0, len(products))
	for _, product := range products {
		if at, ok := index[product.SKU]; ok {
			result[at] = product
			continue
		}
		index[product.SKU] = len(result)
		result = append(result, product)
	}
	return result
}
