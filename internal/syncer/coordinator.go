package syncer

import (
	"context"
	"fmt"
	"time"

	"catsync/internal/availability"
	"catsync/internal/broker"
	"catsync/internal/catalog"
	"catsync/internal/erp"
	"catsync/internal/logger"
	"catsync/internal/metrics"
	"catsync/internal/models"
	"catsync/internal/reconcile"
	"catsync/internal/settings"

	"gorm.io/gorm"
)

// EventPublisher reports run results; nil disables publishing.
type EventPublisher interface {
	PublishSyncEvent(ctx context.Context, event broker.SyncEvent) error
}

// Diagnostic is the small envelope the troubleshooting operations return.
type Diagnostic struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Syncer orchestrates the full pipeline: whitelist, ERP fetch, processing,
// reconciliation. It is the only component external callers invoke
// directly. It does not serialize concurrent runs; callers hold a
// sync-in-progress flag.
type Syncer struct {
	loader     *settings.Loader
	cache      *availability.Cache
	client     *erp.Client
	processor  *catalog.Processor
	reconciler *reconcile.Manager
	publisher  EventPublisher
	db         *gorm.DB
	logger     *logger.Logger
}

func New(
	loader *settings.Loader,
	cache *availability.Cache,
	client *erp.Client,
	processor *catalog.Processor,
	reconciler *reconcile.Manager,
	publisher EventPublisher,
	db *gorm.DB,
	log *logger.Logger,
) *Syncer {
	return &Syncer{
		loader:     loader,
		cache:      cache,
		client:     client,
		processor:  processor,
		reconciler: reconciler,
		publisher:  publisher,
		db:         db,
		logger:     log,
	}
}

// RunFullSync executes one sequential pass: whitelist → prices+catalog →
// processing → reconciliation → stock → staleness. Per-item failures land
// in the result's error list; pipeline-level failures abort the run.
func (s *Syncer) RunFullSync(ctx context.Context) (*models.SyncResult, error) {
	started := time.Now()
	s.logger.Info("full sync started")

	result, err := s.run(ctx)

	elapsed := time.Since(started)
	metrics.SyncDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("full sync failed after %s: %v", elapsed, err)
		s.recordRun(ctx, started, nil, err)
		s.publishEvent(ctx, broker.SyncEvent{Type: "sync.failed", Error: err.Error()})
		return nil, err
	}

	metrics.SyncRunsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("full sync finished in %s: %s", elapsed, result.Message)
	s.recordRun(ctx, started, result, nil)
	s.publishEvent(ctx, broker.SyncEvent{Type: "sync.completed", Result: result})
	return result, nil
}

func (s *Syncer) run(ctx context.Context) (*models.SyncResult, error) {
	cfg, err := s.loader.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	whitelist, err := s.cache.GetWhitelist(ctx)
	if err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}
	if len(whitelist) == 0 {
		return nil, fmt.Errorf("whitelist is empty, refusing to sync against an empty catalog")
	}
	s.logger.Info("syncing %d whitelisted SKUs", len(whitelist))

	priceRows, priceSkips, err := s.client.GetPricesForSKUs(ctx, whitelist)
	if err != nil {
		return nil, fmt.Errorf("price fetch: %w", err)
	}
	catalogRows, catalogSkips, err := s.client.GetCatalogForSKUs(ctx, whitelist)
	if err != nil {
		return nil, fmt.Errorf("catalog fetch: %w", err)
	}
	s.logger.Debug("fetched %d price rows, %d catalog rows", len(priceRows), len(catalogRows))

	products, err := s.processor.Process(ctx, priceRows, catalogRows)
	if err != nil {
		return nil, fmt.Errorf("processing: %w", err)
	}

	result := s.reconciler.SyncToStore(ctx, products)
	result.Errors = append(result.Errors, priceSkips...)
	result.Errors = append(result.Errors, catalogSkips...)

	stockRows, stockSkips, err := s.client.GetStockBalance(ctx, whitelist)
	if err != nil {
		// Stock is a secondary concern: the catalog part of the run stands.
		s.logger.Error("stock fetch failed: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("stock fetch: %v", err))
	} else {
		result.Errors = append(result.Errors, stockSkips...)
		balances := reconcile.AggregateStock(stockRows, cfg.InternalWarehouses)
		stockResult := s.reconciler.UpdateStockBalances(ctx, balances)
		result.Errors = append(result.Errors, stockResult.Errors...)
	}

	if _, _, err := s.reconciler.MarkOutdated(ctx, whitelist, cfg.AlwaysKeepSKUs); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("staleness marking: %v", err))
	}

	result.Summarize()
	return result, nil
}

// TestConnection verifies the ERP endpoint and credential with the smallest
// possible request.
func (s *Syncer) TestConnection(ctx context.Context) Diagnostic {
	if err := s.client.Ping(ctx); err != nil {
		return Diagnostic{Message: fmt.Sprintf("ERP connection failed: %v", err)}
	}
	return Diagnostic{Success: true, Message: "ERP connection OK"}
}

// ProbeBundle resolves a single object's component table without touching
// the store; used to troubleshoot bundle composition.
func (s *Syncer) ProbeBundle(ctx context.Context, id string) Diagnostic {
	detail, err := s.client.GetObjectDetail(ctx, id)
	if err != nil {
		return Diagnostic{Message: fmt.Sprintf("object lookup failed: %v", err)}
	}

	components := make([]map[string]interface{}, 0, len(detail.Components))
	for _, c := range detail.Components {
		components = append(components, map[string]interface{}{
			"good":     c.GoodID,
			"sku":      c.SKU,
			"quantity": c.Quantity,
		})
	}
	return Diagnostic{
		Success: true,
		Message: fmt.Sprintf("object %s (%s) has %d components", detail.ID, detail.Name, len(detail.Components)),
		Data: map[string]interface{}{
			"id":         detail.ID,
			"sku":        detail.SKU,
			"name":       detail.Name,
			"parent":     detail.ParentID,
			"components": components,
		},
	}
}

// ProbeDocuments checks that the credential has document scope.
func (s *Syncer) ProbeDocuments(ctx context.Context) Diagnostic {
	docs, err := s.client.SearchDocuments(ctx, "order", 5)
	if err != nil {
		return Diagnostic{Message: fmt.Sprintf("document search failed: %v", err)}
	}
	return Diagnostic{
		Success: true,
		Message: fmt.Sprintf("document search OK, %d rows", len(docs)),
		Data:    map[string]interface{}{"count": len(docs)},
	}
}

// CacheStats reports the whitelist snapshot state.
func (s *Syncer) CacheStats() availability.Stats {
	return s.cache.Stats()
}

// RefreshCache force-refreshes the whitelist snapshot.
func (s *Syncer) RefreshCache(ctx context.Context) Diagnostic {
	count, err := s.cache.ForceRefresh(ctx)
	if err != nil {
		return Diagnostic{Message: err.Error()}
	}
	return Diagnostic{
		Success: true,
		Message: fmt.Sprintf("whitelist refreshed, %d SKUs", count),
		Data:    map[string]interface{}{"sku_count": count},
	}
}

// ClearCache drops the whitelist snapshot.
func (s *Syncer) ClearCache() Diagnostic {
	s.cache.Clear()
	return Diagnostic{Success: true, Message: "whitelist cache cleared"}
}

// InvalidateSettings drops the settings cache after an external edit.
func (s *Syncer) InvalidateSettings() Diagnostic {
	s.loader.Invalidate()
	return Diagnostic{Success: true, Message: "settings cache invalidated"}
}

func (s *Syncer) recordRun(ctx context.Context, started time.Time, result *models.SyncResult, runErr error) {
	finished := time.Now()
	run := models.SyncRun{
		StartedAt:  started,
		FinishedAt: &finished,
	}
	if result != nil {
		run.CreatedCount = result.Created
		run.UpdatedCount = result.Updated
		run.SkippedCount = result.Skipped
		run.BundleCount = result.Bundles
		run.ErrorCount = len(result.Errors)
		run.Message = result.Message
	}
	if runErr != nil {
		run.Message = runErr.Error()
		run.ErrorCount++
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		s.logger.Warn("failed to record sync run: %v", err)
	}
}

func (s *Syncer) publishEvent(ctx context.Context, event broker.SyncEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSyncEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish sync event: %v", err)
	}
}
