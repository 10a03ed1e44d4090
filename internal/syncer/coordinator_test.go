package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"catsync/internal/availability"
	"catsync/internal/broker"
	"catsync/internal/catalog"
	"catsync/internal/database"
	"catsync/internal/erp"
	"catsync/internal/logger"
	"catsync/internal/models"
	"catsync/internal/reconcile"
	"catsync/internal/settings"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// erpFixture serves the versioned envelope protocol from canned tables.
type erpFixture struct {
	prices   string // response body for "goodprices"
	goods    string // response body for "goods"
	stock    string // response body for "goodbalance"
	objects  map[string]string
	authFail bool // reject every request as unauthorized
}

func (f *erpFixture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f.authFail {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, "key revoked")
			return
		}
		var env struct {
			Version string `json:"version"`
			Key     string `json:"key"`
			Action  string `json:"action"`
			Params  struct {
				From string `json:"from"`
				ID   string `json:"id"`
			} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		require.Equal(t, "0.25", env.Version)
		require.Equal(t, "secret", env.Key)

		switch env.Action {
		case "getObject":
			body, ok := f.objects[env.Params.ID]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprint(w, body)
		case "request":
			switch env.Params.From {
			case "goodprices":
				fmt.Fprint(w, f.prices)
			case "goods":
				fmt.Fprint(w, f.goods)
			case "goodbalance":
				fmt.Fprint(w, f.stock)
			default:
				fmt.Fprint(w, `[]`)
			}
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

type capturingPublisher struct {
	events []broker.SyncEvent
}

func (c *capturingPublisher) PublishSyncEvent(ctx context.Context, event broker.SyncEvent) error {
	c.events = append(c.events, event)
	return nil
}

type pipeline struct {
	syncer    *Syncer
	db        *gorm.DB
	publisher *capturingPublisher
}

func newPipeline(t *testing.T, fixture *erpFixture, whitelist []string) *pipeline {
	t.Helper()
	log := logger.New("error", "production")

	server := httptest.NewServer(fixture.handler(t))
	t.Cleanup(server.Close)

	db, err := database.New("sqlite://" + filepath.Join(t.TempDir(), "catsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for key, value := range map[string]string{
		settings.KeyEndpointURL: server.URL,
		settings.KeyAPIKey:      "secret",
	} {
		require.NoError(t, db.DB.Save(&models.Setting{Key: key, Value: value, UpdatedAt: time.Now()}).Error)
	}
	loader := settings.NewLoader(db.DB, log)

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	rows := sqlmock.NewRows([]string{"sku", "stock_quantity"})
	for _, sku := range whitelist {
		rows.AddRow(sku, 1)
	}
	mock.ExpectQuery("SELECT sku, stock_quantity").WillReturnRows(rows)
	cache := availability.NewCache(sqlx.NewDb(mockDB, "sqlmock"), log)

	client := erp.NewClient(loader, log)
	processor := catalog.NewProcessor(client, loader, log)
	reconciler := reconcile.NewManager(db.DB, log)
	publisher := &capturingPublisher{}

	return &pipeline{
		syncer:    New(loader, cache, client, processor, reconciler, publisher, db.DB, log),
		db:        db.DB,
		publisher: publisher,
	}
}

func loadStored(t *testing.T, db *gorm.DB, sku string) *models.Product {
	t.Helper()
	var row models.Product
	require.NoError(t, db.Where("sku = ?", sku).First(&row).Error)
	return &row
}

func TestFullSyncCreatesThenSkips(t *testing.T) {
	fixture := &erpFixture{
		prices: `{"data":[
			{"good":"10","sku":"A100","parent":"2001","pricetype":"1","price":"120.00"},
			{"good":"10","sku":"A100","parent":"2001","pricetype":"2","price":"150.00"},
			{"good":"11","sku":"A200","parent":"2001","pricetype":"1","price":"80.50"}
		]}`,
		goods: `[
			{"id":"10","sku":"A100","parent":"2001","name":"Tomato soup"},
			{"id":"11","sku":"A200","parent":"2001","name":"Noodle soup"},
			{"id":"2001","name":"First Courses"}
		]`,
		stock: `{"rows":[
			{"sku":"A100","name":"Tomato soup","store":"main","quantity":5},
			{"sku":"A100","name":"Tomato soup","store":"production","quantity":7},
			{"sku":"A200","name":"Noodle soup","store":"main","quantity":2}
		]}`,
	}
	p := newPipeline(t, fixture, []string{"A100", "A200"})
	ctx := context.Background()

	result, err := p.syncer.RunFullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Zero(t, result.Bundles)
	assert.Empty(t, result.Errors)

	a100 := loadStored(t, p.db, "A100")
	assert.True(t, decimal.RequireFromString("120.00").Equal(a100.Price))
	assert.Equal(t, "1", a100.CategoryID)
	assert.Equal(t, "First Courses", a100.CategoryName)
	require.Len(t, a100.SecondaryPriceEntries(), 1)
	assert.True(t, decimal.RequireFromString("150.00").Equal(a100.SecondaryPriceEntries()[0].Value))
	assert.Equal(t, map[string]int{"main": 5, "production": 7}, a100.StockByWarehouse())
	assert.False(t, a100.IsOutdated)

	a200 := loadStored(t, p.db, "A200")
	assert.True(t, decimal.RequireFromString("80.50").Equal(a200.Price))

	// Identical second run: everything skips, nothing rewritten.
	result, err = p.syncer.RunFullSync(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Created)
	assert.Zero(t, result.Updated)
	assert.Equal(t, 2, result.Skipped)

	// Both runs were recorded and announced.
	var runs int64
	require.NoError(t, p.db.Model(&models.SyncRun{}).Count(&runs).Error)
	assert.EqualValues(t, 2, runs)
	require.Len(t, p.publisher.events, 2)
	assert.Equal(t, "sync.completed", p.publisher.events[0].Type)
}

func TestFullSyncResolvesBundles(t *testing.T) {
	fixture := &erpFixture{
		prices: `{"data":[
			{"good":"777","sku":"B300","parent":"6341","pricetype":"1","price":"500.00"},
			{"good":"10","sku":"X1","parent":"2001","pricetype":"1","price":"120.00"}
		]}`,
		goods: `[
			{"id":"777","sku":"B300","parent":"6341","name":"Family set"},
			{"id":"10","sku":"X1","parent":"2001","name":"Tomato soup"}
		]`,
		stock: `[]`,
		objects: map[string]string{
			"777": `{"id":"777","sku":"B300","name":"Family set","parent":"6341",
				"set":[{"good":"10","quantity":2},{"good":"99","quantity":1}]}`,
			"99": `{"id":"99","sku":"X2","name":"Juice"}`,
		},
	}
	p := newPipeline(t, fixture, []string{"B300", "X1"})

	result, err := p.syncer.RunFullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Bundles)

	b300 := loadStored(t, p.db, "B300")
	components := b300.BundleComponents()
	require.Len(t, components, 2)
	// First component resolved through the batch SKU map, second needed a
	// per-object lookup.
	assert.Equal(t, models.BundleComponent{ID: "X1", Quantity: 2}, components[0])
	assert.Equal(t, models.BundleComponent{ID: "X2", Quantity: 1}, components[1])
}

func TestFullSyncMarksMissingProductsOutdated(t *testing.T) {
	fixture := &erpFixture{
		prices: `{"data":[{"good":"10","sku":"A100","parent":"2001","pricetype":"1","price":"120.00"}]}`,
		goods:  `[{"id":"10","sku":"A100","parent":"2001","name":"Tomato soup"}]`,
		stock:  `[]`,
	}
	p := newPipeline(t, fixture, []string{"A100"})
	ctx := context.Background()

	// A relic from an earlier run, no longer whitelisted.
	relic := models.Product{ExternalID: "99", SKU: "OLD-1", Name: "Gone"}
	require.NoError(t, p.db.Create(&relic).Error)

	_, err := p.syncer.RunFullSync(ctx)
	require.NoError(t, err)

	assert.True(t, loadStored(t, p.db, "OLD-1").IsOutdated)
	assert.False(t, loadStored(t, p.db, "A100").IsOutdated)
}

func TestFullSyncRefusesEmptyWhitelist(t *testing.T) {
	fixture := &erpFixture{prices: `[]`, goods: `[]`, stock: `[]`}
	p := newPipeline(t, fixture, nil)

	_, err := p.syncer.RunFullSync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whitelist is empty")

	// The failure is still recorded and announced.
	var runs []models.SyncRun
	require.NoError(t, p.db.Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].ErrorCount)
	require.Len(t, p.publisher.events, 1)
	assert.Equal(t, "sync.failed", p.publisher.events[0].Type)
}

func TestFullSyncSurvivesStockFailure(t *testing.T) {
	fixture := &erpFixture{
		prices: `{"data":[{"good":"10","sku":"A100","parent":"2001","pricetype":"1","price":"120.00"}]}`,
		goods:  `[{"id":"10","sku":"A100","parent":"2001","name":"Tomato soup"}]`,
		stock:  `{"error":"balance report unavailable"}`,
	}
	p := newPipeline(t, fixture, []string{"A100"})

	// The balance chunk fails remotely; the catalog part of the run stands,
	// the product keeps no stock snapshot, and the skip lands in the
	// result's error list.
	result, err := p.syncer.RunFullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Nil(t, loadStored(t, p.db, "A100").StockByWarehouse())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "goodbalance chunk")
}

func TestFullSyncFailsOnRevokedCredential(t *testing.T) {
	fixture := &erpFixture{authFail: true}
	p := newPipeline(t, fixture, []string{"A100", "A200"})

	// A revoked key must surface as a failed run, not an "ok" run that
	// created nothing.
	_, err := p.syncer.RunFullSync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, erp.ErrAuth)

	var runs []models.SyncRun
	require.NoError(t, p.db.Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].ErrorCount)
	require.Len(t, p.publisher.events, 1)
	assert.Equal(t, "sync.failed", p.publisher.events[0].Type)
}

func TestDiagnostics(t *testing.T) {
	fixture := &erpFixture{
		prices: `[]`, goods: `[]`, stock: `[]`,
		objects: map[string]string{
			"777": `{"id":"777","sku":"B300","name":"Family set","set":[{"good":"10","quantity":2}]}`,
		},
	}
	p := newPipeline(t, fixture, []string{"A100"})
	ctx := context.Background()

	assert.True(t, p.syncer.TestConnection(ctx).Success)

	probe := p.syncer.ProbeBundle(ctx, "777")
	require.True(t, probe.Success)
	assert.Equal(t, "B300", probe.Data["sku"])

	missing := p.syncer.ProbeBundle(ctx, "404")
	assert.False(t, missing.Success)

	refreshed := p.syncer.RefreshCache(ctx)
	require.True(t, refreshed.Success)
	assert.Equal(t, 1, refreshed.Data["sku_count"])

	assert.True(t, p.syncer.ClearCache().Success)
	assert.True(t, p.syncer.InvalidateSettings().Success)
}
