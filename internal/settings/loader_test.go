package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"catsync/internal/database"
	"catsync/internal/logger"
	"catsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestLoader(t *testing.T) (*Loader, *gorm.DB) {
	t.Helper()
	db, err := database.New("sqlite://" + filepath.Join(t.TempDir(), "catsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLoader(db.DB, logger.New("error", "production")), db.DB
}

func putSetting(t *testing.T, db *gorm.DB, key, value string) {
	t.Helper()
	require.NoError(t, db.Save(&models.Setting{Key: key, Value: value, UpdatedAt: time.Now()}).Error)
}

func TestGetConfigDefaultsOnEmptyTable(t *testing.T) {
	loader, _ := newTestLoader(t)

	cfg, err := loader.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults().EndpointURL, cfg.EndpointURL)
	assert.Equal(t, "6341", cfg.BundleGroupID)
	assert.Equal(t, "1", cfg.PrimaryPriceTierID)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, []string{"production"}, cfg.InternalWarehouses)
}

func TestGetConfigAppliesStoredValues(t *testing.T) {
	loader, db := newTestLoader(t)

	putSetting(t, db, KeyEndpointURL, "https://erp.internal/api")
	putSetting(t, db, KeyAPIKey, "secret")
	putSetting(t, db, KeyBundleGroupID, "7000")
	putSetting(t, db, KeyCategoryMap, `{"soups":"9"}`)
	putSetting(t, db, KeyAlwaysKeepSKUs, `["K001","K002"]`)
	putSetting(t, db, KeyInternalWarehouses, `["production","writeoff"]`)

	cfg, err := loader.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://erp.internal/api", cfg.EndpointURL)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "7000", cfg.BundleGroupID)
	assert.Equal(t, map[string]string{"soups": "9"}, cfg.CategoryNameToID)
	assert.Equal(t, []string{"K001", "K002"}, cfg.AlwaysKeepSKUs)
	assert.Equal(t, []string{"production", "writeoff"}, cfg.InternalWarehouses)
}

func TestGetConfigIgnoresMalformedJSONValues(t *testing.T) {
	loader, db := newTestLoader(t)

	putSetting(t, db, KeyCategoryMap, `{not json`)

	cfg, err := loader.GetConfig(context.Background())
	require.NoError(t, err)
	// Broken override keeps the default map.
	assert.Equal(t, Defaults().CategoryNameToID, cfg.CategoryNameToID)
}

func TestGetConfigCachesUntilInvalidated(t *testing.T) {
	loader, db := newTestLoader(t)
	ctx := context.Background()

	cfg, err := loader.GetConfig(ctx)
	require.NoError(t, err)
	assert.Empty(t, cfg.APIKey)

	putSetting(t, db, KeyAPIKey, "fresh-key")

	// Still the cached copy.
	cfg, err = loader.GetConfig(ctx)
	require.NoError(t, err)
	assert.Empty(t, cfg.APIKey)

	loader.Invalidate()
	cfg, err = loader.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh-key", cfg.APIKey)
}

func TestGetConfigBlankValueKeepsDefault(t *testing.T) {
	loader, db := newTestLoader(t)

	putSetting(t, db, KeyBundleGroupID, "")

	cfg, err := loader.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults().BundleGroupID, cfg.BundleGroupID)
}
