package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"catsync/internal/logger"
	"catsync/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ProductHandler struct {
	db     *gorm.DB
	logger *logger.Logger
}

func NewProductHandler(db *gorm.DB, log *logger.Logger) *ProductHandler {
	return &ProductHandler{db: db, logger: log}
}

func (h *ProductHandler) List(c *gin.Context) {
	var products []models.Product

	// Pagination
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}
	offset := (page - 1) * limit

	query := h.db.Model(&models.Product{})

	if outdated := c.Query("outdated"); outdated != "" {
		query = query.Where("is_outdated = ?", outdated == "true")
	}
	if category := c.Query("category"); category != "" {
		query = query.Where("category_id = ?", category)
	}
	if search := c.Query("search"); search != "" {
		needle := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(sku) LIKE ?", needle, needle)
	}

	var total int64
	query.Count(&total)

	if err := query.Order("sort_order, sku").Offset(offset).Limit(limit).Find(&products).Error; err != nil {
		h.logger.Error("product list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch products"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": products,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (h *ProductHandler) Get(c *gin.Context) {
	sku := c.Param("sku")

	var product models.Product
	if err := h.db.First(&product, "sku = ?", sku).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		h.logger.Error("product lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch product"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"product":          product,
			"bundle":           product.BundleComponents(),
			"secondary_prices": product.SecondaryPriceEntries(),
			"stock":            product.StockByWarehouse(),
		},
	})
}

// Runs lists recent sync run audit rows.
func (h *ProductHandler) Runs(c *gin.Context) {
	var runs []models.SyncRun
	if err := h.db.Order("started_at DESC").Limit(50).Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sync runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs})
}
