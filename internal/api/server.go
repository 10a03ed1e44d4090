package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"catsync/internal/api/handlers"
	"catsync/internal/api/middleware"
	"catsync/internal/broker"
	"catsync/internal/config"
	"catsync/internal/database"
	"catsync/internal/logger"
	"catsync/internal/syncer"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	config *config.Config
	logger *logger.Logger
	router *gin.Engine
	server *http.Server
}

func New(cfg *config.Config, log *logger.Logger, db *database.Database, s *syncer.Syncer, producer *broker.Producer) *Server {
	// Set Gin mode
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())

	// Initialize handlers
	syncHandler := handlers.NewSyncHandler(s, producer, log)
	productHandler := handlers.NewProductHandler(db.DB, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Routes
	v1 := router.Group("/api/v1")
	{
		// Sync pipeline
		sync := v1.Group("/sync")
		{
			sync.POST("", syncHandler.Run)
			sync.POST("/async", syncHandler.RunAsync)
			sync.GET("/test", syncHandler.TestConnection)
			sync.GET("/bundles/:id", syncHandler.ProbeBundle)
			sync.GET("/documents", syncHandler.ProbeDocuments)
			sync.GET("/runs", productHandler.Runs)
		}

		// Whitelist cache
		whitelist := v1.Group("/whitelist")
		{
			whitelist.GET("/stats", syncHandler.WhitelistStats)
			whitelist.POST("/refresh", syncHandler.WhitelistRefresh)
			whitelist.DELETE("", syncHandler.WhitelistClear)
		}

		// Settings cache
		v1.POST("/settings/invalidate", syncHandler.InvalidateSettings)

		// Products
		products := v1.Group("/products")
		{
			products.GET("", productHandler.List)
			products.GET("/:sku", productHandler.Get)
		}
	}

	return &Server{
		config: cfg,
		logger: log,
		router: router,
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.APIHost, s.config.APIPort)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute, // a full inline sync can run long
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server on %s", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
