package handlers

import (
	"net/http"
	"sync/atomic"

	"catsync/internal/broker"
	"catsync/internal/logger"
	"catsync/internal/syncer"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	syncer   *syncer.Syncer
	producer *broker.Producer
	logger   *logger.Logger

	// The pipeline itself does not serialize runs; this flag is the
	// caller-side guard against concurrent triggers.
	inProgress atomic.Bool
}

func NewSyncHandler(s *syncer.Syncer, producer *broker.Producer, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		syncer:   s,
		producer: producer,
		logger:   log,
	}
}

// Run executes a full sync inline. Returns 409 while another run triggered
// through this handler is in flight.
func (h *SyncHandler) Run(c *gin.Context) {
	if !h.inProgress.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "sync already in progress"})
		return
	}
	defer h.inProgress.Store(false)

	result, err := h.syncer.RunFullSync(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": result.Message, "data": result})
}

// RunAsync enqueues a sync request for the worker.
func (h *SyncHandler) RunAsync(c *gin.Context) {
	if h.producer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "event broker is not configured"})
		return
	}
	if err := h.producer.PublishSyncRequest(c.Request.Context(), c.ClientIP()); err != nil {
		h.logger.Error("failed to enqueue sync request: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "failed to enqueue sync request"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "sync request enqueued"})
}

func (h *SyncHandler) TestConnection(c *gin.Context) {
	h.respondDiagnostic(c, h.syncer.TestConnection(c.Request.Context()))
}

func (h *SyncHandler) ProbeBundle(c *gin.Context) {
	h.respondDiagnostic(c, h.syncer.ProbeBundle(c.Request.Context(), c.Param("id")))
}

func (h *SyncHandler) ProbeDocuments(c *gin.Context) {
	h.respondDiagnostic(c, h.syncer.ProbeDocuments(c.Request.Context()))
}

func (h *SyncHandler) WhitelistStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.syncer.CacheStats()})
}

func (h *SyncHandler) WhitelistRefresh(c *gin.Context) {
	h.respondDiagnostic(c, h.syncer.RefreshCache(c.Request.Context()))
}

func (h *SyncHandler) WhitelistClear(c *gin.Context) {
	h.respondDiagnostic(c, h.syncer.ClearCache())
}

func (h *SyncHandler) InvalidateSettings(c *gin.Context) {
	h.respondDiagnostic(c, h.syncer.InvalidateSettings())
}

func (h *SyncHandler) respondDiagnostic(c *gin.Context, d syncer.Diagnostic) {
	status := http.StatusOK
	if !d.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, d)
}
