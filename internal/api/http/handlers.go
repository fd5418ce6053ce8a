package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kernelkit/internal/soak"
	"github.com/GriffinCanCode/kernelkit/kernel"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

// SoakSource reports background workload counters.
type SoakSource interface {
	Stats() soak.Stats
}

// Handlers contains the kitstat HTTP handlers.
type Handlers struct {
	metrics *monitoring.Metrics
	soak    SoakSource
	started time.Time
}

// NewHandlers creates a handler set. Both arguments may be nil.
func NewHandlers(metrics *monitoring.Metrics, soak SoakSource) *Handlers {
	return &Handlers{
		metrics: metrics,
		soak:    soak,
		started: time.Now(),
	}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "kitstat",
		"version": Version,
	})
}

// Health reports liveness along with the live object counts.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"team":           kernel.CurrentTeamID(),
		"uptime_seconds": time.Since(h.started).Seconds(),
		"resources":      kernel.ResourceStats(),
	})
}

// Resources returns the registry counts, the metric snapshot and the soak
// counters in one document.
func (h *Handlers) Resources(c *gin.Context) {
	body := gin.H{
		"timestamp": time.Now(),
		"resources": kernel.ResourceStats(),
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.GetSnapshot()
	}
	if h.soak != nil {
		body["soak"] = h.soak.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// Threads lists every registered thread.
func (h *Handlers) Threads(c *gin.Context) {
	threads := kernel.ListThreads()
	c.JSON(http.StatusOK, gin.H{
		"threads": threads,
		"count":   len(threads),
	})
}

// Thread describes one registered thread by id.
func (h *Handlers) Thread(c *gin.Context) {
	var req struct {
		ID int64 `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thread id"})
		return
	}

	info, err := kernel.GetThreadInfo(req.ID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}
