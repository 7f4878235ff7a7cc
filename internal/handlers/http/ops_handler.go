package http

import (
	"context"
	"net/http"
	"time"

	"tempvoice/internal/core/services"
	"tempvoice/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sweeper runs a full reconciliation pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) services.SweepReport
}

// OpsHandler serves liveness, readiness, metrics and manual reconciliation.
type OpsHandler struct {
	sweeper   Sweeper
	health    *monitoring.HealthChecker
	gatherer  prometheus.Gatherer
	startedAt time.Time
}

func NewOpsHandler(sweeper Sweeper, health *monitoring.HealthChecker, gatherer prometheus.Gatherer) *OpsHandler {
	return &OpsHandler{
		sweeper:   sweeper,
		health:    health,
		gatherer:  gatherer,
		startedAt: time.Now(),
	}
}

// SetupRoutes registers the public health routes. Metrics are only exposed when a
// gatherer is configured.
func (h *OpsHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *OpsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startedAt).String(),
	})
}

func (h *OpsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := h.health.CheckAll(ctx)
	if status.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Reconcile runs a sweep synchronously and returns its report.
func (h *OpsHandler) Reconcile(c *gin.Context) {
	report := h.sweeper.Sweep(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"checked":     report.Checked,
		"repairs":     report.Repairs,
		"failures":    report.Failures,
		"duration_ms": report.Duration.Milliseconds(),
	})
}
