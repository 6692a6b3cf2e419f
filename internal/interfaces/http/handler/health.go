// Package handler implements the ops HTTP endpoints.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/churchsync/chms-integration/internal/infrastructure/logger"
	"github.com/churchsync/chms-integration/internal/interfaces/http/dto"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness checks
type HealthHandler struct {
	db           Pinger
	startTime    time.Time
	version      string
	readyTimeout time.Duration
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db Pinger, version string) *HealthHandler {
	return &HealthHandler{
		db:           db,
		startTime:    time.Now(),
		version:      version,
		readyTimeout: 2 * time.Second,
	}
}

// HealthResponse is the liveness payload
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// RegisterRoutes implements router.RouteRegistrar
func (h *HealthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/healthz", h.Healthz)
	rg.GET("/readyz", h.Readyz)
}

// Healthz answers as long as the process serves HTTP
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(HealthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
	}))
}

// Readyz checks the database
func (h *HealthHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.readyTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		logger.L(c.Request.Context()).Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(dto.ErrCodeUnavailable, "database unavailable"))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(gin.H{"status": "ready"}))
}
