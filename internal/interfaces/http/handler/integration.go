package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appintegration "github.com/churchsync/chms-integration/internal/application/integration"
	"github.com/churchsync/chms-integration/internal/domain/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/logger"
	"github.com/churchsync/chms-integration/internal/interfaces/http/dto"
)

// IntegrationReader is the read side of the integration service.
// *appintegration.Service satisfies it.
type IntegrationReader interface {
	GetIntegrationByID(ctx context.Context, id uuid.UUID) (*appintegration.IntegrationResponse, error)
	GetIntegrationStatus(ctx context.Context, id uuid.UUID) (*integration.ProviderStatus, error)
}

// IntegrationHandler exposes read-only integration views to operators
type IntegrationHandler struct {
	service IntegrationReader
}

// NewIntegrationHandler creates a new IntegrationHandler
func NewIntegrationHandler(service IntegrationReader) *IntegrationHandler {
	return &IntegrationHandler{service: service}
}

// RegisterRoutes implements router.RouteRegistrar
func (h *IntegrationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/integrations")
	g.GET("/:id", h.GetIntegration)
	g.GET("/:id/status", h.GetStatus)
}

// GetIntegration returns the stored integration without credentials
func (h *IntegrationHandler) GetIntegration(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	resp, err := h.service.GetIntegrationByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// GetStatus checks the provider with the stored credentials
func (h *IntegrationHandler) GetStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := logger.WithIntegration(c.Request.Context(), id.String(), "")
	status, err := h.service.GetIntegrationStatus(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(status))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(dto.ErrCodeInvalidInput, "id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	apiErr := dto.FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		logger.L(c.Request.Context()).Error("Request failed", zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(apiErr.Status, apiErr.Response())
}
