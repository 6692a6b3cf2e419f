package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/churchsync/chms-integration/internal/infrastructure/alerting"
	"github.com/churchsync/chms-integration/internal/interfaces/http/dto"
)

// AlertReader lists raised sync health alerts. *alerting.Monitor satisfies it.
type AlertReader interface {
	Alerts(f alerting.AlertFilter) []alerting.Alert
}

// AlertHandler exposes the recent alert history to operators
type AlertHandler struct {
	alerts AlertReader
}

// NewAlertHandler creates a new AlertHandler
func NewAlertHandler(alerts AlertReader) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// RegisterRoutes implements router.RouteRegistrar
func (h *AlertHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/alerts", h.ListAlerts)
}

// ListAlerts returns alerts newest first. Query: integration_id, type,
// severity, since and until (RFC 3339).
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	var f alerting.AlertFilter
	if raw := c.Query("integration_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(dto.ErrCodeInvalidInput, "integration_id must be a UUID"))
			return
		}
		f.IntegrationID = id
	}
	f.Type = alerting.AlertType(c.Query("type"))
	f.Severity = alerting.Severity(c.Query("severity"))

	for _, bound := range []struct {
		param string
		dst   *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		raw := c.Query(bound.param)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(dto.ErrCodeInvalidInput, bound.param+" must be an RFC 3339 timestamp"))
			return
		}
		*bound.dst = ts
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.alerts.Alerts(f)))
}
