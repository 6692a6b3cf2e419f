// Package alerting turns sync outcomes into health alerts for operators:
// repeated failures, slow syncs and integrations left in the error state.
package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertType is what an alert is about
type AlertType string

const (
	// AlertTypeError fires when too many recent runs of one integration failed
	AlertTypeError AlertType = "error"
	// AlertTypePerformance fires when recent runs are slower than the threshold on average
	AlertTypePerformance AlertType = "performance"
	// AlertTypeStatus fires when a run leaves the integration in the error state
	AlertTypeStatus AlertType = "status"
)

// Severity ranks alerts for notification routing
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is one raised sync health alert
type Alert struct {
	ID             string         `json:"id"`
	IntegrationID  uuid.UUID      `json:"integration_id"`
	OrganizationID string         `json:"organization_id"`
	Provider       string         `json:"provider"`
	Type           AlertType      `json:"type"`
	Severity       Severity       `json:"severity"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Notifier delivers alerts to one channel. Notify errors are logged by the
// Monitor and never reach the sync that raised the alert.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes every alert to the structured log
type LogNotifier struct {
	logger *zap.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a notifier that logs at warn level
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Name implements Notifier
func (n *LogNotifier) Name() string { return "log" }

// Notify implements Notifier
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Warn("Integration alert: "+alert.Message,
		zap.String("alert_id", alert.ID),
		zap.String("integration_id", alert.IntegrationID.String()),
		zap.String("organization_id", alert.OrganizationID),
		zap.String("provider", alert.Provider),
		zap.String("alert_type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.Any("metadata", alert.Metadata),
	)
	return nil
}
