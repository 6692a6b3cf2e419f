package integration

import (
	"time"

	"github.com/google/uuid"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// ConnectRequest connects an organization to a provider with plaintext credentials
type ConnectRequest struct {
	OrganizationID string
	ProviderID     string
	Credentials    integration.Credentials
}

// SyncTrigger says what started a sync run
type SyncTrigger string

const (
	SyncTriggerManual    SyncTrigger = "manual"
	SyncTriggerScheduled SyncTrigger = "scheduled"
	// SyncTriggerWatchdog marks a stale sync reset, not a provider call
	SyncTriggerWatchdog  SyncTrigger = "watchdog"
)

// TriggerSyncRequest starts a sync. An empty capability list means the
// integration's configured capabilities.
type TriggerSyncRequest struct {
	IntegrationID uuid.UUID
	Capabilities  []integration.Capability
	Trigger       SyncTrigger
}

// UpdateSettingsRequest replaces an integration's sync settings
type UpdateSettingsRequest struct {
	SyncSchedule     integration.SyncSchedule
	SyncCapabilities []integration.Capability
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// IntegrationResponse is the externally visible view of an integration.
// The encrypted credential blob never leaves the service.
type IntegrationResponse struct {
	ID             uuid.UUID             `json:"id"`
	OrganizationID string                `json:"organizationId"`
	ProviderID     string                `json:"providerId"`
	Status         integration.Status    `json:"status"`
	LastSyncDate   *time.Time            `json:"lastSyncDate,omitempty"`
	SyncError      *string               `json:"syncError,omitempty"`
	SyncStats      integration.SyncStats `json:"syncStats"`
	Settings       integration.Settings  `json:"settings"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// ToIntegrationResponse converts the aggregate to its response view
func ToIntegrationResponse(i *integration.Integration) IntegrationResponse {
	stats := make(integration.SyncStats, len(i.SyncStats))
	for c, s := range i.SyncStats {
		stats[c] = s
	}
	return IntegrationResponse{
		ID:             i.ID,
		OrganizationID: i.OrganizationID,
		ProviderID:     i.ProviderID,
		Status:         i.Status,
		LastSyncDate:   i.LastSyncDate,
		SyncError:      i.SyncError,
		SyncStats:      stats,
		Settings:       i.Settings,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

// SyncResponse reports a finished sync run. Results holds one entry per
// capability that completed, in the order they ran.
type SyncResponse struct {
	Integration IntegrationResponse       `json:"integration"`
	Results     []*integration.SyncResult `json:"results"`
}

// SyncJob is a candidate for periodic sync
type SyncJob struct {
	IntegrationID  uuid.UUID                `json:"integrationId"`
	OrganizationID string                   `json:"organizationId"`
	ProviderID     string                   `json:"providerId"`
	Schedule       integration.SyncSchedule `json:"schedule"`
	Capabilities   []integration.Capability `json:"capabilities"`
	LastSyncDate   *time.Time               `json:"lastSyncDate,omitempty"`
}
