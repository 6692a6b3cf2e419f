package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// IntegrationModel is the persistence model for the Integration aggregate.
// The schedule gets its own column so scheduled candidates can be selected
// in SQL; capabilities and stats are stored as JSON documents.
type IntegrationModel struct {
	ID               uuid.UUID  `gorm:"type:uuid;primary_key"`
	OrganizationID   string     `gorm:"type:varchar(100);not null;uniqueIndex:idx_chms_integrations_org_provider,priority:1"`
	ProviderID       string     `gorm:"type:varchar(50);not null;uniqueIndex:idx_chms_integrations_org_provider,priority:2"`
	Status           string     `gorm:"type:varchar(20);not null;index"`
	AuthData         string     `gorm:"type:text;not null"`
	LastSyncDate     *time.Time
	SyncError        *string    `gorm:"type:text"`
	SyncStatsJSON    string     `gorm:"type:jsonb;column:sync_stats;not null;default:'{}'"`
	SyncSchedule     string     `gorm:"type:varchar(20);not null;default:'daily'"`
	CapabilitiesJSON string     `gorm:"type:jsonb;column:sync_capabilities;not null;default:'[]'"`
	SyncStartedAt    *time.Time
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IntegrationModel) TableName() string {
	return "chms_integrations"
}

// ToDomain converts the persistence model to a domain Integration.
// Malformed JSON columns decode as empty values.
func (m *IntegrationModel) ToDomain() *integration.Integration {
	i := &integration.Integration{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		ProviderID:     m.ProviderID,
		Status:         integration.Status(m.Status),
		AuthData:       m.AuthData,
		LastSyncDate:   m.LastSyncDate,
		SyncError:      m.SyncError,
		SyncStats:      integration.SyncStats{},
		Settings: integration.Settings{
			SyncSchedule: integration.SyncSchedule(m.SyncSchedule),
		},
		SyncStartedAt: m.SyncStartedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.SyncStatsJSON != "" {
		var stats integration.SyncStats
		if err := json.Unmarshal([]byte(m.SyncStatsJSON), &stats); err == nil && stats != nil {
			i.SyncStats = stats
		}
	}
	if m.CapabilitiesJSON != "" {
		var caps []integration.Capability
		if err := json.Unmarshal([]byte(m.CapabilitiesJSON), &caps); err == nil {
			i.Settings.SyncCapabilities = caps
		}
	}
	return i
}

// IntegrationModelFromDomain builds a persistence model from the aggregate
func IntegrationModelFromDomain(i *integration.Integration) (*IntegrationModel, error) {
	stats := i.SyncStats
	if stats == nil {
		stats = integration.SyncStats{}
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	caps := i.Settings.SyncCapabilities
	if caps == nil {
		caps = []integration.Capability{}
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return nil, err
	}
	return &IntegrationModel{
		ID:               i.ID,
		OrganizationID:   i.OrganizationID,
		ProviderID:       i.ProviderID,
		Status:           i.Status.String(),
		AuthData:         i.AuthData,
		LastSyncDate:     i.LastSyncDate,
		SyncError:        i.SyncError,
		SyncStatsJSON:    string(statsJSON),
		SyncSchedule:     i.Settings.SyncSchedule.String(),
		CapabilitiesJSON: string(capsJSON),
		SyncStartedAt:    i.SyncStartedAt,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
	}, nil
}
