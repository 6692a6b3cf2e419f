package integration

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CapabilityStats records the outcome of one capability in the latest sync
type CapabilityStats struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
}

// SyncStats maps each capability to its latest outcome
type SyncStats map[Capability]CapabilityStats

// Settings holds tenant-controlled sync preferences
type Settings struct {
	SyncSchedule     SyncSchedule `json:"syncSchedule"`
	SyncCapabilities []Capability `json:"syncCapabilities"`
}

// DefaultSettings returns daily sync over every capability the provider declares
func DefaultSettings(def ProviderDefinition) Settings {
	return Settings{
		SyncSchedule:     SyncScheduleDaily,
		SyncCapabilities: slices.Clone(def.Capabilities),
	}
}

// Integration is the aggregate root for one tenant's connection to one provider.
// At most one Integration exists per (OrganizationID, ProviderID).
type Integration struct {
	ID             uuid.UUID
	OrganizationID string
	ProviderID     string
	Status         Status
	AuthData       string // encrypted credential blob
	LastSyncDate   *time.Time
	SyncError      *string
	SyncStats      SyncStats
	Settings       Settings
	SyncStartedAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewIntegration creates a connected Integration for validated, already encrypted credentials
func NewIntegration(organizationID string, def ProviderDefinition, encryptedAuthData string) (*Integration, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, ErrInvalidOrganizationID
	}
	if encryptedAuthData == "" {
		return nil, ErrEmptyAuthData
	}
	now := time.Now()
	return &Integration{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		ProviderID:     def.ID,
		Status:         StatusConnected,
		AuthData:       encryptedAuthData,
		SyncStats:      SyncStats{},
		Settings:       DefaultSettings(def),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// BeginSync moves the integration into the syncing state
func (i *Integration) BeginSync(now time.Time) error {
	switch {
	case i.Status == StatusSyncing:
		return ErrSyncInProgress
	case i.Status == StatusDisconnected:
		return ErrIntegrationDisconnected
	case !i.Status.CanBeginSync():
		return ErrInvalidStatusTransition
	}
	i.Status = StatusSyncing
	i.SyncStartedAt = &now
	i.UpdatedAt = now
	return nil
}

// RecordCapability stores the outcome of one capability within the running sync
func (i *Integration) RecordCapability(c Capability, synced int, failed bool) {
	if i.SyncStats == nil {
		i.SyncStats = SyncStats{}
	}
	stats := CapabilityStats{Synced: synced}
	if failed {
		stats.Errors = 1
	}
	i.SyncStats[c] = stats
}

// CompleteSync marks a fully successful sync
func (i *Integration) CompleteSync(now time.Time) {
	i.Status = StatusConnected
	i.LastSyncDate = &now
	i.SyncError = nil
	i.SyncStartedAt = nil
	i.UpdatedAt = now
}

// FailSync marks the running sync as failed with the causing message
func (i *Integration) FailSync(now time.Time, message string) {
	i.Status = StatusError
	i.SyncError = &message
	i.SyncStartedAt = nil
	i.UpdatedAt = now
}

// Disconnect moves the integration to disconnected. The row and its stats are kept.
func (i *Integration) Disconnect(now time.Time) error {
	if i.Status == StatusSyncing {
		return ErrSyncInProgress
	}
	i.Status = StatusDisconnected
	i.UpdatedAt = now
	return nil
}

// UpdateSettings replaces the sync settings after checking them against the provider
func (i *Integration) UpdateSettings(def ProviderDefinition, settings Settings) error {
	if !settings.SyncSchedule.IsValid() {
		return ErrInvalidSyncSchedule
	}
	for _, c := range settings.SyncCapabilities {
		if !def.Supports(c) {
			return ErrUnsupportedCapability
		}
	}
	i.Settings = Settings{
		SyncSchedule:     settings.SyncSchedule,
		SyncCapabilities: slices.Clone(settings.SyncCapabilities),
	}
	i.UpdatedAt = time.Now()
	return nil
}

// IsScheduled returns true if the integration is a candidate for periodic sync
func (i *Integration) IsScheduled() bool {
	return i.Status == StatusConnected && i.Settings.SyncSchedule != SyncScheduleManual
}

// IsDue returns true if a scheduled integration's interval has elapsed.
// Integrations that never synced are always due.
func (i *Integration) IsDue(now time.Time) bool {
	if !i.IsScheduled() {
		return false
	}
	if i.LastSyncDate == nil {
		return true
	}
	return !now.Before(i.LastSyncDate.Add(ScheduleInterval(i.Settings.SyncSchedule)))
}

// IsStale returns true if a sync has been running longer than maxAge
func (i *Integration) IsStale(now time.Time, maxAge time.Duration) bool {
	if i.Status != StatusSyncing {
		return false
	}
	started := i.UpdatedAt
	if i.SyncStartedAt != nil {
		started = *i.SyncStartedAt
	}
	return now.Sub(started) > maxAge
}

// ScheduleInterval returns the period between syncs for a schedule
func ScheduleInterval(s SyncSchedule) time.Duration {
	switch s {
	case SyncScheduleDaily:
		return 24 * time.Hour
	case SyncScheduleWeekly:
		return 7 * 24 * time.Hour
	case SyncScheduleMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}
