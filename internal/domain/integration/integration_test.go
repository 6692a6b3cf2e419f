package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planningCenterDef(t *testing.T) ProviderDefinition {
	t.Helper()
	def, ok := DefaultRegistry().Get(ProviderPlanningCenter)
	require.True(t, ok)
	return def
}

// ---------------------------------------------------------------------------
// Integration Tests
// ---------------------------------------------------------------------------

func TestNewIntegration(t *testing.T) {
	def := planningCenterDef(t)

	t.Run("Valid integration creation", func(t *testing.T) {
		in, err := NewIntegration("org-1", def, "ciphertext")
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, in.ID)
		assert.Equal(t, "org-1", in.OrganizationID)
		assert.Equal(t, ProviderPlanningCenter, in.ProviderID)
		assert.Equal(t, StatusConnected, in.Status)
		assert.Equal(t, SyncScheduleDaily, in.Settings.SyncSchedule)
		assert.Equal(t, def.Capabilities, in.Settings.SyncCapabilities)
		assert.Empty(t, in.SyncStats)
		assert.Nil(t, in.LastSyncDate)
		assert.Nil(t, in.SyncError)
	})

	t.Run("Blank organization", func(t *testing.T) {
		_, err := NewIntegration("  ", def, "ciphertext")
		assert.ErrorIs(t, err, ErrInvalidOrganizationID)
	})

	t.Run("Empty auth data", func(t *testing.T) {
		_, err := NewIntegration("org-1", def, "")
		assert.ErrorIs(t, err, ErrEmptyAuthData)
	})
}

func TestIntegration_SyncLifecycle(t *testing.T) {
	def := planningCenterDef(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Connected to syncing to connected", func(t *testing.T) {
		in, _ := NewIntegration("org-1", def, "x")
		require.NoError(t, in.BeginSync(now))
		assert.Equal(t, StatusSyncing, in.Status)
		require.NotNil(t, in.SyncStartedAt)

		in.RecordCapability(CapabilityPeople, 3, false)
		in.CompleteSync(now.Add(time.Minute))

		assert.Equal(t, StatusConnected, in.Status)
		assert.Equal(t, CapabilityStats{Synced: 3}, in.SyncStats[CapabilityPeople])
		require.NotNil(t, in.LastSyncDate)
		assert.Equal(t, now.Add(time.Minute), *in.LastSyncDate)
		assert.Nil(t, in.SyncError)
		assert.Nil(t, in.SyncStartedAt)
	})

	t.Run("Failure keeps captured stats", func(t *testing.T) {
		in, _ := NewIntegration("org-1", def, "x")
		require.NoError(t, in.BeginSync(now))
		in.RecordCapability(CapabilityPeople, 2, false)
		in.RecordCapability(CapabilityGroups, 0, true)
		in.FailSync(now, "groups failed")

		assert.Equal(t, StatusError, in.Status)
		require.NotNil(t, in.SyncError)
		assert.Equal(t, "groups failed", *in.SyncError)
		assert.Equal(t, CapabilityStats{Synced: 2}, in.SyncStats[CapabilityPeople])
		assert.Equal(t, CapabilityStats{Errors: 1}, in.SyncStats[CapabilityGroups])
		assert.Nil(t, in.LastSyncDate)
	})

	t.Run("Error state may sync again", func(t *testing.T) {
		in, _ := NewIntegration("org-1", def, "x")
		in.Status = StatusError
		assert.NoError(t, in.BeginSync(now))
	})

	t.Run("Second begin fails fast", func(t *testing.T) {
		in, _ := NewIntegration("org-1", def, "x")
		require.NoError(t, in.BeginSync(now))
		assert.ErrorIs(t, in.BeginSync(now), ErrSyncInProgress)
	})

	t.Run("Disconnected cannot sync", func(t *testing.T) {
		in, _ := NewIntegration("org-1", def, "x")
		require.NoError(t, in.Disconnect(now))
		assert.ErrorIs(t, in.BeginSync(now), ErrIntegrationDisconnected)
	})
}

func TestIntegration_Disconnect(t *testing.T) {
	def := planningCenterDef(t)
	now := time.Now()

	in, _ := NewIntegration("org-1", def, "x")
	in.RecordCapability(CapabilityPeople, 5, false)
	require.NoError(t, in.Disconnect(now))
	assert.Equal(t, StatusDisconnected, in.Status)
	assert.Equal(t, 5, in.SyncStats[CapabilityPeople].Synced)

	syncing, _ := NewIntegration("org-1", def, "x")
	require.NoError(t, syncing.BeginSync(now))
	assert.ErrorIs(t, syncing.Disconnect(now), ErrSyncInProgress)
}

func TestIntegration_UpdateSettings(t *testing.T) {
	def := planningCenterDef(t)
	def.Capabilities = []Capability{CapabilityPeople, CapabilityGroups}
	in, _ := NewIntegration("org-1", def, "x")

	err := in.UpdateSettings(def, Settings{
		SyncSchedule:     SyncScheduleWeekly,
		SyncCapabilities: []Capability{CapabilityGroups},
	})
	require.NoError(t, err)
	assert.Equal(t, SyncScheduleWeekly, in.Settings.SyncSchedule)
	assert.Equal(t, []Capability{CapabilityGroups}, in.Settings.SyncCapabilities)

	err = in.UpdateSettings(def, Settings{
		SyncSchedule:     SyncScheduleDaily,
		SyncCapabilities: []Capability{CapabilityEvents},
	})
	assert.ErrorIs(t, err, ErrUnsupportedCapability)

	err = in.UpdateSettings(def, Settings{SyncSchedule: "hourly"})
	assert.ErrorIs(t, err, ErrInvalidSyncSchedule)
}

func TestIntegration_IsDue(t *testing.T) {
	def := planningCenterDef(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule SyncSchedule
		status   Status
		lastSync *time.Time
		expected bool
	}{
		{"Never synced daily", SyncScheduleDaily, StatusConnected, nil, true},
		{"Daily synced yesterday", SyncScheduleDaily, StatusConnected, ptr(now.Add(-25 * time.Hour)), true},
		{"Daily synced an hour ago", SyncScheduleDaily, StatusConnected, ptr(now.Add(-time.Hour)), false},
		{"Weekly synced 3 days ago", SyncScheduleWeekly, StatusConnected, ptr(now.Add(-72 * time.Hour)), false},
		{"Monthly synced 31 days ago", SyncScheduleMonthly, StatusConnected, ptr(now.Add(-31 * 24 * time.Hour)), true},
		{"Manual never due", SyncScheduleManual, StatusConnected, nil, false},
		{"Error state not scheduled", SyncScheduleDaily, StatusError, nil, false},
		{"Syncing not scheduled", SyncScheduleDaily, StatusSyncing, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _ := NewIntegration("org-1", def, "x")
			in.Status = tt.status
			in.Settings.SyncSchedule = tt.schedule
			in.LastSyncDate = tt.lastSync
			assert.Equal(t, tt.expected, in.IsDue(now))
		})
	}
}

func TestIntegration_IsStale(t *testing.T) {
	def := planningCenterDef(t)
	now := time.Now()

	in, _ := NewIntegration("org-1", def, "x")
	assert.False(t, in.IsStale(now, time.Minute))

	require.NoError(t, in.BeginSync(now.Add(-10*time.Minute)))
	assert.True(t, in.IsStale(now, 5*time.Minute))
	assert.False(t, in.IsStale(now, 15*time.Minute))
}

func ptr[T any](v T) *T { return &v }
