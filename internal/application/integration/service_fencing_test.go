package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/churchsync/chms-integration/internal/domain/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/persistence"
	"github.com/churchsync/chms-integration/internal/infrastructure/persistence/models"
)

// blockingAdapter holds SyncPeople open until released
type blockingAdapter struct {
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

func newBlockingAdapter() *blockingAdapter {
	return &blockingAdapter{started: make(chan struct{}), release: make(chan struct{})}
}

func (a *blockingAdapter) ProviderID() string { return integration.ProviderBreeze }

func (a *blockingAdapter) SyncPeople(ctx context.Context) (*integration.SyncResult, error) {
	a.startOnce.Do(func() { close(a.started) })
	select {
	case <-a.release:
		return peopleResult(2, 0), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *blockingAdapter) SyncGroups(context.Context) (*integration.SyncResult, error) {
	return groupsResult(0), nil
}

func (a *blockingAdapter) SyncEvents(context.Context) (*integration.SyncResult, error) {
	return eventsResult(0), nil
}

func (a *blockingAdapter) SyncContributions(context.Context) (*integration.SyncResult, error) {
	return integration.NewSyncResult(integration.CapabilityContributions, []integration.Contribution{}, 0), nil
}

func (a *blockingAdapter) ValidateCredentials(context.Context) error { return nil }

func (a *blockingAdapter) GetIntegrationStatus(context.Context) (*integration.ProviderStatus, error) {
	return &integration.ProviderStatus{Status: integration.ProviderHealthActive}, nil
}

// queueFactory hands out one prepared adapter per call
type queueFactory struct {
	mu       sync.Mutex
	adapters []integration.ProviderAdapter
}

func (f *queueFactory) NewAdapter(string, integration.Credentials) (integration.ProviderAdapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.adapters) == 0 {
		return nil, errors.New("no adapter prepared")
	}
	a := f.adapters[0]
	f.adapters = f.adapters[1:]
	return a, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitErr(t *testing.T, ch <-chan error, what string) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func newSQLiteRepository(t *testing.T) *persistence.GormIntegrationRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.IntegrationModel{}))
	return persistence.NewGormIntegrationRepository(db)
}

func TestService_RecoveredRunCannotOverwriteNewerSync(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)
	clock := &testClock{now: fixedNow}
	abandoned, current := newBlockingAdapter(), newBlockingAdapter()
	factory := &queueFactory{adapters: []integration.ProviderAdapter{abandoned, current}}
	svc := NewService(repo, integration.DefaultRegistry(), factory, prefixCipher{}, zap.NewNop(), WithClock(clock.Now))

	i := connectedIntegration(t)
	require.NoError(t, repo.Create(ctx, i))
	req := TriggerSyncRequest{
		IntegrationID: i.ID,
		Capabilities:  []integration.Capability{integration.CapabilityPeople},
	}

	abandonedDone := make(chan error, 1)
	go func() {
		_, err := svc.TriggerSync(ctx, req)
		abandonedDone <- err
	}()
	waitClosed(t, abandoned.started, "first sync to start")

	clock.Advance(3 * time.Hour)
	recovered, err := svc.RecoverStaleSyncs(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	currentDone := make(chan error, 1)
	go func() {
		_, err := svc.TriggerSync(ctx, req)
		currentDone <- err
	}()
	waitClosed(t, current.started, "second sync to start")

	// settings written while a sync runs survive its completion
	_, err = svc.UpdateSettings(ctx, i.ID, UpdateSettingsRequest{
		SyncSchedule:     integration.SyncScheduleWeekly,
		SyncCapabilities: []integration.Capability{integration.CapabilityPeople},
	})
	require.NoError(t, err)

	close(abandoned.release)
	assert.ErrorIs(t, waitErr(t, abandonedDone, "first sync to return"), integration.ErrSyncSuperseded)

	row, err := repo.FindByID(ctx, i.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.StatusSyncing, row.Status, "the late run must not release the newer sync")

	_, err = svc.TriggerSync(ctx, req)
	assert.ErrorIs(t, err, integration.ErrSyncInProgress)

	close(current.release)
	require.NoError(t, waitErr(t, currentDone, "second sync to return"))

	row, err = repo.FindByID(ctx, i.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.StatusConnected, row.Status)
	assert.Nil(t, row.SyncStartedAt)
	require.NotNil(t, row.LastSyncDate)
	assert.True(t, fixedNow.Add(3*time.Hour).Equal(*row.LastSyncDate))
	assert.Equal(t, integration.SyncScheduleWeekly, row.Settings.SyncSchedule)
	assert.Equal(t, integration.CapabilityStats{Synced: 2}, row.SyncStats[integration.CapabilityPeople])
}
