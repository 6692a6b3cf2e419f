package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"

	"github.com/churchsync/chms-integration/internal/domain/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/config"
	"github.com/churchsync/chms-integration/internal/infrastructure/migration"
)

// newPostgresTestDB starts a postgres container and applies the SQL migrations
func newPostgresTestDB(t *testing.T) *Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("chms_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(postgres.Open(dsn), &config.DatabaseConfig{MaxOpenConns: 20, MaxIdleConns: 5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlDB, err := db.SQLDB()
	require.NoError(t, err)
	_, file, _, _ := runtime.Caller(0)
	migrationsPath, err := filepath.Abs(filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations"))
	require.NoError(t, err)

	m, err := migration.New(sqlDB, migrationsPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())
	return db
}

func TestGormIntegrationRepository_Postgres(t *testing.T) {
	db := newPostgresTestDB(t)
	repo := NewGormIntegrationRepository(db.DB)
	ctx := context.Background()

	i := newTestIntegration(t, "org-pg", integration.ProviderPlanningCenter)
	require.NoError(t, repo.Create(ctx, i))
	assert.ErrorIs(t,
		repo.Create(ctx, newTestIntegration(t, "org-pg", integration.ProviderPlanningCenter)),
		integration.ErrIntegrationAlreadyExists)

	t.Run("only one concurrent begin wins", func(t *testing.T) {
		const callers = 10
		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			wins       int
			inProgress int
		)
		started := time.Now().UTC()
		for n := 0; n < callers; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.TryBeginSync(ctx, i.ID, started)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, integration.ErrSyncInProgress):
					inProgress++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, callers-1, inProgress)
	})

	t.Run("json columns round trip", func(t *testing.T) {
		found, err := repo.FindByID(ctx, i.ID)
		require.NoError(t, err)
		// finish the sync that won the race above
		require.Equal(t, integration.StatusSyncing, found.Status)
		require.NotNil(t, found.SyncStartedAt)
		started := *found.SyncStartedAt
		found.RecordCapability(integration.CapabilityEvents, 42, false)
		found.CompleteSync(time.Now().UTC())
		require.NoError(t, repo.FinishSync(ctx, found, started))

		again, err := repo.FindByID(ctx, i.ID)
		require.NoError(t, err)
		assert.Equal(t, integration.StatusConnected, again.Status)
		assert.Equal(t, 42, again.SyncStats[integration.CapabilityEvents].Synced)
		assert.ElementsMatch(t, integration.AllCapabilities(), again.Settings.SyncCapabilities)
	})
}
