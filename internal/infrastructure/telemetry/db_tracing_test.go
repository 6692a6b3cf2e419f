package telemetry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/churchsync/chms-integration/internal/infrastructure/telemetry"
)

func TestRegisterDBTracing(t *testing.T) {
	t.Run("disabled registers nothing", func(t *testing.T) {
		sr := setupTestTracer(t)
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		require.NoError(t, err)

		require.NoError(t, telemetry.RegisterDBTracing(db, telemetry.DBTracingConfig{}, zaptest.NewLogger(t)))
		require.NoError(t, db.Exec("SELECT 1").Error)
		assert.Empty(t, sr.Ended())
	})

	t.Run("enabled emits a span per statement", func(t *testing.T) {
		sr := setupTestTracer(t)
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		require.NoError(t, err)

		require.NoError(t, telemetry.RegisterDBTracing(db, telemetry.DBTracingConfig{
			Enabled: true,
			DBName:  "chms",
		}, zaptest.NewLogger(t)))
		require.NoError(t, db.Exec("SELECT 1").Error)
		assert.NotEmpty(t, sr.Ended())
	})
}
