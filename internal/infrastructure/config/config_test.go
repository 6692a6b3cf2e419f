package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the tests touch so ambient values don't leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHMS_APP_ENV", "CHMS_DATABASE_HOST", "CHMS_DATABASE_PASSWORD", "CHMS_DATABASE_SSLMODE",
		"CHMS_DATABASE_MAX_OPEN_CONNS", "CHMS_DATABASE_MAX_IDLE_CONNS",
		"CHMS_SYNC_MAX_RETRIES", "CHMS_SYNC_MAX_DELAY", "CHMS_SYNC_INITIAL_DELAY", "CHMS_SYNC_POLICY",
		"CHMS_SYNC_JITTER", "CHMS_ENCRYPTION_MASTER_KEY", "CHMS_ARCHIVE_ENABLED", "CHMS_ARCHIVE_BUCKET",
		"CHMS_WATCHDOG_ENABLED", "CHMS_WATCHDOG_STALE_AFTER", "CHMS_TELEMETRY_SAMPLING_RATIO",
		"CHMS_SYNC_ALLOWED_PROVIDER_HOSTS", "CHMS_ALERTS_WEBHOOK_FORMAT", "CHMS_ALERTS_ERROR_THRESHOLD",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "chms-integration", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "chms", cfg.Database.DBName)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 3, cfg.Sync.MaxRetries)
		assert.Equal(t, time.Second, cfg.Sync.InitialDelay)
		assert.Equal(t, 5*time.Second, cfg.Sync.MaxDelay)
		assert.Equal(t, float64(2), cfg.Sync.Factor)
		assert.Equal(t, "fail_fast", cfg.Sync.Policy)
		assert.False(t, cfg.Sync.IsolatedPolicy())
		assert.Equal(t, 100000, cfg.Encryption.PBKDF2Iterations)
		assert.Equal(t, 2*cfg.Sync.SyncTimeout, cfg.Watchdog.StaleAfter)
		assert.Equal(t, cfg.Sync.SyncTimeout, cfg.Scheduler.JobTimeout)
		assert.Equal(t, 2, cfg.Alerts.ErrorThreshold)
		assert.Equal(t, 10*time.Minute, cfg.Alerts.SlowSyncThreshold)
		assert.Equal(t, "generic", cfg.Alerts.WebhookFormat)
		assert.Empty(t, cfg.Sync.AllowedProviderHosts)
	})

	t.Run("loads values from environment variables with CHMS prefix", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CHMS_DATABASE_HOST", "db.internal")
		t.Setenv("CHMS_SYNC_MAX_RETRIES", "5")
		t.Setenv("CHMS_SYNC_MAX_DELAY", "10s")
		t.Setenv("CHMS_SYNC_POLICY", "isolated")
		t.Setenv("CHMS_SYNC_ALLOWED_PROVIDER_HOSTS", "ccb.grace.church api.staging.breezechms.test")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"ccb.grace.church", "api.staging.breezechms.test"}, cfg.Sync.AllowedProviderHosts)

		assert.Equal(t, "db.internal", cfg.Database.Host)
		assert.Equal(t, 5, cfg.Sync.MaxRetries)
		assert.Equal(t, 10*time.Second, cfg.Sync.MaxDelay)
		assert.True(t, cfg.Sync.IsolatedPolicy())
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CHMS_DATABASE_MAX_OPEN_CONNS", "10")
		t.Setenv("CHMS_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"unknown policy", func(c *Config) { c.Sync.Policy = "best_effort" }, "sync.policy"},
		{"jitter out of range", func(c *Config) { c.Sync.Jitter = 1.5 }, "sync.jitter"},
		{"max delay below initial", func(c *Config) { c.Sync.MaxDelay = 100 * time.Millisecond }, "sync.max_delay"},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }, "archive.bucket"},
		{"watchdog shorter than sync", func(c *Config) {
			c.Watchdog.Enabled = true
			c.Watchdog.StaleAfter = time.Minute
		}, "watchdog.stale_after"},
		{"production requires master key", func(c *Config) {
			c.App.Env = "production"
			c.Database.Password = "pw"
			c.Database.SSLMode = "require"
		}, "encryption.master_key"},
		{"production short master key", func(c *Config) {
			c.App.Env = "production"
			c.Encryption.MasterKey = "short"
		}, "at least 32"},
		{"sampling ratio", func(c *Config) { c.Telemetry.SamplingRatio = 2 }, "sampling_ratio"},
		{"alert threshold not below window", func(c *Config) { c.Alerts.ErrorThreshold = c.Alerts.Window }, "alerts.error_threshold"},
		{"unknown webhook format", func(c *Config) { c.Alerts.WebhookFormat = "teams" }, "alerts.webhook_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p@ss", DBName: "chms", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss@h:5432/chms?sslmode=disable", d.DSN())
}
