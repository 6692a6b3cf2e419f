package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Sync       SyncConfig
	Encryption EncryptionConfig
	Scheduler  SchedulerConfig
	Watchdog   WatchdogConfig
	Archive    ArchiveConfig
	Alerts     AlertsConfig
	Telemetry  TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. When Enabled is false the
// sync lock runs in-process only.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds the ops HTTP server configuration
type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SyncConfig controls outbound provider calls and the sync run itself
type SyncConfig struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Factor         float64
	Jitter         float64
	RequestTimeout time.Duration // per HTTP request
	SyncTimeout    time.Duration // whole TriggerSync call
	Policy         string        // fail_fast or isolated
	LockTTL        time.Duration // distributed sync lock lifetime

	// AllowedProviderHosts extends the built-in provider host allowlist
	// (space separated in CHMS_SYNC_ALLOWED_PROVIDER_HOSTS)
	AllowedProviderHosts []string
}

// EncryptionConfig holds credential-at-rest encryption settings
type EncryptionConfig struct {
	MasterKey        string
	PBKDF2Iterations int
}

// SchedulerConfig holds the periodic sync runner configuration
type SchedulerConfig struct {
	Enabled           bool
	CheckInterval     time.Duration
	MaxConcurrentJobs int
	JobTimeout        time.Duration
}

// WatchdogConfig holds the stale sync reconciler configuration
type WatchdogConfig struct {
	Enabled       bool
	CheckInterval time.Duration
	StaleAfter    time.Duration
}

// ArchiveConfig holds S3-compatible sync result archive settings
type ArchiveConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// AlertsConfig holds sync health alert thresholds and the webhook target.
// Alerts are always logged; the webhook is used only when WebhookURL is set.
type AlertsConfig struct {
	ErrorThreshold    int           // failed runs in the window above which an error alert fires
	Window            int           // recent runs remembered per integration
	SlowSyncThreshold time.Duration // average run time above which a performance alert fires
	Cooldown          time.Duration // minimum gap between repeats of one alert for one integration
	HistorySize       int           // alerts kept for GET /alerts
	NotifyTimeout     time.Duration
	WebhookURL        string
	WebhookFormat     string // generic or slack
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled               bool    // Whether to enable OpenTelemetry
	CollectorEndpoint     string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio         float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName           string
	Insecure              bool // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled        bool // Enable database query tracing (otelgorm)
	MetricsEnabled        bool
	MetricsExportInterval time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CHMS_ prefix (e.g., CHMS_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CHMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			Port:         v.GetString("http.port"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
		},
		Sync: SyncConfig{
			MaxRetries:     v.GetInt("sync.max_retries"),
			InitialDelay:   v.GetDuration("sync.initial_delay"),
			MaxDelay:       v.GetDuration("sync.max_delay"),
			Factor:         v.GetFloat64("sync.factor"),
			Jitter:         v.GetFloat64("sync.jitter"),
			RequestTimeout: v.GetDuration("sync.request_timeout"),
			SyncTimeout:    v.GetDuration("sync.sync_timeout"),
			Policy:         v.GetString("sync.policy"),
			LockTTL:        v.GetDuration("sync.lock_ttl"),

			AllowedProviderHosts: v.GetStringSlice("sync.allowed_provider_hosts"),
		},
		Encryption: EncryptionConfig{
			MasterKey:        v.GetString("encryption.master_key"),
			PBKDF2Iterations: v.GetInt("encryption.pbkdf2_iterations"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			CheckInterval:     v.GetDuration("scheduler.check_interval"),
			MaxConcurrentJobs: v.GetInt("scheduler.max_concurrent_jobs"),
			JobTimeout:        v.GetDuration("scheduler.job_timeout"),
		},
		Watchdog: WatchdogConfig{
			Enabled:       v.GetBool("watchdog.enabled"),
			CheckInterval: v.GetDuration("watchdog.check_interval"),
			StaleAfter:    v.GetDuration("watchdog.stale_after"),
		},
		Archive: ArchiveConfig{
			Enabled:         v.GetBool("archive.enabled"),
			Endpoint:        v.GetString("archive.endpoint"),
			Region:          v.GetString("archive.region"),
			Bucket:          v.GetString("archive.bucket"),
			AccessKeyID:     v.GetString("archive.access_key_id"),
			SecretAccessKey: v.GetString("archive.secret_access_key"),
			UsePathStyle:    v.GetBool("archive.use_path_style"),
			Prefix:          v.GetString("archive.prefix"),
		},
		Alerts: AlertsConfig{
			ErrorThreshold:    v.GetInt("alerts.error_threshold"),
			Window:            v.GetInt("alerts.window"),
			SlowSyncThreshold: v.GetDuration("alerts.slow_sync_threshold"),
			Cooldown:          v.GetDuration("alerts.cooldown"),
			HistorySize:       v.GetInt("alerts.history_size"),
			NotifyTimeout:     v.GetDuration("alerts.notify_timeout"),
			WebhookURL:        v.GetString("alerts.webhook_url"),
			WebhookFormat:     v.GetString("alerts.webhook_format"),
		},
		Telemetry: TelemetryConfig{
			Enabled:               v.GetBool("telemetry.enabled"),
			CollectorEndpoint:     v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:         v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:           v.GetString("telemetry.service_name"),
			Insecure:              v.GetBool("telemetry.insecure"),
			DBTraceEnabled:        v.GetBool("telemetry.db_trace_enabled"),
			MetricsEnabled:        v.GetBool("telemetry.metrics_enabled"),
			MetricsExportInterval: v.GetDuration("telemetry.metrics_export_interval"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "chms-integration"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "chms"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8081"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.InitialDelay == 0 {
		cfg.Sync.InitialDelay = time.Second
	}
	if cfg.Sync.MaxDelay == 0 {
		cfg.Sync.MaxDelay = 5 * time.Second
	}
	if cfg.Sync.Factor == 0 {
		cfg.Sync.Factor = 2
	}
	if cfg.Sync.Jitter == 0 {
		cfg.Sync.Jitter = 0.1
	}
	if cfg.Sync.RequestTimeout == 0 {
		cfg.Sync.RequestTimeout = 30 * time.Second
	}
	if cfg.Sync.SyncTimeout == 0 {
		cfg.Sync.SyncTimeout = 15 * time.Minute
	}
	if cfg.Sync.Policy == "" {
		cfg.Sync.Policy = "fail_fast"
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = cfg.Sync.SyncTimeout + time.Minute
	}
	if cfg.Encryption.PBKDF2Iterations == 0 {
		cfg.Encryption.PBKDF2Iterations = 100000
	}
	if cfg.Scheduler.CheckInterval == 0 {
		cfg.Scheduler.CheckInterval = 15 * time.Minute
	}
	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 5
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = cfg.Sync.SyncTimeout
	}
	if cfg.Watchdog.CheckInterval == 0 {
		cfg.Watchdog.CheckInterval = 5 * time.Minute
	}
	if cfg.Watchdog.StaleAfter == 0 {
		// Longer than any legitimate sync run
		cfg.Watchdog.StaleAfter = 2 * cfg.Sync.SyncTimeout
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "sync-results"
	}
	if cfg.Alerts.ErrorThreshold == 0 {
		cfg.Alerts.ErrorThreshold = 2
	}
	if cfg.Alerts.Window == 0 {
		cfg.Alerts.Window = 10
	}
	if cfg.Alerts.SlowSyncThreshold == 0 {
		cfg.Alerts.SlowSyncThreshold = 10 * time.Minute
	}
	if cfg.Alerts.Cooldown == 0 {
		cfg.Alerts.Cooldown = time.Hour
	}
	if cfg.Alerts.HistorySize == 0 {
		cfg.Alerts.HistorySize = 500
	}
	if cfg.Alerts.NotifyTimeout == 0 {
		cfg.Alerts.NotifyTimeout = 5 * time.Second
	}
	if cfg.Alerts.WebhookFormat == "" {
		cfg.Alerts.WebhookFormat = "generic"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "chms-integration"
	}
	if cfg.Telemetry.MetricsExportInterval == 0 {
		cfg.Telemetry.MetricsExportInterval = 60 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries cannot be negative")
	}
	if c.Sync.MaxDelay < c.Sync.InitialDelay {
		return fmt.Errorf("sync.max_delay (%s) cannot be less than sync.initial_delay (%s)",
			c.Sync.MaxDelay, c.Sync.InitialDelay)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter >= 1 {
		return fmt.Errorf("sync.jitter must be in [0, 1), got %f", c.Sync.Jitter)
	}
	if c.Sync.Policy != "fail_fast" && c.Sync.Policy != "isolated" {
		return fmt.Errorf("sync.policy must be fail_fast or isolated, got %q", c.Sync.Policy)
	}

	if c.Scheduler.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_jobs must be positive")
	}
	if c.Watchdog.Enabled && c.Watchdog.StaleAfter <= c.Sync.SyncTimeout {
		return fmt.Errorf("watchdog.stale_after (%s) must exceed sync.sync_timeout (%s)",
			c.Watchdog.StaleAfter, c.Sync.SyncTimeout)
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive is enabled")
	}

	if c.Alerts.ErrorThreshold < 0 || c.Alerts.ErrorThreshold >= c.Alerts.Window {
		return fmt.Errorf("alerts.error_threshold must be in [0, alerts.window), got %d", c.Alerts.ErrorThreshold)
	}
	if c.Alerts.WebhookFormat != "generic" && c.Alerts.WebhookFormat != "slack" {
		return fmt.Errorf("alerts.webhook_format must be generic or slack, got %q", c.Alerts.WebhookFormat)
	}

	if c.App.Env == "production" {
		if c.Encryption.MasterKey == "" {
			return fmt.Errorf("encryption.master_key is required in production")
		}
		if len(c.Encryption.MasterKey) < 32 {
			return fmt.Errorf("encryption.master_key must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// IsolatedPolicy returns true when capability failures should not stop a sync
func (s SyncConfig) IsolatedPolicy() bool {
	return s.Policy == "isolated"
}
