package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/churchsync/chms-integration/internal/infrastructure/config"
	"github.com/churchsync/chms-integration/internal/infrastructure/telemetry"
)

// Database holds the database connection and provides methods for database operations
type Database struct {
	DB *gorm.DB
}

// Option configures how the connection is opened
type Option func(*openOptions)

type openOptions struct {
	gormLogger gormlogger.Interface
	tracing    telemetry.DBTracingConfig
	logger     *zap.Logger
}

// WithGormLogger routes GORM's query log through l
func WithGormLogger(l gormlogger.Interface) Option {
	return func(o *openOptions) {
		o.gormLogger = l
	}
}

// WithTracing registers the otelgorm plugin when cfg.Enabled is set
func WithTracing(cfg telemetry.DBTracingConfig, logger *zap.Logger) Option {
	return func(o *openOptions) {
		o.tracing = cfg
		o.logger = logger
	}
}

// NewDatabase connects to PostgreSQL using cfg
func NewDatabase(cfg *config.DatabaseConfig, opts ...Option) (*Database, error) {
	return Open(postgres.Open(cfg.DSN()), cfg, opts...)
}

// Open connects through any GORM dialector, applies the pool limits from cfg
// and verifies the connection.
func Open(dialector gorm.Dialector, cfg *config.DatabaseConfig, opts ...Option) (*Database, error) {
	o := &openOptions{
		gormLogger: gormlogger.Default.LogMode(gormlogger.Silent),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 o.gormLogger,
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := telemetry.RegisterDBTracing(db, o.tracing, o.logger); err != nil {
		return nil, fmt.Errorf("failed to register database tracing: %w", err)
	}
	return &Database{DB: db}, nil
}

// SQLDB returns the underlying connection pool
func (d *Database) SQLDB() (*sql.DB, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.SQLDB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.SQLDB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Transaction executes a function within a database transaction
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}
