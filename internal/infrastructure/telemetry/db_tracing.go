package telemetry

import (
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled bool
	// DBName is reported as db.name on every span
	DBName string
	// IncludeQueryVariables puts bound values into db.statement. Never enable
	// in production; integration rows carry encrypted credentials.
	IncludeQueryVariables bool
}

// RegisterDBTracing installs the otelgorm plugin so every repository call
// becomes a child span of the sync that issued it.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	var opts []otelgorm.Option
	if cfg.DBName != "" {
		opts = append(opts, otelgorm.WithDBName(cfg.DBName))
	}
	if !cfg.IncludeQueryVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}

	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}
	logger.Info("Database tracing enabled", zap.String("db_name", cfg.DBName))
	return nil
}
