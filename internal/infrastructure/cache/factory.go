package cache

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/churchsync/chms-integration/internal/application/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/config"
)

// SyncLockCloser is a SyncLock that owns a connection
type SyncLockCloser interface {
	integration.SyncLock
	io.Closer
}

// SyncLockFactory creates sync locks based on configuration
type SyncLockFactory struct {
	redisConfig           config.RedisConfig
	keyPrefix             string
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// SyncLockFactoryOption is a functional option for configuring the factory
type SyncLockFactoryOption func(*SyncLockFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) SyncLockFactoryOption {
	return func(f *SyncLockFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to an
// in-process lock. Default is true.
func WithInMemoryFallback(allow bool) SyncLockFactoryOption {
	return func(f *SyncLockFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithKeyPrefix sets the Redis key prefix
func WithKeyPrefix(prefix string) SyncLockFactoryOption {
	return func(f *SyncLockFactory) {
		f.keyPrefix = prefix
	}
}

// NewSyncLockFactory creates a new factory
func NewSyncLockFactory(cfg config.RedisConfig, opts ...SyncLockFactoryOption) *SyncLockFactory {
	f := &SyncLockFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateLock returns a Redis lock when Redis is enabled and reachable.
// Otherwise it returns an in-memory lock, or an error if fallback is off.
func (f *SyncLockFactory) CreateLock(ctx context.Context) (SyncLockCloser, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory sync lock")
		return NewInMemorySyncLock(), nil
	}

	client, err := NewRedisClient(ctx, f.redisConfig)
	if err == nil {
		f.logger.Info("Using Redis sync lock",
			zap.String("host", f.redisConfig.Host),
			zap.Int("port", f.redisConfig.Port),
		)
		return NewRedisSyncLock(client, f.keyPrefix), nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for sync lock but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory sync lock. "+
		"Concurrent instances rely on the database check only.",
		zap.Error(err),
	)
	return NewInMemorySyncLock(), nil
}
