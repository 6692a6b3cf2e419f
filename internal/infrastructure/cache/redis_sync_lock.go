package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/churchsync/chms-integration/internal/application/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/config"
)

const defaultLockPrefix = "chms:lock:"

// releaseScript deletes the key only while it still holds the caller's token,
// so an expired lock that another holder re-acquired is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSyncLock implements SyncLock with SET NX and a per-holder token.
// It is shared by every process that syncs against the same database.
type RedisSyncLock struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ integration.SyncLock = (*RedisSyncLock)(nil)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisSyncLock wraps an existing client. An empty prefix uses "chms:lock:".
func NewRedisSyncLock(client redis.UniversalClient, keyPrefix string) *RedisSyncLock {
	if keyPrefix == "" {
		keyPrefix = defaultLockPrefix
	}
	return &RedisSyncLock{client: client, keyPrefix: keyPrefix}
}

// Acquire sets the key to a fresh token if absent. It returns false when
// someone else holds it.
func (l *RedisSyncLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the key while it still holds token. An empty token is a no-op.
func (l *RedisSyncLock) Release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.keyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying client
func (l *RedisSyncLock) Close() error {
	return l.client.Close()
}
