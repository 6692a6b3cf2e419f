package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/churchsync/chms-integration/internal/infrastructure/config"
)

// startRedis runs a throwaway Redis container and returns its config
func startRedis(t *testing.T) config.RedisConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return config.RedisConfig{Enabled: true, Host: host, Port: port.Int()}
}

func TestRedisSyncLock(t *testing.T) {
	cfg := startRedis(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	first := NewRedisSyncLock(client, "test:")
	defer first.Close()

	other, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	second := NewRedisSyncLock(other, "test:")
	defer second.Close()

	var held string

	t.Run("one holder across instances", func(t *testing.T) {
		token, ok, err := first.Acquire(ctx, "sync:a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		held = token

		_, ok, err = second.Acquire(ctx, "sync:a", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ttl, err := client.TTL(ctx, "test:sync:a").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})

	t.Run("non-holder release keeps the key", func(t *testing.T) {
		require.NoError(t, second.Release(ctx, "sync:a", "not-the-holder"))
		require.NoError(t, second.Release(ctx, "sync:a", ""))
		exists, err := client.Exists(ctx, "test:sync:a").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)
	})

	t.Run("holder release frees the key", func(t *testing.T) {
		require.NoError(t, first.Release(ctx, "sync:a", held))
		token, ok, err := second.Acquire(ctx, "sync:a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, second.Release(ctx, "sync:a", token))
	})

	t.Run("stale token does not delete a new holder", func(t *testing.T) {
		stale, ok, err := first.Acquire(ctx, "sync:b", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		// Simulate expiry followed by another holder taking the key.
		require.NoError(t, client.Del(ctx, "test:sync:b").Err())
		current, ok, err := first.Acquire(ctx, "sync:b", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, first.Release(ctx, "sync:b", stale))
		val, err := client.Get(ctx, "test:sync:b").Result()
		require.NoError(t, err)
		assert.Equal(t, current, val)
		require.NoError(t, first.Release(ctx, "sync:b", current))
	})
}

func TestSyncLockFactory_CreateLock(t *testing.T) {
	ctx := context.Background()
	unreachable := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

	t.Run("redis disabled uses memory", func(t *testing.T) {
		lock, err := NewSyncLockFactory(config.RedisConfig{}).CreateLock(ctx)
		require.NoError(t, err)
		assert.IsType(t, &InMemorySyncLock{}, lock)
	})

	t.Run("unreachable redis falls back", func(t *testing.T) {
		lock, err := NewSyncLockFactory(unreachable, WithLogger(zap.NewNop())).CreateLock(ctx)
		require.NoError(t, err)
		assert.IsType(t, &InMemorySyncLock{}, lock)
	})

	t.Run("fallback can be disabled", func(t *testing.T) {
		_, err := NewSyncLockFactory(unreachable, WithInMemoryFallback(false)).CreateLock(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis required")
	})

	t.Run("reachable redis is used", func(t *testing.T) {
		cfg := startRedis(t)
		lock, err := NewSyncLockFactory(cfg, WithKeyPrefix("factory:")).CreateLock(ctx)
		require.NoError(t, err)
		defer lock.Close()
		require.IsType(t, &RedisSyncLock{}, lock)
		assert.Equal(t, "factory:", lock.(*RedisSyncLock).keyPrefix)
	})
}

