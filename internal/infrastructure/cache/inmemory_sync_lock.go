package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/churchsync/chms-integration/internal/application/integration"
)

// InMemorySyncLock implements SyncLock inside one process.
// WARNING: it does not coordinate separate instances; the database
// check-and-set is the only cross-process guard when it is used.
type InMemorySyncLock struct {
	mu       sync.Mutex
	locks    map[string]heldLock
	now      func() time.Time
	newToken func() string
}

// heldLock is the current holder of one key
type heldLock struct {
	token     string
	expiresAt time.Time
}

var _ integration.SyncLock = (*InMemorySyncLock)(nil)

// NewInMemorySyncLock creates an empty in-process lock table
func NewInMemorySyncLock() *InMemorySyncLock {
	return &InMemorySyncLock{
		locks:    make(map[string]heldLock),
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// Acquire takes the key unless an unexpired holder exists
func (l *InMemorySyncLock) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return "", false, nil
	}
	token := l.newToken()
	l.locks[key] = heldLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Release drops the key if token still holds it
func (l *InMemorySyncLock) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.locks[key]; ok && held.token == token {
		delete(l.locks, key)
	}
	return nil
}

// Close is a no-op
func (l *InMemorySyncLock) Close() error { return nil }

// Size returns the number of tracked keys, expired ones included
func (l *InMemorySyncLock) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
