package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLedgerTTL = 24 * time.Hour

var errEmptyLedgerKey = errors.New("callback ledger: key is required")

// RedisCallbackLedger claims keys with SET NX so every replica sees the same claims.
type RedisCallbackLedger struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCallbackLedger(client redis.UniversalClient, prefix string) *RedisCallbackLedger {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "linking"
	}
	return &RedisCallbackLedger{client: client, prefix: trimmed + ":mpesa_callback"}
}

func (l *RedisCallbackLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errEmptyLedgerKey
	}
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return l.client.SetNX(ctx, l.prefix+":"+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (l *RedisCallbackLedger) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+":"+strings.TrimSpace(key)).Err()
}

// MemoryCallbackLedger is a single-process ledger with TTL pruning.
type MemoryCallbackLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	Now     func() time.Time
}

func NewMemoryCallbackLedger() *MemoryCallbackLedger {
	return &MemoryCallbackLedger{
		entries: map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryCallbackLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errEmptyLedgerKey
	}
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	now := l.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, k)
		}
	}
	if _, ok := l.entries[key]; ok {
		return false, nil
	}
	l.entries[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryCallbackLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, strings.TrimSpace(key))
	return nil
}
