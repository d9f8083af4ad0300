package payments

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// ReplayCache remembers the settled outcome of each verification payload so
// a redelivered callback is answered without touching the store again.
type ReplayCache interface {
	Lookup(ctx context.Context, key string) (Outcome, bool, error)
	Remember(ctx context.Context, key string, outcome Outcome) error
}

const (
	RedisReplayPrefix = "payment_verification:"
	ReplayTTL         = 24 * time.Hour
)

// replayKey digests the parts of a payload that identify it.
func replayKey(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	outcome   Outcome
	expiresAt time.Time
}

// MemoryReplayCache keeps outcomes for TTL, like the Redis cache. Expired
// entries are dropped on lookup and purged at most once per TTL on write.
type MemoryReplayCache struct {
	TTL time.Duration

	mu        sync.Mutex
	entries   map[string]memoryEntry
	lastPurge time.Time
	now       func() time.Time
}

func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{TTL: ReplayTTL, entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryReplayCache) Lookup(ctx context.Context, key string) (Outcome, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.outcome, true, nil
}

func (m *MemoryReplayCache) Remember(ctx context.Context, key string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Sub(m.lastPurge) >= m.TTL {
		for k, e := range m.entries {
			if !now.Before(e.expiresAt) {
				delete(m.entries, k)
			}
		}
		m.lastPurge = now
	}
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		return nil
	}
	m.entries[key] = memoryEntry{outcome: outcome, expiresAt: now.Add(m.TTL)}
	return nil
}

// Len reports how many entries are held, expired or not.
func (m *MemoryReplayCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RedisReplayCache shares outcomes across instances. The first writer wins.
type RedisReplayCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisReplayCache(client *redis.Client) *RedisReplayCache {
	return &RedisReplayCache{Client: client, TTL: ReplayTTL}
}

func (r *RedisReplayCache) Lookup(ctx context.Context, key string) (Outcome, bool, error) {
	val, err := r.Client.Get(ctx, RedisReplayPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read replay cache: %w", err)
	}
	return Outcome(val), true, nil
}

func (r *RedisReplayCache) Remember(ctx context.Context, key string, outcome Outcome) error {
	if err := r.Client.SetNX(ctx, RedisReplayPrefix+key, string(outcome), r.TTL).Err(); err != nil {
		return fmt.Errorf("failed to write replay cache: %w", err)
	}
	return nil
}
