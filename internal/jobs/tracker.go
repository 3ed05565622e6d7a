package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker coalesces concurrent repair requests for the same message.
type Tracker interface {
	// TryStart marks the message as being repaired. It returns false when a
	// repair is already running.
	TryStart(ctx context.Context, messageID string) (bool, error)
	Active(ctx context.Context, messageID string) (bool, error)
	Finish(ctx context.Context, messageID string) error
}

// MemoryTracker works within one process.
type MemoryTracker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{active: make(map[string]struct{})}
}

func (t *MemoryTracker) TryStart(_ context.Context, messageID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[messageID]; ok {
		return false, nil
	}
	t.active[messageID] = struct{}{}
	return true, nil
}

func (t *MemoryTracker) Active(_ context.Context, messageID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[messageID]
	return ok, nil
}

func (t *MemoryTracker) Finish(_ context.Context, messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, messageID)
	return nil
}

const (
	// DefaultRepairTTL bounds how long a crashed repair blocks new requests.
	DefaultRepairTTL = 10 * time.Minute

	repairKeyPrefix = "mailsync:repair:"
)

// RedisTracker shares repair state between processes with SET NX.
type RedisTracker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisTracker(rdb *redis.Client) *RedisTracker {
	return &RedisTracker{rdb: rdb, ttl: DefaultRepairTTL}
}

func (t *RedisTracker) TryStart(ctx context.Context, messageID string) (bool, error) {
	set, err := t.rdb.SetNX(ctx, repairKeyPrefix+messageID, 1, t.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("repair SETNX: %w", err)
	}
	return set, nil
}

func (t *RedisTracker) Active(ctx context.Context, messageID string) (bool, error) {
	n, err := t.rdb.Exists(ctx, repairKeyPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("repair EXISTS: %w", err)
	}
	return n > 0, nil
}

func (t *RedisTracker) Finish(ctx context.Context, messageID string) error {
	if err := t.rdb.Del(ctx, repairKeyPrefix+messageID).Err(); err != nil {
		return fmt.Errorf("repair DEL: %w", err)
	}
	return nil
}
