package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Debouncer collapses bursts of schedule requests for the same record into one.
// Acquire reports true when the caller owns the pending slot for key.
type Debouncer interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryDebouncer keeps pending slots in process memory.
type MemoryDebouncer struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewMemoryDebouncer() *MemoryDebouncer {
	return &MemoryDebouncer{until: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDebouncer) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.until[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.until[key] = now.Add(ttl)
	if len(d.until) > 4096 {
		for k, exp := range d.until {
			if !now.Before(exp) {
				delete(d.until, k)
			}
		}
	}
	return true, nil
}

// RedisDebouncer shares pending slots between service instances with SETNX.
type RedisDebouncer struct {
	client *redis.Client
	prefix string
}

func NewRedisDebouncer(client *redis.Client) *RedisDebouncer {
	return &RedisDebouncer{client: client, prefix: "embed:pending:"}
}

func (d *RedisDebouncer) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, 1, ttl).Result()
}

var (
	_ Debouncer = (*MemoryDebouncer)(nil)
	_ Debouncer = (*RedisDebouncer)(nil)
)
