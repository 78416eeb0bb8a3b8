package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestCache remembers addresses that passed a probe recently.
type TestCache interface {
	RecentlyOK(ctx context.Context, address string) bool
	MarkOK(ctx context.Context, address string, ttl time.Duration)
}

type MemoryCache struct {
	mu  sync.Mutex
	now func() time.Time
	exp map[string]time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now, exp: make(map[string]time.Time)}
}

func (c *MemoryCache) RecentlyOK(_ context.Context, address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.exp[address]
	if !ok {
		return false
	}
	if !c.now().Before(until) {
		delete(c.exp, address)
		return false
	}
	return true
}

func (c *MemoryCache) MarkOK(_ context.Context, address string, ttl time.Duration) {
	c.mu.Lock()
	c.exp[address] = c.now().Add(ttl)
	c.mu.Unlock()
}

// RedisCache shares probe results between processes. Lookup failures read as
// a miss so a redis outage only costs an extra probe.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisCache(rdb redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) RecentlyOK(ctx context.Context, address string) bool {
	n, err := c.rdb.Exists(ctx, c.prefix+address).Result()
	return err == nil && n > 0
}

func (c *RedisCache) MarkOK(ctx context.Context, address string, ttl time.Duration) {
	_ = c.rdb.Set(ctx, c.prefix+address, time.Now().UnixMilli(), ttl).Err()
}
