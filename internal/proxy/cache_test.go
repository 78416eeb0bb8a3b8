package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	assert.False(t, c.RecentlyOK(ctx, "a"))
	c.MarkOK(ctx, "a", time.Hour)
	assert.True(t, c.RecentlyOK(ctx, "a"))

	now = now.Add(time.Hour)
	assert.False(t, c.RecentlyOK(ctx, "a"))
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewRedisCache(rdb, "t:")
	ctx := context.Background()

	assert.False(t, c.RecentlyOK(ctx, "1.2.3.4:80"))
	c.MarkOK(ctx, "1.2.3.4:80", time.Hour)
	assert.True(t, c.RecentlyOK(ctx, "1.2.3.4:80"))
	assert.True(t, mr.Exists("t:1.2.3.4:80"))

	mr.FastForward(time.Hour + time.Second)
	assert.False(t, c.RecentlyOK(ctx, "1.2.3.4:80"))
}

func TestRedisCacheOutageReadsAsMiss(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()

	c := NewRedisCache(rdb, "t:")
	c.MarkOK(context.Background(), "x", time.Hour)
	mr.Close()

	assert.False(t, c.RecentlyOK(context.Background(), "x"))
}
