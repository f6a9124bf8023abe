package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLimiter_Burst(t *testing.T) {
	l := NewLocalLimiter(CommandRule(3, time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "conn-1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := l.Allow(ctx, "conn-1")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "conn-2")
	assert.True(t, ok, "identifiers have separate buckets")
}

func TestLocalLimiter_Refills(t *testing.T) {
	l := NewLocalLimiter(CommandRule(2, 40*time.Millisecond))
	ctx := context.Background()

	l.Allow(ctx, "c")
	l.Allow(ctx, "c")
	ok, _ := l.Allow(ctx, "c")
	require.False(t, ok)

	assert.Eventually(t, func() bool {
		ok, _ := l.Allow(ctx, "c")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestLocalLimiter_Forget(t *testing.T) {
	l := NewLocalLimiter(CommandRule(1, time.Hour))
	ctx := context.Background()

	l.Allow(ctx, "c")
	assert.Equal(t, 1, l.size())
	l.Forget("c")
	assert.Zero(t, l.size())

	ok, _ := l.Allow(ctx, "c")
	assert.True(t, ok)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLimiter(t *testing.T) {
	client := newTestRedis(t)
	rule := Rule{Key: "rl:test:" + uuid.NewString() + ":", Limit: 2, Window: time.Minute}
	l := NewRedisLimiter(client, rule, zap.NewNop())
	ctx := context.Background()
	t.Cleanup(func() { l.Forget("conn") })

	rem, err := l.remaining(ctx, "conn")
	require.NoError(t, err)
	assert.Equal(t, 2, rem)

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "conn")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "conn")
	require.NoError(t, err)
	assert.False(t, ok)

	rem, _ = l.remaining(ctx, "conn")
	assert.Zero(t, rem)

	ttl, err := client.TTL(ctx, rule.Key+"conn").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	l.Forget("conn")
	ok, _ = l.Allow(ctx, "conn")
	assert.True(t, ok)
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewRedisLimiter(client, CommandRule(1, time.Minute), zap.NewNop())
	ok, err := l.Allow(context.Background(), "conn")
	assert.Error(t, err)
	assert.True(t, ok)
}
