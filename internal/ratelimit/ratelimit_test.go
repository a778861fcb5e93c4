package ratelimit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRedis(t *testing.T, limit int) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, limit, time.Minute, testLogger()), server
}

func TestRedisLimiterSlidingWindow(t *testing.T) {
	limiter, _ := newTestRedis(t, 2)
	current := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "tenant_1"))
	current = current.Add(10 * time.Second)
	require.NoError(t, limiter.Allow(ctx, "tenant_1"))
	current = current.Add(10 * time.Second)
	assert.ErrorIs(t, limiter.Allow(ctx, "tenant_1"), ErrLimited)
	assert.NoError(t, limiter.Allow(ctx, "tenant_2"), "other keys have their own window")

	current = current.Add(45 * time.Second)
	assert.NoError(t, limiter.Allow(ctx, "tenant_1"), "first request left the window")
}

func TestRedisLimiterDoesNotCountRejectedRequests(t *testing.T) {
	limiter, server := newTestRedis(t, 1)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "tenant_1"))
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, limiter.Allow(ctx, "tenant_1"), ErrLimited)
	}
	members, err := server.ZMembers("ratelimit:tenant_1")
	require.NoError(t, err)
	assert.Len(t, members, 1)
	assert.Greater(t, server.TTL("ratelimit:tenant_1"), time.Duration(0))
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	limiter, server := newTestRedis(t, 1)
	server.Close()
	assert.NoError(t, limiter.Allow(context.Background(), "tenant_1"))
	assert.NoError(t, limiter.Allow(context.Background(), "tenant_1"))
}

func TestMemoryLimiter(t *testing.T) {
	limiter := NewMemory(2, time.Minute)
	current := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "k"))
	require.NoError(t, limiter.Allow(ctx, "k"))
	assert.ErrorIs(t, limiter.Allow(ctx, "k"), ErrLimited)
	assert.NoError(t, limiter.Allow(ctx, "other"))

	current = current.Add(61 * time.Second)
	assert.NoError(t, limiter.Allow(ctx, "k"))
}

func TestMemoryLimiterEvictsExpiredKeys(t *testing.T) {
	limiter := NewMemory(5, time.Minute)
	current := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, limiter.Allow(ctx, fmt.Sprintf("hook:random-%d", i)))
	}
	assert.Equal(t, 1000, limiter.Len())

	current = current.Add(time.Hour)
	require.NoError(t, limiter.Allow(ctx, "tenant:city"))
	assert.Equal(t, 1, limiter.Len())
}

func TestNewSelectsImplementation(t *testing.T) {
	ctx := context.Background()

	limiter, closeFn, err := New(ctx, "", 0, testLogger())
	require.NoError(t, err)
	assert.IsType(t, Unlimited{}, limiter)
	require.NoError(t, closeFn())

	limiter, _, err = New(ctx, "", 10, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, limiter)

	server := miniredis.RunT(t)
	limiter, closeFn, err = New(ctx, "redis://"+server.Addr(), 10, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, limiter)
	require.NoError(t, closeFn())

	_, _, err = New(ctx, "http://not-redis", 10, testLogger())
	assert.Error(t, err)
}
