// Package ratelimit enforces per-key request quotas over a sliding window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLimited = errors.New("rate limit exceeded")

const DefaultWindow = time.Minute

type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// New returns a Redis limiter when redisURL is set and an in-memory limiter
// otherwise. A non-positive limit disables limiting.
func New(ctx context.Context, redisURL string, limit int, logger *slog.Logger) (Limiter, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noopClose := func() error { return nil }
	if limit < 1 {
		return Unlimited{}, noopClose, nil
	}
	if strings.TrimSpace(redisURL) == "" {
		return NewMemory(limit, DefaultWindow), noopClose, nil
	}
	client, err := Connect(ctx, redisURL)
	if err != nil {
		return nil, noopClose, err
	}
	return NewRedis(client, limit, DefaultWindow, logger), client.Close, nil
}

func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) error { return nil }

type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewRedis(client *redis.Client, limit int, window time.Duration, logger *slog.Logger) *Redis {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Allow fails open when Redis itself errors.
func (r *Redis) Allow(ctx context.Context, key string) error {
	now := r.now()
	redisKey := "ratelimit:" + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(now.Add(-r.window).UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, redisKey, 2*r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("redis rate limit check failed, allowing request", "key", key, "error", err)
		return nil
	}

	if count := countCmd.Val(); count >= int64(r.limit) {
		// rejected requests do not occupy the window
		if err := r.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			r.logger.Warn("redis rate limit cleanup failed", "key", key, "error", err)
		}
		return fmt.Errorf("%w: %d requests per %s (limit %d)", ErrLimited, count, r.window, r.limit)
	}
	return nil
}

type Memory struct {
	limit     int
	window    time.Duration
	now       func() time.Time
	mu        sync.Mutex
	buckets   map[string][]time.Time
	lastSweep time.Time
}

func NewMemory(limit int, window time.Duration) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: map[string][]time.Time{},
	}
}

func (m *Memory) Allow(_ context.Context, key string) error {
	now := m.now()
	cutoff := now.Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastSweep) >= m.window {
		m.sweep(cutoff)
		m.lastSweep = now
	}
	filtered := unexpired(m.buckets[key], cutoff)
	if len(filtered) >= m.limit {
		m.buckets[key] = filtered
		return fmt.Errorf("%w: %d requests per %s (limit %d)", ErrLimited, len(filtered), m.window, m.limit)
	}
	m.buckets[key] = append(filtered, now)
	return nil
}

// Len reports how many keys currently hold a bucket.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// sweep drops buckets whose entries have all expired. Callers hold m.mu.
func (m *Memory) sweep(cutoff time.Time) {
	for key, entries := range m.buckets {
		if filtered := unexpired(entries, cutoff); len(filtered) == 0 {
			delete(m.buckets, key)
		} else {
			m.buckets[key] = filtered
		}
	}
}

func unexpired(entries []time.Time, cutoff time.Time) []time.Time {
	filtered := entries[:0]
	for _, stamp := range entries {
		if stamp.After(cutoff) {
			filtered = append(filtered, stamp)
		}
	}
	return filtered
}
