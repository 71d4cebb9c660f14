package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/cache"
	"github.com/fintrac/authcore/services/logging"
	"github.com/fintrac/authcore/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_PersistsHashWithTTL(t *testing.T) {
	ctx := context.Background()
	client, mr := testutils.SetupTestRedis(t)
	store := NewRedisStore(client)
	now := time.Unix(1_700_000_000, 250_000_000)

	allowed, tokens, err := store.Take(ctx, "ratelimit:tb:k", Rule{Capacity: 5, RefillRate: 1, Cost: 1}, now, 90*time.Second)

	require.NoError(t, err)
	assert.True(t, allowed)
	assert.InDelta(t, 4.0, tokens, 0.0001)
	assert.Equal(t, 90*time.Second, mr.TTL("ratelimit:tb:k"))
	assert.Equal(t, "4", mr.HGet("ratelimit:tb:k", "tokens"))

	bucket, err := store.Get(ctx, "ratelimit:tb:k", now)
	require.NoError(t, err)
	require.NotNil(t, bucket)
	assert.WithinDuration(t, now, bucket.LastRefill, time.Millisecond)
}

func TestRedisStore_ExpiredBucketStartsFull(t *testing.T) {
	ctx := context.Background()
	client, mr := testutils.SetupTestRedis(t)
	store := NewRedisStore(client)
	rule := Rule{Capacity: 2, RefillRate: 0, Cost: 1}
	now := time.Unix(1_700_000_000, 0)

	_, _, err := store.Take(ctx, "k", rule, now, time.Minute)
	require.NoError(t, err)
	_, _, err = store.Take(ctx, "k", rule, now, time.Minute)
	require.NoError(t, err)

	mr.FastForward(61 * time.Second)

	allowed, tokens, err := store.Take(ctx, "k", rule, now, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.InDelta(t, 1.0, tokens, 0.0001)
}

func TestMemoryStore_ExpiryAndPurge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rule := Rule{Capacity: 1, RefillRate: 0, Cost: 1}
	now := time.Now()

	allowed, _, _ := store.Take(ctx, "a", rule, now, time.Minute)
	assert.True(t, allowed)
	allowed, _, _ = store.Take(ctx, "a", rule, now, time.Minute)
	assert.False(t, allowed)

	allowed, _, _ = store.Take(ctx, "a", rule, now.Add(2*time.Minute), time.Minute)
	assert.True(t, allowed, "idle bucket expired and restarted full")

	bucket, err := store.Get(ctx, "a", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, bucket, "visible at the clock the limiter runs on")
	bucket, err = store.Get(ctx, "a", now.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, bucket)

	_, _, _ = store.Take(ctx, "b", rule, now, time.Minute)
	assert.Equal(t, 1, store.Purge(now.Add(90*time.Second)))
}

func TestTTLSeconds(t *testing.T) {
	assert.Equal(t, int64(1), ttlSeconds(0))
	assert.Equal(t, int64(1), ttlSeconds(300*time.Millisecond))
	assert.Equal(t, int64(3600), ttlSeconds(time.Hour))
}

func TestProvideStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		cfg := testutils.GetTestConfig()

		store, err := ProvideStore(cfg, logging.NewNop(), cache.OptionalClient{})

		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.RateLimit.Store = "redis"
		client, _ := testutils.SetupTestRedis(t)

		store, err := ProvideStore(cfg, logging.NewNop(), cache.OptionalClient{Client: client})

		require.NoError(t, err)
		assert.IsType(t, &RedisStore{}, store)
	})

	t.Run("redis without client", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.RateLimit.Store = "redis"

		_, err := ProvideStore(cfg, logging.NewNop(), cache.OptionalClient{})

		assert.Error(t, err)
	})

	t.Run("unsupported", func(t *testing.T) {
		cfg := &config.Config{RateLimit: config.RateLimitConfig{Store: "etcd"}}

		_, err := ProvideStore(cfg, logging.NewNop(), cache.OptionalClient{})

		assert.Error(t, err)
	})
}

func TestTierRules(t *testing.T) {
	rules := TierRules(testutils.GetTestConfig())

	assert.Equal(t, Rule{Capacity: 100, RefillRate: 1.67}, rules[TierAnonymous])
	assert.Equal(t, Rule{Capacity: 10000, RefillRate: 166.7}, rules[TierAuthenticated])
	assert.Contains(t, rules, TierPremium)
}
