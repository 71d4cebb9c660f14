package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/fintrac/authcore/services/cache"
	"github.com/redis/go-redis/v9"
)

// Bucket is the persisted state of one identifier.
type Bucket struct {
	Tokens     float64
	LastRefill time.Time
}

type Store interface {
	// Take refills the bucket at key up to now and consumes rule.Cost tokens
	// when enough are available. It must be atomic per key.
	Take(ctx context.Context, key string, rule Rule, now time.Time, ttl time.Duration) (allowed bool, tokens float64, err error)

	// Get returns nil when no live bucket exists for key at now.
	Get(ctx context.Context, key string, now time.Time) (*Bucket, error)

	Delete(ctx context.Context, key string) error
}

// refill applies the token bucket step shared by every store.
func refill(b Bucket, rule Rule, now time.Time) (Bucket, bool) {
	elapsed := math.Max(0, now.Sub(b.LastRefill).Seconds())
	b.Tokens = math.Min(float64(rule.Capacity), b.Tokens+elapsed*rule.RefillRate)
	b.LastRefill = now

	if b.Tokens >= rule.Cost {
		b.Tokens -= rule.Cost
		return b, true
	}
	return b, false
}

// takeScript runs the whole read-refill-write cycle inside redis so concurrent
// callers sharing a key never observe the same pre-refill state.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now
end

local elapsed = math.max(0, now - last_refill)
tokens = math.min(capacity, tokens + elapsed * refill_rate)

local allowed = 0
if tokens >= cost then
	tokens = tokens - cost
	allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_refill', tostring(now))
redis.call('EXPIRE', key, ttl)

return {allowed, tostring(tokens)}
`)

type RedisStore struct {
	client *cache.Client
}

func NewRedisStore(client *cache.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Take(ctx context.Context, key string, rule Rule, now time.Time, ttl time.Duration) (bool, float64, error) {
	res, err := r.client.Run(ctx, takeScript, []string{key},
		rule.Capacity,
		rule.RefillRate,
		unixSeconds(now),
		rule.Cost,
		ttlSeconds(ttl),
	)
	if err != nil {
		return false, 0, fmt.Errorf("failed to run token bucket script: %w", err)
	}

	values, ok := res.([]any)
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply: %v", res)
	}

	allowed, _ := values[0].(int64)
	raw, _ := values[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("invalid token count %q: %w", raw, err)
	}

	return allowed == 1, tokens, nil
}

func (r *RedisStore) Get(ctx context.Context, key string, _ time.Time) (*Bucket, error) {
	fields, err := r.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	tokens, err := strconv.ParseFloat(fields["tokens"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket tokens: %w", err)
	}
	lastRefill, err := strconv.ParseFloat(fields["last_refill"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket refill time: %w", err)
	}

	return &Bucket{Tokens: tokens, LastRefill: fromUnixSeconds(lastRefill)}, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key)
}

// MemoryStore keeps buckets in process. Limits are not shared between
// instances.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	Bucket
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*memoryBucket)}
}

func (m *MemoryStore) Take(ctx context.Context, key string, rule Rule, now time.Time, ttl time.Duration) (bool, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := Bucket{Tokens: float64(rule.Capacity), LastRefill: now}
	if b, ok := m.buckets[key]; ok && now.Before(b.expiresAt) {
		state = b.Bucket
	}

	state, allowed := refill(state, rule, now)
	m.buckets[key] = &memoryBucket{Bucket: state, expiresAt: now.Add(ttl)}

	return allowed, state.Tokens, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string, now time.Time) (*Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || !now.Before(b.expiresAt) {
		return nil, nil
	}
	bucket := b.Bucket
	return &bucket, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.buckets, key)
	m.mu.Unlock()
	return nil
}

// Purge drops buckets idle for longer than their ttl.
func (m *MemoryStore) Purge(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, b := range m.buckets {
		if !now.Before(b.expiresAt) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromUnixSeconds(s float64) time.Time {
	return time.UnixMicro(int64(math.Round(s * 1e6)))
}

func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(math.Ceil(ttl.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
