package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fintrac/authcore/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Take(context.Context, string, Rule, time.Time, time.Duration) (bool, float64, error) {
	return false, 0, errors.New("connection refused")
}

func (failingStore) Get(context.Context, string, time.Time) (*Bucket, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	client, _ := testutils.SetupTestRedis(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client),
	}
}

func TestLimiter_BurstThenReject(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			limiter := NewLimiter(store, "ratelimit:tb:", time.Hour, nil)
			limiter.SetClock(clock.Now)
			rule := Rule{Capacity: 5, RefillRate: 1}

			for i := 0; i < 5; i++ {
				result := limiter.Allow(ctx, "login:ip:10.0.0.1", rule)
				require.True(t, result.Allowed, "call %d", i+1)
				assert.Equal(t, 5, result.Limit)
				assert.Equal(t, 4-i, result.Remaining)
			}

			rejected := limiter.Allow(ctx, "login:ip:10.0.0.1", rule)

			assert.False(t, rejected.Allowed)
			assert.Equal(t, 0, rejected.Remaining)
			assert.Equal(t, time.Second, rejected.RetryAfter)
			assert.Equal(t, clock.Now().Add(time.Hour), rejected.ResetAt)

			clock.Advance(time.Second)

			assert.True(t, limiter.Allow(ctx, "login:ip:10.0.0.1", rule).Allowed)
		})
	}
}

func TestLimiter_RefillsToCapacityAfterIdle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			limiter := NewLimiter(store, "ratelimit:tb:", time.Hour, nil)
			limiter.SetClock(clock.Now)
			rule := Rule{Capacity: 4, RefillRate: 0.5}

			for i := 0; i < 4; i++ {
				require.True(t, limiter.Allow(ctx, "idle", rule).Allowed)
			}
			require.False(t, limiter.Allow(ctx, "idle", rule).Allowed)

			// capacity / refill rate
			clock.Advance(8 * time.Second)

			result := limiter.Allow(ctx, "idle", rule)
			assert.True(t, result.Allowed)
			assert.Equal(t, 3, result.Remaining)

			clock.Advance(time.Hour / 2)
			result = limiter.Allow(ctx, "idle", rule)
			assert.Equal(t, 3, result.Remaining, "refill never exceeds capacity")
		})
	}
}

func TestLimiter_NeverExceedsCapacityInWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := NewLimiter(NewMemoryStore(), "", time.Hour, nil)
	limiter.SetClock(clock.Now)
	rule := Rule{Capacity: 10, RefillRate: 2}

	// capacity/rate = 5s window, one call every 100ms
	window := 5 * time.Second
	var grants []time.Time
	for i := 0; i < 200; i++ {
		if limiter.Allow(ctx, "window", rule).Allowed {
			grants = append(grants, clock.Now())
		}
		clock.Advance(100 * time.Millisecond)
	}

	// a full bucket plus whatever refills during the window
	bound := rule.Capacity + int(window.Seconds()*rule.RefillRate)
	for i := range grants {
		count := 0
		for _, g := range grants[i:] {
			if g.Sub(grants[i]) < window {
				count++
			}
		}
		assert.LessOrEqual(t, count, bound, "window starting at grant %d", i)
	}

	assert.LessOrEqual(t, len(grants), rule.Capacity+int(20*rule.RefillRate)+1)
}

func TestLimiter_CostAndRetryAfter(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := NewLimiter(NewMemoryStore(), "", time.Hour, nil)
	limiter.SetClock(clock.Now)
	rule := Rule{Capacity: 10, RefillRate: 0.5, Cost: 4}

	assert.True(t, limiter.Allow(ctx, "export", rule).Allowed)
	assert.True(t, limiter.Allow(ctx, "export", rule).Allowed)

	result := limiter.Allow(ctx, "export", rule)

	assert.False(t, result.Allowed)
	assert.Equal(t, 2, result.Remaining)
	assert.Equal(t, 4*time.Second, result.RetryAfter)
}

func TestLimiter_ZeroRefillRejectsForTTL(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), "", 30*time.Minute, nil)
	rule := Rule{Capacity: 1}

	assert.True(t, limiter.Allow(ctx, "once", rule).Allowed)
	result := limiter.Allow(ctx, "once", rule)

	assert.False(t, result.Allowed)
	assert.Equal(t, 30*time.Minute, result.RetryAfter)
}

func TestLimiter_IndependentIdentifiers(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), "", time.Hour, nil)
	rule := Rule{Capacity: 1, RefillRate: 0.01}

	assert.True(t, limiter.Allow(ctx, "login:email:a@example.com", rule).Allowed)
	assert.False(t, limiter.Allow(ctx, "login:email:a@example.com", rule).Allowed)
	assert.True(t, limiter.Allow(ctx, "login:email:b@example.com", rule).Allowed)
}

func TestLimiter_FailsOpen(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(failingStore{}, "", time.Hour, nil)

	result := limiter.Allow(ctx, "anything", Rule{Capacity: 7, RefillRate: 1})

	assert.True(t, result.Allowed)
	assert.Equal(t, 7, result.Remaining)
	assert.Equal(t, 7, result.Limit)
	assert.Zero(t, result.RetryAfter)
}

func TestLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	client, mr := testutils.SetupTestRedis(t)
	limiter := NewLimiter(NewRedisStore(client), "ratelimit:tb:", time.Hour, nil)
	mr.Close()

	result := limiter.Allow(ctx, "login:ip:10.0.0.1", Rule{Capacity: 5, RefillRate: 1})

	assert.True(t, result.Allowed)
	assert.Equal(t, 5, result.Remaining)
}

func TestLimiter_InvalidRuleFailsOpen(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), "", time.Hour, nil)

	result := limiter.Allow(context.Background(), "id", Rule{Capacity: 0, RefillRate: 1})

	assert.True(t, result.Allowed)
}

func TestLimiter_Concurrent(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			limiter := NewLimiter(store, "ratelimit:tb:", time.Hour, nil)
			limiter.SetClock(clock.Now)
			rule := Rule{Capacity: 10, RefillRate: 0}

			var granted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if limiter.Allow(ctx, "shared", rule).Allowed {
						granted.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(10), granted.Load())
		})
	}
}

func TestLimiter_InspectAndReset(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			limiter := NewLimiter(store, "ratelimit:tb:", time.Hour, nil)
			rule := Rule{Capacity: 3, RefillRate: 0}

			bucket, err := limiter.Inspect(ctx, "inspect")
			require.NoError(t, err)
			assert.Nil(t, bucket)

			limiter.Allow(ctx, "inspect", rule)
			limiter.Allow(ctx, "inspect", rule)

			bucket, err = limiter.Inspect(ctx, "inspect")
			require.NoError(t, err)
			require.NotNil(t, bucket)
			assert.InDelta(t, 1.0, bucket.Tokens, 0.001)
			assert.WithinDuration(t, time.Now(), bucket.LastRefill, 5*time.Second)

			require.NoError(t, limiter.Reset(ctx, "inspect"))

			bucket, err = limiter.Inspect(ctx, "inspect")
			require.NoError(t, err)
			assert.Nil(t, bucket)
			assert.Equal(t, 2, limiter.Allow(ctx, "inspect", rule).Remaining)
		})
	}
}

func TestLimiter_InspectStoreError(t *testing.T) {
	limiter := NewLimiter(failingStore{}, "", time.Hour, nil)

	_, err := limiter.Inspect(context.Background(), "id")
	assert.Error(t, err)
	assert.Error(t, limiter.Reset(context.Background(), "id"))
}
