package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/zap"
)

// Rule is a bucket shape: Capacity tokens, refilled at RefillRate tokens per
// second, Cost tokens per request.
type Rule struct {
	Capacity   int
	RefillRate float64
	Cost       float64
}

func (r Rule) withDefaults() Rule {
	if r.Cost <= 0 {
		r.Cost = 1
	}
	return r
}

func (r Rule) Validate() error {
	if r.Capacity < 1 {
		return fmt.Errorf("rate limit capacity must be positive, got %d", r.Capacity)
	}
	if r.RefillRate < 0 {
		return fmt.Errorf("rate limit refill rate must not be negative, got %v", r.RefillRate)
	}
	return nil
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set only when the request was rejected.
	RetryAfter time.Duration
}

type Limiter struct {
	store     Store
	keyPrefix string
	ttl       time.Duration
	logger    *logging.Service
	now       func() time.Time
}

func NewLimiter(store Store, keyPrefix string, ttl time.Duration, logger *logging.Service) *Limiter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Limiter{
		store:     store,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Limiter) key(identifier string) string {
	return l.keyPrefix + identifier
}

// Allow consumes rule.Cost tokens from the bucket for identifier. Store
// failures fail open: the request is allowed and full capacity reported.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) Result {
	rule = rule.withDefaults()
	now := l.now()
	resetAt := now.Add(l.ttl)

	if err := rule.Validate(); err != nil {
		l.logger.Error("invalid rate limit rule", zap.String("identifier", identifier), zap.Error(err))
		return l.failOpen(rule, resetAt)
	}

	allowed, tokens, err := l.store.Take(ctx, l.key(identifier), rule, now, l.ttl)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, allowing request",
			zap.String("identifier", identifier),
			zap.Error(err))
		return l.failOpen(rule, resetAt)
	}

	result := Result{
		Allowed:   allowed,
		Limit:     rule.Capacity,
		Remaining: max(int(math.Floor(tokens)), 0),
		ResetAt:   resetAt,
	}

	if !allowed {
		result.RetryAfter = l.retryAfter(rule, tokens)
		l.logger.Debug("rate limit exceeded",
			zap.String("identifier", identifier),
			zap.Int("capacity", rule.Capacity),
			zap.Duration("retry_after", result.RetryAfter))
	}

	return result
}

func (l *Limiter) failOpen(rule Rule, resetAt time.Time) Result {
	return Result{
		Allowed:   true,
		Limit:     rule.Capacity,
		Remaining: rule.Capacity,
		ResetAt:   resetAt,
	}
}

// retryAfter is the whole number of seconds until the deficit has refilled,
// never less than one.
func (l *Limiter) retryAfter(rule Rule, tokens float64) time.Duration {
	if rule.RefillRate <= 0 {
		return l.ttl
	}
	secs := math.Ceil((rule.Cost - tokens) / rule.RefillRate)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Inspect returns the stored bucket for identifier, or nil if it has none.
func (l *Limiter) Inspect(ctx context.Context, identifier string) (*Bucket, error) {
	bucket, err := l.store.Get(ctx, l.key(identifier), l.now())
	if err != nil {
		return nil, fmt.Errorf("failed to read bucket: %w", err)
	}
	return bucket, nil
}

// Reset restores identifier to a full bucket.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if err := l.store.Delete(ctx, l.key(identifier)); err != nil {
		return fmt.Errorf("failed to reset bucket: %w", err)
	}
	l.logger.Info("rate limit bucket reset", zap.String("identifier", identifier))
	return nil
}
