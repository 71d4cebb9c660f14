package revocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fintrac/authcore/services/cache"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/zap"
)

const blacklistedValue = "1"

type Store interface {
	// Blacklist records jti until ttl elapses. A non-positive ttl is a no-op.
	Blacklist(ctx context.Context, jti string, ttl time.Duration) error

	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

type RedisStore struct {
	client    *cache.Client
	keyPrefix string
	logger    *logging.Service
}

func NewRedisStore(client *cache.Client, keyPrefix string, logger *logging.Service) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix, logger: logger}
}

func (r *RedisStore) key(jti string) string {
	return r.keyPrefix + jti
}

func (r *RedisStore) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, r.key(jti), blacklistedValue, ttl); err != nil {
		r.logger.Error("failed to write blacklist entry", zap.String("jti", jti), zap.Error(err))
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	return nil
}

func (r *RedisStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	exists, err := r.client.Exists(ctx, r.key(jti))
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

// MemoryStore keeps blacklist entries in process. Suitable for single-node
// deployments and tests only; entries are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	logger  *logging.Service
	now     func() time.Time
}

func NewMemoryStore(logger *logging.Service) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		logger:  logger,
		now:     time.Now,
	}
}

func (m *MemoryStore) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	m.mu.Lock()
	m.entries[jti] = m.now().Add(ttl)
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	m.mu.RLock()
	expiresAt, exists := m.entries[jti]
	m.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if !m.now().Before(expiresAt) {
		m.mu.Lock()
		delete(m.entries, jti)
		m.mu.Unlock()
		return false, nil
	}

	return true, nil
}

// Purge drops expired entries and returns how many were removed.
func (m *MemoryStore) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for jti, expiresAt := range m.entries {
		if !now.Before(expiresAt) {
			delete(m.entries, jti)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug("purged expired blacklist entries",
			zap.Int("removed", removed),
			zap.Int("remaining", len(m.entries)))
	}

	return removed
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
