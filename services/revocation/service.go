package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/zap"
)

var ErrStoreNotConfigured = errors.New("revocation store not configured")

type Service struct {
	store  Store
	logger *logging.Service
	now    func() time.Time
}

func NewService(store Store, logger *logging.Service) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// BlacklistToken blacklists jti for the rest of the token's natural lifetime.
// Tokens that have already expired are not recorded.
func (s *Service) BlacklistToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if s.store == nil {
		return ErrStoreNotConfigured
	}

	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		s.logger.Debug("skipping blacklist for expired token", zap.String("jti", jti))
		return nil
	}

	if err := s.store.Blacklist(ctx, jti, ttl); err != nil {
		s.logger.Error("failed to blacklist token", zap.String("jti", jti), zap.Error(err))
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	s.logger.Info("token blacklisted",
		zap.String("jti", jti),
		zap.Duration("ttl", ttl))

	return nil
}

func (s *Service) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	if s.store == nil {
		return false, ErrStoreNotConfigured
	}

	blacklisted, err := s.store.IsBlacklisted(ctx, jti)
	if err != nil {
		s.logger.Error("failed to check blacklist", zap.String("jti", jti), zap.Error(err))
		return false, err
	}

	return blacklisted, nil
}

// StartPurgeWorker periodically drops expired entries from an in-process
// store. Redis entries expire on their own and need no worker.
func (s *Service) StartPurgeWorker(ctx context.Context, interval time.Duration) {
	mem, ok := s.store.(*MemoryStore)
	if !ok || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mem.Purge()
			}
		}
	}()

	s.logger.Info("started blacklist purge worker", zap.Duration("interval", interval))
}
