package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/cache"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func ProvideStore(cfg *config.Config, logger *logging.Service, optCache cache.OptionalClient) (Store, error) {
	log := logger.Named("ratelimit")

	switch cfg.RateLimit.Store {
	case "redis":
		if optCache.Client == nil {
			return nil, fmt.Errorf("rate limit store %q requires a redis client", cfg.RateLimit.Store)
		}
		log.Info("using redis token bucket store", zap.String("key_prefix", cfg.RateLimit.KeyPrefix))
		return NewRedisStore(optCache.Client), nil
	case "memory":
		log.Warn("using in-process token bucket store; limits are not shared across instances")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit store type: %s", cfg.RateLimit.Store)
	}
}

func ProvideLimiter(cfg *config.Config, store Store, logger *logging.Service) *Limiter {
	return NewLimiter(store, cfg.RateLimit.KeyPrefix, cfg.RateLimit.BucketTTL, logger.Named("ratelimit"))
}

// TierRules maps the configured caller tiers to bucket shapes.
func TierRules(cfg *config.Config) map[Tier]Rule {
	rl := cfg.RateLimit
	return map[Tier]Rule{
		TierAnonymous:     {Capacity: rl.AnonymousCapacity, RefillRate: rl.AnonymousRefillRate},
		TierAuthenticated: {Capacity: rl.AuthenticatedCapacity, RefillRate: rl.AuthenticatedRefillRate},
		TierPremium:       {Capacity: rl.PremiumCapacity, RefillRate: rl.PremiumRefillRate},
	}
}

type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
	TierPremium       Tier = "premium"
)

// startPurge evicts idle in-process buckets. Redis buckets expire on their own.
func startPurge(lc fx.Lifecycle, cfg *config.Config, store Store, logger *logging.Service) {
	mem, ok := store.(*MemoryStore)
	if !ok {
		return
	}

	interval := cfg.RateLimit.BucketTTL
	if interval <= 0 {
		interval = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case now := <-ticker.C:
						if n := mem.Purge(now); n > 0 {
							logger.Debug("purged idle rate limit buckets", zap.Int("removed", n))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(ProvideStore),
	fx.Provide(ProvideLimiter),
	fx.Invoke(startPurge),
)
