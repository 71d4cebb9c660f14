package revocation

import (
	"context"
	"fmt"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/cache"
	"github.com/fintrac/authcore/services/jwt"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func ProvideStore(cfg *config.Config, logger *logging.Service, optCache cache.OptionalClient) (Store, error) {
	log := logger.Named("revocation")

	switch cfg.Revocation.Store {
	case "redis":
		if optCache.Client == nil {
			return nil, fmt.Errorf("revocation store %q requires a redis client", cfg.Revocation.Store)
		}
		log.Info("using redis revocation store", zap.String("key_prefix", cfg.Revocation.KeyPrefix))
		return NewRedisStore(optCache.Client, cfg.Revocation.KeyPrefix, log), nil
	case "memory":
		log.Warn("using in-process revocation store; blacklist is not shared across instances")
		return NewMemoryStore(log), nil
	default:
		return nil, fmt.Errorf("unsupported revocation store type: %s", cfg.Revocation.Store)
	}
}

func ProvideRevocationService(store Store, logger *logging.Service) *Service {
	return NewService(store, logger.Named("revocation"))
}

func ProvideRevocationAsChecker(svc *Service) jwt.RevocationChecker {
	return svc
}

func StartPurgeWorker(lc fx.Lifecycle, cfg *config.Config, svc *Service) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			svc.StartPurgeWorker(ctx, cfg.Session.CleanupPeriod)
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
	fx.Provide(ProvideRevocationService),
	fx.Provide(ProvideRevocationAsChecker),
	fx.Invoke(StartPurgeWorker),
)
