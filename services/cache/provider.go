package cache

import (
	"context"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func ProvideClient(lc fx.Lifecycle, cfg *config.Config, logger *logging.Service) (*Client, error) {
	log := logger.Named("cache")

	client, err := Connect(context.Background(), cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", zap.Error(err))
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing redis connection")
			return client.Close()
		},
	})

	return client, nil
}

// OptionalClient lets consumers fall back to in-process stores when no redis
// client is provided.
type OptionalClient struct {
	fx.In
	Client *Client `optional:"true"`
}

var Module = fx.Options(
	fx.Provide(ProvideClient),
)
