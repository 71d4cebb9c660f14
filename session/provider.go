package session

import (
	"context"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideManager(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Manager {
	return NewManager(db, cfg.Session.MaxPerUser, cfg.Database.OpTimeout, logger.Named("session"))
}

func registerCleanup(lc fx.Lifecycle, cfg *config.Config, m *Manager) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			m.StartCleanupWorker(ctx, cfg.Session.CleanupPeriod)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

var Module = fx.Module("session",
	fx.Provide(ProvideManager),
	fx.Invoke(registerCleanup),
)
