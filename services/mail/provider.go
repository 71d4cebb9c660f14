package mail

import (
	"context"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/fx"
)

func ProvideMailer(cfg *config.Config, logger *logging.Service) (Mailer, error) {
	logger = logger.Named("mail")
	if !cfg.Mail.Enabled {
		logger.Info("mail delivery disabled")
		return NewLogMailer(logger), nil
	}
	service, err := NewService(&cfg.Mail, logger)
	if err != nil {
		return nil, err
	}
	return service, nil
}

func ProvideDispatcher(cfg *config.Config, mailer Mailer, logger *logging.Service) *Dispatcher {
	return NewDispatcher(mailer, cfg.Mail.Workers, cfg.Mail.QueueSize, cfg.App.Name, logger.Named("mail"))
}

func registerLifecycle(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: d.Stop,
	})
}

var Module = fx.Options(
	fx.Provide(ProvideMailer, ProvideDispatcher),
	fx.Invoke(registerLifecycle),
)
