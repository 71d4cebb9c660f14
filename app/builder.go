package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/database"
	"github.com/fintrac/authcore/handlers"
	rlmw "github.com/fintrac/authcore/middleware/ratelimit"
	"github.com/fintrac/authcore/server"
	"github.com/fintrac/authcore/services/auth"
	"github.com/fintrac/authcore/services/cache"
	"github.com/fintrac/authcore/services/device"
	"github.com/fintrac/authcore/services/jwt"
	"github.com/fintrac/authcore/services/logging"
	"github.com/fintrac/authcore/services/mail"
	"github.com/fintrac/authcore/services/otp"
	"github.com/fintrac/authcore/services/ratelimit"
	"github.com/fintrac/authcore/services/revocation"
	"github.com/fintrac/authcore/services/security"
	"github.com/fintrac/authcore/services/user"
	"github.com/fintrac/authcore/session"
	"go.uber.org/fx"
)

type AppBuilder struct {
	config    *config.Config
	services  map[string]bool
	models    []any
	fxOptions []fx.Option
	errors    []error
}

func NewApp() *AppBuilder {
	return &AppBuilder{
		services: map[string]bool{
			"http": true,
			"mail": true,
		},
	}
}

// Models lists every table the auth core owns.
func Models() []any {
	var models []any
	models = append(models, user.Models()...)
	models = append(models, session.Models()...)
	models = append(models, device.Models()...)
	models = append(models, otp.Models()...)
	models = append(models, security.Models()...)
	return models
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

// WithModels migrates extra models alongside the core tables.
func (b *AppBuilder) WithModels(models ...any) *AppBuilder {
	b.models = append(b.models, models...)
	return b
}

// WithoutMail leaves the flow without a notifier; codes and alerts are not
// sent.
func (b *AppBuilder) WithoutMail() *AppBuilder {
	b.services["mail"] = false
	return b
}

// WithoutHTTP builds the services without the server and routes.
func (b *AppBuilder) WithoutHTTP() *AppBuilder {
	b.services["http"] = false
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if b.config == nil && len(b.errors) == 0 {
		b.WithAutoConfig()
	}
	if err := b.validate(); err != nil {
		return nil, err
	}

	logger, err := b.createLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{
		config: b.config,
		logger: logger,
	}

	options := b.buildFxOptions(logger)
	options = append(options, fx.Populate(&app.db, &app.flow))
	if b.services["http"] {
		options = append(options, fx.Populate(&app.server))
	}

	app.fx = fx.New(options...)
	if err := app.fx.Err(); err != nil {
		logger.Error("failed to assemble application")
		return nil, fmt.Errorf("failed to build application: %w", err)
	}

	return app, nil
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, errors.New(msg))
}

func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}
	if b.config == nil {
		return fmt.Errorf("config is required")
	}
	if err := b.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (b *AppBuilder) createLogger() (*logging.Service, error) {
	return logging.NewService(logging.ConfigFrom(b.config))
}

func (b *AppBuilder) buildFxOptions(logger *logging.Service) []fx.Option {
	models := append(Models(), b.models...)

	options := []fx.Option{
		fx.Supply(b.config, logger),
		fx.NopLogger,
		fx.Supply(database.WithModels(models...)),
		fx.Invoke(func(lc fx.Lifecycle) {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					_ = logger.Sync()
					return nil
				},
			})
		}),
		database.Module,
	}

	if b.config.UsesRedis() {
		options = append(options, cache.Module)
	}

	options = append(options,
		revocation.Module,
		jwt.Options,
		ratelimit.Module,
		session.Module,
		device.Module,
		security.Module,
		user.Module,
		otp.Module,
		auth.Module,
	)

	if b.services["mail"] {
		options = append(options, mail.Module, auth.MailNotifier)
	}

	if b.services["http"] {
		options = append(options,
			server.NewProvider(),
			fx.Provide(rlmw.ProvideRoutes),
			handlers.Module,
		)
	}

	return append(options, b.fxOptions...)
}
