package app

import (
	"context"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/server"
	"github.com/fintrac/authcore/services/auth"
	"github.com/fintrac/authcore/services/logging"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stopTimeout = 30 * time.Second

type App struct {
	fx     *fx.App
	config *config.Config
	logger *logging.Service
	db     *gorm.DB
	flow   *auth.Flow
	server *server.Server
}

func (a *App) Start(ctx context.Context) error {
	return a.fx.Start(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	return a.fx.Stop(ctx)
}

// Run starts the application and blocks until SIGINT, SIGTERM or a component
// requests shutdown, then stops it gracefully.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		a.logger.Error("failed to start application", zap.Error(err))
		return err
	}

	sig := <-a.fx.Wait()
	a.logger.Info("received shutdown signal, stopping gracefully",
		zap.String("signal", sig.Signal.String()),
		zap.Int("exit_code", sig.ExitCode))

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := a.Stop(ctx); err != nil {
		a.logger.Error("failed to stop application gracefully", zap.Error(err))
		return err
	}
	return nil
}

// Server is nil when the app was built without HTTP.
func (a *App) Server() *server.Server {
	return a.server
}

func (a *App) Echo() *echo.Echo {
	if a.server == nil {
		a.logger.Warn("http server not built")
		return nil
	}
	return a.server.Echo()
}

func (a *App) DB() *gorm.DB {
	return a.db
}

func (a *App) Flow() *auth.Flow {
	return a.flow
}

func (a *App) Logger() *logging.Service {
	return a.logger
}

func (a *App) Config() *config.Config {
	return a.config
}
