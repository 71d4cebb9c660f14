package handlers

import (
	"github.com/fintrac/authcore/config"
	jwtmw "github.com/fintrac/authcore/middleware/jwt"
	rlmw "github.com/fintrac/authcore/middleware/ratelimit"
	"github.com/fintrac/authcore/openapi"
	"github.com/fintrac/authcore/server"
	"github.com/fintrac/authcore/services/cache"
	"github.com/fintrac/authcore/services/jwt"
	"github.com/fintrac/authcore/services/logging"
	"github.com/fintrac/authcore/session"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Routes mounts the API. requireJWT guards the session endpoints.
func Routes(srv *server.Server, a *AuthHandler, health *HealthHandler, doc *openapi.Document, limits *rlmw.Routes, requireJWT echo.MiddlewareFunc) {
	srv.Get("/health", health.Check)

	api := srv.Group(apiPrefix)
	api.POST("/register", a.Register, limits.Global, limits.Register)
	api.POST("/verify-email", a.VerifyEmail, limits.Global)
	api.POST("/resend-verification-email", a.ResendVerification, limits.Global, limits.Resend)
	api.POST("/login", a.Login, limits.Global, limits.Login)
	api.POST("/refresh-token", a.Refresh, limits.Global, limits.Refresh)
	api.POST("/forgot-password", a.ForgotPassword, limits.Global, limits.ForgotPassword)
	api.POST("/verify-password-reset", a.VerifyResetCode, limits.Global)
	api.POST("/reset-password", a.ResetPassword, limits.Global)
	api.POST("/logout", a.Logout, limits.Global)

	api.GET("/sessions", a.ListSessions, requireJWT, limits.Global)
	api.DELETE("/sessions/:id", a.RevokeSession, requireJWT, limits.Global)

	api.GET("/openapi.json", doc.JSONHandler(), limits.Global)
	api.GET("/openapi.yaml", doc.YAMLHandler(), limits.Global)
}

func ProvideHealthHandler(db *gorm.DB, opt cache.OptionalClient) *HealthHandler {
	return NewHealthHandler(db, opt.Client)
}

func ProvideDocument(cfg *config.Config) *openapi.Document {
	doc := openapi.New(cfg.App.Name+" Auth API", "1.0.0").
		Description("Registration, login, token refresh and session management")
	Describe(doc)
	return doc
}

type routeParams struct {
	fx.In

	Server   *server.Server
	Auth     *AuthHandler
	Health   *HealthHandler
	Doc      *openapi.Document
	Limits   *rlmw.Routes
	Tokens   *jwt.Service
	Sessions *session.Manager
	Logger   *logging.Service
}

func registerRoutes(p routeParams) {
	e := p.Server.Echo()
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler(p.Logger.Named("http"))

	requireJWT := jwtmw.RequireJWTWithConfig(jwtmw.Config{
		Codec:    p.Tokens,
		Sessions: p.Sessions,
		Logger:   p.Logger.Named("jwt"),
	})
	Routes(p.Server, p.Auth, p.Health, p.Doc, p.Limits, requireJWT)
}

var Module = fx.Options(
	fx.Provide(NewAuthHandler, ProvideHealthHandler, ProvideDocument),
	fx.Invoke(registerRoutes),
)
