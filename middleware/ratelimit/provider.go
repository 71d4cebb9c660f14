package ratelimit

import (
	"github.com/fintrac/authcore/config"
	jwtmw "github.com/fintrac/authcore/middleware/jwt"
	"github.com/fintrac/authcore/services/ratelimit"
	"github.com/labstack/echo/v4"
)

// Routes holds the gating middleware for each rate-limited endpoint.
type Routes struct {
	Login          echo.MiddlewareFunc
	Register       echo.MiddlewareFunc
	ForgotPassword echo.MiddlewareFunc
	Resend         echo.MiddlewareFunc
	Refresh        echo.MiddlewareFunc
	Global         echo.MiddlewareFunc
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func ProvideRoutes(cfg *config.Config, limiter *ratelimit.Limiter) *Routes {
	if !cfg.RateLimit.Enabled {
		return &Routes{
			Login:          passthrough,
			Register:       passthrough,
			ForgotPassword: passthrough,
			Resend:         passthrough,
			Refresh:        passthrough,
			Global:         passthrough,
		}
	}

	rl := cfg.RateLimit
	return &Routes{
		// the caller's own address is charged first, so a client it rejects
		// cannot drain another user's account bucket
		Login: ForRoute(limiter,
			RouteLimit{Capacity: rl.LoginIPCapacity, RefillRate: rl.LoginIPRefillRate, Identifier: ByIP},
			RouteLimit{Capacity: rl.LoginAccountCapacity, RefillRate: rl.LoginAccountRefillRate, Identifier: ByAccount},
		),
		Register:       ForRoute(limiter, RouteLimit{Capacity: rl.RegisterCapacity, RefillRate: rl.RegisterRefillRate, Identifier: ByIP}),
		ForgotPassword: ForRoute(limiter, RouteLimit{Capacity: rl.ForgotPasswordCapacity, RefillRate: rl.ForgotPasswordRefillRate, Identifier: ByEmail}),
		Resend:         ForRoute(limiter, RouteLimit{Capacity: rl.ResendCapacity, RefillRate: rl.ResendRefillRate, Identifier: ByEmail}),
		Refresh:        ForRoute(limiter, RouteLimit{Capacity: rl.RefreshCapacity, RefillRate: rl.RefreshRefillRate, Identifier: ByIP}),
		Global:         Tiered(limiter, ratelimit.TierRules(cfg), DefaultTier(jwtmw.GetUserID), jwtmw.GetUserID),
	}
}
