package ratelimit

import (
	"github.com/fintrac/authcore/services/ratelimit"
	"github.com/labstack/echo/v4"
)

// TierFunc classifies the caller of a request.
type TierFunc func(c echo.Context) ratelimit.Tier

// DefaultTier treats any authenticated caller as the authenticated tier.
func DefaultTier(userID func(echo.Context) string) TierFunc {
	return func(c echo.Context) ratelimit.Tier {
		if userID(c) != "" {
			return ratelimit.TierAuthenticated
		}
		return ratelimit.TierAnonymous
	}
}

// Tiered applies one global bucket per caller, shaped by the caller's tier.
// Anonymous callers are keyed by IP and the rest by user id.
func Tiered(limiter *ratelimit.Limiter, rules map[ratelimit.Tier]ratelimit.Rule, tierOf TierFunc, userID func(echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter == nil {
				return next(c)
			}

			tier := tierOf(c)
			rule, ok := rules[tier]
			if !ok {
				tier = ratelimit.TierAnonymous
				rule = rules[tier]
			}

			dim := ByUser
			if tier == ratelimit.TierAnonymous {
				dim = ByIP
			}

			result := limiter.Allow(c.Request().Context(), "tier:"+Identify(c, dim, userID), rule)
			c.Response().Header().Set("X-RateLimit-Tier", string(tier))
			setHeaders(c, result)

			if !result.Allowed {
				return DefaultOnLimitReached(c, result)
			}

			return next(c)
		}
	}
}
