package jwt

import (
	"context"
	"net/http"
	"strings"

	"github.com/fintrac/authcore/services/auth"
	"github.com/fintrac/authcore/services/jwt"
	"github.com/fintrac/authcore/services/logging"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	UserIDKey    = "_jwt_user_id"
	SessionIDKey = "_jwt_session_id"
	ClaimsKey    = "_jwt_claims"
)

// SessionTracker reports whether the session behind an access token is still
// live and stamps its last use.
type SessionTracker interface {
	TouchActive(ctx context.Context, sessionID string) (bool, error)
}

type Config struct {
	Codec    *jwt.Service
	Sessions SessionTracker
	Logger   *logging.Service
}

func RequireJWT(codec *jwt.Service) echo.MiddlewareFunc {
	return RequireJWTWithConfig(Config{Codec: codec})
}

func RequireJWTWithConfig(cfg Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "JWT token required")
			}

			ctx := c.Request().Context()
			claims, err := cfg.Codec.Verify(ctx, tokenString, jwt.KindAccess)
			if err != nil {
				cfg.Logger.Debug("access token rejected", logging.TokenFingerprint(tokenString), zap.Error(err))
				return auth.FromTokenError(err)
			}

			sessionID := claims.SessionID()
			if cfg.Sessions != nil && sessionID != "" {
				active, err := cfg.Sessions.TouchActive(ctx, sessionID)
				if err != nil {
					cfg.Logger.Error("failed to check session for access token",
						zap.String("session_id", sessionID),
						zap.Error(err))
					return auth.Infrastructure(err)
				}
				if !active {
					return auth.ErrSessionExpiredOrRevoked
				}
			}

			c.Set(UserIDKey, claims.UserID)
			c.Set(SessionIDKey, sessionID)
			c.Set(ClaimsKey, claims)

			return next(c)
		}
	}
}

func GetUserID(c echo.Context) string {
	if userID, ok := c.Get(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

func GetSessionID(c echo.Context) string {
	if sessionID, ok := c.Get(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

func GetClaims(c echo.Context) *jwt.Claims {
	if claims, ok := c.Get(ClaimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}
