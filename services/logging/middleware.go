package logging

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type RequestLoggerConfig struct {
	SkipPaths []string
	// ContextFields maps echo context keys to log field names. Values set by
	// later middleware (the authenticated user, for one) are read after the
	// handler returns.
	ContextFields map[string]string
}

func RequestLogger(logger *Service) echo.MiddlewareFunc {
	return RequestLoggerWithConfig(logger, RequestLoggerConfig{})
}

func RequestLoggerSkipPaths(logger *Service, skipPaths ...string) echo.MiddlewareFunc {
	return RequestLoggerWithConfig(logger, RequestLoggerConfig{SkipPaths: skipPaths})
}

func RequestLoggerWithConfig(logger *Service, cfg RequestLoggerConfig) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogRoutePath: true,
		LogError:     true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRequestID: true,
		HandleError:  true,
		Skipper: func(c echo.Context) bool {
			_, ok := skip[c.Request().URL.Path]
			return ok
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			// path only, the query string is never logged
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("route", v.RoutePath),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
				zap.String("user_agent", v.UserAgent),
			}

			requestID := v.RequestID
			if requestID == "" {
				requestID = c.Response().Header().Get(echo.HeaderXRequestID)
			}
			if requestID != "" {
				fields = append(fields, zap.String("request_id", requestID))
			}

			for key, name := range cfg.ContextFields {
				if val := c.Get(key); val != nil {
					fields = append(fields, zap.String(name, fmt.Sprint(val)))
				}
			}

			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}

			switch {
			case v.Status >= http.StatusInternalServerError:
				logger.Error("server error", fields...)
			case v.Status == http.StatusTooManyRequests:
				logger.Warn("rate limited", fields...)
			case v.Status == http.StatusUnauthorized:
				logger.Warn("unauthenticated", fields...)
			case v.Status >= http.StatusBadRequest:
				logger.Info("client error", fields...)
			default:
				logger.Info("request", fields...)
			}
			return nil
		},
	})
}
