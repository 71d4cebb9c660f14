package ratelimit

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	jwtmw "github.com/fintrac/authcore/middleware/jwt"
	"github.com/fintrac/authcore/services/auth"
	"github.com/fintrac/authcore/services/ratelimit"
	"github.com/labstack/echo/v4"
)

type Dimension string

const (
	ByIP       Dimension = "ip"
	ByUser     Dimension = "user"
	ByEmail    Dimension = "email"
	ByUsername Dimension = "username"
	// ByAccount keys on the email when present, otherwise the username.
	ByAccount Dimension = "account"
)

// maxBodyPeek bounds how much of a request body is buffered to find an
// email or username.
const maxBodyPeek = 64 << 10

type RouteLimit struct {
	Capacity   int
	RefillRate float64
	Cost       float64
	Identifier Dimension
}

func (l RouteLimit) rule() ratelimit.Rule {
	return ratelimit.Rule{Capacity: l.Capacity, RefillRate: l.RefillRate, Cost: l.Cost}
}

type Config struct {
	Limiter *ratelimit.Limiter
	Limits  []RouteLimit
	// Route scopes the bucket; defaults to the matched route path.
	Route          string
	UserID         func(c echo.Context) string
	OnLimitReached func(c echo.Context, result ratelimit.Result) error
	Skipper        func(c echo.Context) bool
}

// ForRoute gates a route on every limit passing. Limits are checked in order
// and the first rejection wins. A limit that passes is charged even when a
// later one rejects, so list the limit the caller controls (its address)
// before any limit it shares with others (an account). Limits that resolve to
// the same bucket for a request (a fallback to IP next to an IP limit) are
// charged once.
func ForRoute(limiter *ratelimit.Limiter, limits ...RouteLimit) echo.MiddlewareFunc {
	return Middleware(&Config{Limiter: limiter, Limits: limits})
}

func Middleware(cfg *Config) echo.MiddlewareFunc {
	if cfg.UserID == nil {
		cfg.UserID = jwtmw.GetUserID
	}

	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = DefaultOnLimitReached
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Limiter == nil || (cfg.Skipper != nil && cfg.Skipper(c)) {
				return next(c)
			}

			route := cfg.Route
			if route == "" {
				route = c.Path()
			}

			ctx := c.Request().Context()
			seen := make(map[string]bool, len(cfg.Limits))
			for _, limit := range cfg.Limits {
				identifier := route + ":" + Identify(c, limit.Identifier, cfg.UserID)
				if seen[identifier] {
					continue
				}
				seen[identifier] = true

				result := cfg.Limiter.Allow(ctx, identifier, limit.rule())
				setHeaders(c, result)

				if !result.Allowed {
					return cfg.OnLimitReached(c, result)
				}
			}

			return next(c)
		}
	}
}

// Identify builds the "{dimension}:{value}" part of a bucket identifier.
// Dimensions without a value for this request fall back to the client IP.
func Identify(c echo.Context, dim Dimension, userID func(echo.Context) string) string {
	switch dim {
	case ByUser:
		if userID != nil {
			if id := userID(c); id != "" {
				return "user:" + id
			}
		}
	case ByEmail, ByUsername:
		if v := bodyField(c, string(dim)); v != "" {
			return string(dim) + ":" + strings.ToLower(v)
		}
	case ByAccount:
		if v := bodyField(c, string(ByEmail)); v != "" {
			return "email:" + strings.ToLower(v)
		}
		if v := bodyField(c, string(ByUsername)); v != "" {
			return "username:" + strings.ToLower(v)
		}
	}
	return "ip:" + clientIP(c)
}

func clientIP(c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		return "unknown"
	}
	return ip
}

// bodyField reads a top-level string field from a JSON body and restores the
// body for the handler.
func bodyField(c echo.Context, field string) string {
	req := c.Request()
	if req.Body == nil || !strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(req.Body, maxBodyPeek))
	rest := req.Body
	req.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), rest), rest}
	if err != nil {
		return ""
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}

	v, _ := payload[field].(string)
	return strings.TrimSpace(v)
}

func setHeaders(c echo.Context, result ratelimit.Result) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func DefaultOnLimitReached(c echo.Context, result ratelimit.Result) error {
	retryAfter := result.RetryAfter
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	return auth.RateLimited(retryAfter)
}
