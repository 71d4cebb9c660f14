package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/fintrac/authcore/services/cache"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

type HealthHandler struct {
	db    *gorm.DB
	cache *cache.Client
}

// NewHealthHandler accepts a nil cache when redis is not configured.
func NewHealthHandler(db *gorm.DB, cacheClient *cache.Client) *HealthHandler {
	return &HealthHandler{db: db, cache: cacheClient}
}

// Check pings each backing store. The limiter fails open, so a cache outage
// degrades the service rather than taking it down.
func (h *HealthHandler) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status := http.StatusOK
	overall := "ok"

	if err := h.pingDB(ctx); err != nil {
		checks["database"] = "unavailable"
		status = http.StatusServiceUnavailable
		overall = "unavailable"
	}

	if h.cache != nil {
		checks["cache"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			checks["cache"] = "unavailable"
			if overall == "ok" {
				overall = "degraded"
			}
		}
	}

	return c.JSON(status, Response{
		Success: status == http.StatusOK,
		Message: overall,
		Data:    checks,
	})
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
