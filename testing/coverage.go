package e2etesting

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

type RouteInfo struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	HitCount int    `json:"hit_count,omitempty"`
}

type CoverageStats struct {
	TotalRoutes   int
	CoveredRoutes int
	MissingRoutes []RouteInfo
	Coverage      float64
}

// CoverageTracker counts requests per registered route so a suite can report
// which endpoints it never exercised.
type CoverageTracker struct {
	mu      sync.RWMutex
	routes  map[string]RouteInfo
	hits    map[string]int
	exclude []string
}

func NewCoverageTracker(excludePaths ...string) *CoverageTracker {
	return &CoverageTracker{
		routes:  make(map[string]RouteInfo),
		hits:    make(map[string]int),
		exclude: excludePaths,
	}
}

func routeKey(method, path string) string {
	return method + " " + path
}

func (ct *CoverageTracker) RegisterRoutes(e *echo.Echo) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	for _, r := range e.Routes() {
		if ct.excluded(r.Path) {
			continue
		}
		ct.routes[routeKey(r.Method, r.Path)] = RouteInfo{Method: r.Method, Path: r.Path}
	}
}

func (ct *CoverageTracker) excluded(path string) bool {
	for _, p := range ct.exclude {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// TrackingMiddleware records the matched route template, so /sessions/:id is
// one entry however many ids are requested.
func (ct *CoverageTracker) TrackingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ct.mu.Lock()
			ct.hits[routeKey(c.Request().Method, c.Path())]++
			ct.mu.Unlock()
			return next(c)
		}
	}
}

func (ct *CoverageTracker) HitCount(method, path string) int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.hits[routeKey(method, path)]
}

// Stats covers the registered routes whose path starts with prefix; an empty
// prefix covers all of them.
func (ct *CoverageTracker) Stats(prefix string) CoverageStats {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	var stats CoverageStats
	for key, r := range ct.routes {
		if !strings.HasPrefix(r.Path, prefix) {
			continue
		}
		stats.TotalRoutes++
		if ct.hits[key] > 0 {
			stats.CoveredRoutes++
		} else {
			stats.MissingRoutes = append(stats.MissingRoutes, r)
		}
	}
	sortRoutes(stats.MissingRoutes)

	if stats.TotalRoutes > 0 {
		stats.Coverage = float64(stats.CoveredRoutes) / float64(stats.TotalRoutes) * 100
	}
	return stats
}

func (ct *CoverageTracker) Covered() []RouteInfo {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	var covered []RouteInfo
	for key, r := range ct.routes {
		if n := ct.hits[key]; n > 0 {
			r.HitCount = n
			covered = append(covered, r)
		}
	}
	sortRoutes(covered)
	return covered
}

func sortRoutes(routes []RouteInfo) {
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
}

func (ct *CoverageTracker) PrintReportTo(w io.Writer) {
	stats := ct.Stats("")

	fmt.Fprintf(w, "\nAPI endpoint coverage: %d/%d (%.1f%%)\n", stats.CoveredRoutes, stats.TotalRoutes, stats.Coverage)
	for _, r := range ct.Covered() {
		fmt.Fprintf(w, "  covered  %-7s %-45s [%d]\n", r.Method, r.Path, r.HitCount)
	}
	for _, r := range stats.MissingRoutes {
		fmt.Fprintf(w, "  missing  %-7s %s\n", r.Method, r.Path)
	}
}
