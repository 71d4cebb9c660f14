// Package e2etesting runs the assembled application behind a real HTTP
// listener and drives it the way a client would.
package e2etesting

import (
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/fintrac/authcore/app"
	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/testutils"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type Options struct {
	// Override adjusts the test configuration before the app is built.
	Override    func(*config.Config)
	WithoutMail bool
	// ReportCoverage prints the endpoint coverage report when the test ends.
	ReportCoverage bool
}

type E2EApp struct {
	App        *app.App
	TestServer *httptest.Server
	BaseURL    string
	Config     *config.Config
	DB         *gorm.DB
	Client     *HTTPClient
	Auth       *AuthHelper
	Coverage   *CoverageTracker
}

// TestConfig returns a configuration backed by a private in-memory database
// named after the test. Every pooled connection shares it.
func TestConfig(t *testing.T) *config.Config {
	cfg := testutils.GetTestConfig()
	cfg.Log.Level = "error"
	cfg.Database.AutoMigrate = true
	cfg.Database.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	return cfg
}

func New(t *testing.T, opts Options) *E2EApp {
	t.Helper()

	cfg := TestConfig(t)
	if opts.Override != nil {
		opts.Override(cfg)
	}

	builder := app.NewApp().WithConfig(cfg)
	if opts.WithoutMail {
		builder = builder.WithoutMail()
	}
	a, err := builder.Build()
	require.NoError(t, err, "failed to build app")

	e := a.Echo()
	tracker := NewCoverageTracker()
	tracker.RegisterRoutes(e)
	e.Use(tracker.TrackingMiddleware())

	srv := httptest.NewServer(e)
	client := NewHTTPClient(srv.URL)

	t.Cleanup(func() {
		srv.Close()
		if opts.ReportCoverage {
			tracker.PrintReportTo(os.Stderr)
		}
		if sqlDB, err := a.DB().DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return &E2EApp{
		App:        a,
		TestServer: srv,
		BaseURL:    srv.URL,
		Config:     cfg,
		DB:         a.DB(),
		Client:     client,
		Auth:       NewAuthHelper(client, a.DB()),
		Coverage:   tracker,
	}
}
