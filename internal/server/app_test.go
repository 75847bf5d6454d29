package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenwatch/internal/config"
	"github.com/JakeFAU/screenwatch/internal/screens"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Headless.Enabled = false
	cfg.Sweep.Concurrency = 1
	return &cfg
}

func buildApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })
	return app
}

func seedProduct(t *testing.T, repo screens.Repository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreateProduct(ctx, screens.Product{ID: "p1", Name: "Shop", BaseURL: "https://staging.shop.test"}))
	require.NoError(t, repo.CreateRoute(ctx, screens.Route{ID: "home", ProductID: "p1", Name: "Home", Path: "/"}))
	require.NoError(t, repo.CreateRoute(ctx, screens.Route{ID: "cart", ProductID: "p1", Name: "Checkout Cart", Path: "/cart", FlowName: "Checkout"}))
	require.NoError(t, repo.AddConnection(ctx, screens.Connection{ProductID: "p1", SourceRouteID: "home", DestRouteID: "cart"}))
}

func TestBuild_MemoryDefaults(t *testing.T) {
	app := buildApp(t, testConfig(t))
	require.NotNil(t, app.Repository())
	require.Len(t, app.workers, 1)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunSweep_FailsWhenScreenshotsDisabled(t *testing.T) {
	app := buildApp(t, testConfig(t))
	seedProduct(t, app.Repository())

	sweep, err := app.RunSweep(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, screens.SweepStatusFailed, sweep.Status)
	require.Equal(t, 2, sweep.Counters.RoutesFailed)
	require.Contains(t, sweep.ErrorText, "headless screenshots disabled")

	_, err = app.RunSweep(context.Background(), "missing")
	require.ErrorIs(t, err, screens.ErrNotFound)
}

func TestFlows(t *testing.T) {
	app := buildApp(t, testConfig(t))
	seedProduct(t, app.Repository())

	overview, err := app.Flows(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, []string{"Checkout", screens.UngroupedFlow}, overview.FlowNames)
	require.Empty(t, overview.Unconnected)

	_, err = app.Flows(context.Background(), "missing")
	require.ErrorIs(t, err, screens.ErrNotFound)
}

func TestBuild_SQLiteAndLocalStorage(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(dir, "screenwatch.db")
	cfg.Storage.Backend = "local"
	cfg.Storage.Local.BaseDir = filepath.Join(dir, "blobs")

	app := buildApp(t, cfg)
	require.NotNil(t, app.ready)
	require.NoError(t, app.ready(context.Background()))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	seedProduct(t, app.Repository())
	routes, err := app.Repository().ListRoutes(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, routes, 2)
}
