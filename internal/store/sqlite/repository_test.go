package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

var _ screens.Repository = (*Repository)(nil)

func openTemp(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "screenwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	require.NoError(t, repo.CreateProduct(ctx, screens.Product{ID: "p1", Name: "Shop", BaseURL: "https://staging.shop.test"}))
	level, order := 1, 2
	parent := "flow-1"
	require.NoError(t, repo.CreateRoute(ctx, screens.Route{
		ID: "r2", ProductID: "p1", Name: "Cart", Path: "/cart",
		FlowName: "Checkout", ParentFlowID: &parent, FlowLevel: &level, FlowOrder: &order,
	}))
	require.NoError(t, repo.CreateRoute(ctx, screens.Route{ID: "r1", ProductID: "p1", Name: "Home", Path: "/"}))
	return repo
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := Open("")
	require.Error(t, err)
}

func TestProductsAndRoutes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)

	require.NoError(t, repo.Ping(ctx))

	product, err := repo.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Shop", product.Name)
	require.False(t, product.CreatedAt.IsZero())

	_, err = repo.GetProduct(ctx, "missing")
	require.ErrorIs(t, err, screens.ErrNotFound)
	require.ErrorIs(t, repo.CreateProduct(ctx, screens.Product{ID: "p1", Name: "dup", BaseURL: "x"}), screens.ErrConflict)

	routes, err := repo.ListRoutes(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, routes, 2)
	require.Equal(t, "r2", routes[0].ID)
	require.Equal(t, "flow-1", *routes[0].ParentFlowID)
	require.Equal(t, 2, *routes[0].FlowOrder)
	require.Equal(t, screens.UngroupedFlow, routes[1].Flow())
	require.Nil(t, routes[1].FlowLevel)

	route, err := repo.GetRoute(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "/", route.Path)

	err = repo.CreateRoute(ctx, screens.Route{ID: "orphan", ProductID: "nope", Name: "x", Path: "/x"})
	require.ErrorIs(t, err, screens.ErrNotFound)

	products, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
}

func TestCapturesNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)

	_, err := repo.LatestCapture(ctx, "r1")
	require.ErrorIs(t, err, screens.ErrNotFound)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	summary := "3.00% of pixels changed"
	require.NoError(t, repo.InsertCapture(ctx, screens.Capture{ID: "c1", RouteID: "r1", SweepID: "s1", ScreenshotURL: "memory://1", CapturedAt: base}))
	require.NoError(t, repo.InsertCapture(ctx, screens.Capture{
		ID: "c3", RouteID: "r1", ScreenshotURL: "memory://3", CapturedAt: base.Add(2 * time.Hour),
		HasChanges: true, ChangeSummary: &summary, DiffPercentage: 3,
	}))
	require.NoError(t, repo.InsertCapture(ctx, screens.Capture{ID: "c2", RouteID: "r1", ScreenshotURL: "memory://2", CapturedAt: base.Add(time.Hour)}))

	latest, err := repo.LatestCapture(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "c3", latest.ID)
	require.True(t, latest.HasChanges)
	require.Equal(t, summary, *latest.ChangeSummary)
	require.Equal(t, base.Add(2*time.Hour), latest.CapturedAt)

	list, err := repo.ListCaptures(ctx, "r1", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c3", "c2"}, []string{list[0].ID, list[1].ID})

	all, err := repo.ListCaptures(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "s1", all[2].SweepID)
	require.Nil(t, all[2].ChangeSummary)

	err = repo.InsertCapture(ctx, screens.Capture{ID: "x", RouteID: "ghost", ScreenshotURL: "memory://x", CapturedAt: base})
	require.ErrorIs(t, err, screens.ErrNotFound)
}

func TestLatestCaptureTiesPreferLastInserted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertCapture(ctx, screens.Capture{ID: "first", RouteID: "r1", ScreenshotURL: "a", CapturedAt: at}))
	require.NoError(t, repo.InsertCapture(ctx, screens.Capture{ID: "second", RouteID: "r1", ScreenshotURL: "b", CapturedAt: at}))

	latest, err := repo.LatestCapture(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "second", latest.ID)
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)

	empty, err := repo.Summarize(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, empty.RouteCount)
	require.Nil(t, empty.LatestCapture)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertCapture(ctx, screens.Capture{ID: "c1", RouteID: "r1", ScreenshotURL: "a", CapturedAt: at, HasChanges: true}))
	require.NoError(t, repo.InsertCapture(ctx, screens.Capture{ID: "c2", RouteID: "r2", ScreenshotURL: "b", CapturedAt: at.Add(time.Minute)}))

	summary, err := repo.Summarize(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, summary.RouteCount)
	require.Equal(t, 1, summary.ChangedCaptures)
	require.Equal(t, at.Add(time.Minute), *summary.LatestCapture)
	require.Equal(t, []string{"Checkout", screens.UngroupedFlow}, summary.FlowNames)

	_, err = repo.Summarize(ctx, "missing")
	require.ErrorIs(t, err, screens.ErrNotFound)
}

func TestConnectionsDeduplicated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)

	edge := screens.Connection{ProductID: "p1", SourceRouteID: "r1", DestRouteID: "r2"}
	require.NoError(t, repo.AddConnection(ctx, edge))
	require.NoError(t, repo.AddConnection(ctx, edge))
	require.NoError(t, repo.AddConnection(ctx, screens.Connection{ProductID: "p1", SourceRouteID: "r2", DestRouteID: "r1"}))

	conns, err := repo.ListConnections(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, conns, 2)
	require.Equal(t, "r1", conns[0].SourceRouteID)
}

func TestSweepLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)

	submitted := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateSweep(ctx, screens.Sweep{ID: "s1", ProductID: "p1", Status: screens.SweepStatusQueued, Submitted: submitted}))
	require.NoError(t, repo.CreateSweep(ctx, screens.Sweep{ID: "s2", ProductID: "p1", Status: screens.SweepStatusQueued, Submitted: submitted.Add(time.Second)}))

	require.NoError(t, repo.UpdateSweepStatus(ctx, "s1", screens.SweepStatusRunning, "", screens.SweepCounters{}))
	sweep, err := repo.GetSweep(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, screens.SweepStatusRunning, sweep.Status)
	require.NotNil(t, sweep.Started)
	require.Nil(t, sweep.Finished)

	counters := screens.SweepCounters{RoutesCaptured: 2, RoutesChanged: 1, RoutesFailed: 1}
	require.NoError(t, repo.UpdateSweepStatus(ctx, "s1", screens.SweepStatusSucceeded, "boom", counters))
	sweep, err = repo.GetSweep(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sweep.Finished)
	require.Equal(t, counters, sweep.Counters)
	require.Equal(t, "boom", sweep.ErrorText)
	require.Equal(t, submitted, sweep.Submitted)

	latest, err := repo.LatestSweep(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "s2", latest.ID)

	_, err = repo.LatestSweep(ctx, "other")
	require.ErrorIs(t, err, screens.ErrNotFound)
	err = repo.UpdateSweepStatus(ctx, "ghost", screens.SweepStatusFailed, "", screens.SweepCounters{})
	require.ErrorIs(t, err, screens.ErrNotFound)
}
