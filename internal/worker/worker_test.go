package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenwatch/internal/diff"
	"github.com/JakeFAU/screenwatch/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/screenwatch/internal/publisher/memory"
	qmemory "github.com/JakeFAU/screenwatch/internal/queue/memory"
	"github.com/JakeFAU/screenwatch/internal/screens"
	blobmemory "github.com/JakeFAU/screenwatch/internal/storage/memory"
	storememory "github.com/JakeFAU/screenwatch/internal/store/memory"
)

type harness struct {
	repo    *storememory.Repository
	blobs   *blobmemory.BlobStore
	pub     *pubmemory.Publisher
	shots   *fakeScreenshotter
	queue   *qmemory.Queue
	worker  *Worker
	product screens.Product
}

func newHarness(t *testing.T, routes ...screens.Route) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		repo:    storememory.New(),
		blobs:   blobmemory.NewBlobStore(),
		pub:     pubmemory.New(),
		shots:   newFakeScreenshotter(),
		queue:   qmemory.NewQueue(4),
		product: screens.Product{ID: "p1", Name: "Shop", BaseURL: "https://staging.shop.test/app/"},
	}
	require.NoError(t, h.repo.CreateProduct(ctx, h.product))
	for _, r := range routes {
		r.ProductID = h.product.ID
		require.NoError(t, h.repo.CreateRoute(ctx, r))
	}
	h.worker = New(Deps{
		Queue:         h.queue,
		Store:         h.repo,
		BlobStore:     h.blobs,
		Publisher:     h.pub,
		Differ:        diff.New(h.blobs, diff.DefaultOptions()),
		Screenshotter: h.shots,
		Hasher:        sha256.New(),
		Clock:         &tickingClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		IDs:           &seqIDs{},
	}, Config{BlobPrefix: "screenshots", Topic: "capture-changes"}, zap.NewNop())
	return h
}

func (h *harness) submit(t *testing.T, sweepID string) screens.QueueItem {
	t.Helper()
	require.NoError(t, h.repo.CreateSweep(context.Background(), screens.Sweep{
		ID:        sweepID,
		ProductID: h.product.ID,
		Status:    screens.SweepStatusQueued,
		Submitted: time.Now().UTC(),
	}))
	return screens.QueueItem{SweepID: sweepID, ProductID: h.product.ID}
}

func TestWorker_FirstSweepStoresBaseline(t *testing.T) {
	t.Parallel()

	h := newHarness(t, screens.Route{ID: "r1", Name: "Home", Path: "/"}, screens.Route{ID: "r2", Name: "Cart", Path: "/cart"})
	h.shots.set("https://staging.shop.test/app/", solidPNG(t, 20, 20, color.White))
	h.shots.set("https://staging.shop.test/app/cart", solidPNG(t, 20, 20, color.White))

	sweep, err := h.worker.RunSweep(context.Background(), h.submit(t, "s1"))
	require.NoError(t, err)
	require.Equal(t, screens.SweepStatusSucceeded, sweep.Status)
	require.Equal(t, screens.SweepCounters{RoutesCaptured: 2}, sweep.Counters)
	require.NotNil(t, sweep.Started)
	require.NotNil(t, sweep.Finished)

	latest, err := h.repo.LatestCapture(context.Background(), "r2")
	require.NoError(t, err)
	require.False(t, latest.HasChanges)
	require.Nil(t, latest.ChangeSummary)
	require.Zero(t, latest.DiffPercentage)
	require.Equal(t, "s1", latest.SweepID)
	require.Regexp(t, `^memory://screenshots/p1/r2/[0-9a-f]{64}\.png$`, latest.ScreenshotURL)
	require.Empty(t, h.pub.Messages())
}

func TestWorker_ChangedRoutePublishes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, screens.Route{ID: "r1", Name: "Checkout - Pay", Path: "pay", FlowName: "Checkout"})
	url := "https://staging.shop.test/app/pay"
	h.shots.set(url, solidPNG(t, 10, 10, color.White))
	_, err := h.worker.RunSweep(context.Background(), h.submit(t, "s1"))
	require.NoError(t, err)

	h.shots.set(url, solidPNG(t, 10, 10, color.Black))
	sweep, err := h.worker.RunSweep(context.Background(), h.submit(t, "s2"))
	require.NoError(t, err)
	require.Equal(t, screens.SweepCounters{RoutesCaptured: 1, RoutesChanged: 1}, sweep.Counters)

	latest, err := h.repo.LatestCapture(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, latest.HasChanges)
	require.Equal(t, "100.00% of pixels changed", *latest.ChangeSummary)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "capture-changes", msgs[0].Topic)
	payload := msgs[0].Payload.(map[string]any)
	require.Equal(t, EventCaptureChanged, payload["type"])
	require.Equal(t, "Checkout", payload["flow_name"])
	require.Equal(t, latest.ID, payload["capture_id"])
}

func TestWorker_UnchangedRouteDoesNotPublish(t *testing.T) {
	t.Parallel()

	h := newHarness(t, screens.Route{ID: "r1", Name: "Home", Path: "/"})
	h.shots.set("https://staging.shop.test/app/", solidPNG(t, 10, 10, color.White))
	for _, id := range []string{"s1", "s2"} {
		_, err := h.worker.RunSweep(context.Background(), h.submit(t, id))
		require.NoError(t, err)
	}
	captures, err := h.repo.ListCaptures(context.Background(), "r1", 0)
	require.NoError(t, err)
	require.Len(t, captures, 2)
	require.False(t, captures[0].HasChanges)
	require.Empty(t, h.pub.Messages())
}

func TestWorker_ScreenshotFailureCountsRoute(t *testing.T) {
	t.Parallel()

	h := newHarness(t, screens.Route{ID: "ok", Name: "Home", Path: "/"}, screens.Route{ID: "bad", Name: "Broken", Path: "/broken"})
	h.shots.set("https://staging.shop.test/app/", solidPNG(t, 10, 10, color.White))

	sweep, err := h.worker.RunSweep(context.Background(), h.submit(t, "s1"))
	require.NoError(t, err)
	require.Equal(t, screens.SweepStatusSucceeded, sweep.Status)
	require.Equal(t, screens.SweepCounters{RoutesCaptured: 1, RoutesFailed: 1}, sweep.Counters)
	require.Contains(t, sweep.ErrorText, "no page")
}

func TestWorker_AllRoutesFailingFailsSweep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, screens.Route{ID: "bad", Name: "Broken", Path: "/broken"})
	sweep, err := h.worker.RunSweep(context.Background(), h.submit(t, "s1"))
	require.NoError(t, err)
	require.Equal(t, screens.SweepStatusFailed, sweep.Status)
}

func TestWorker_NoRoutesFailsSweep(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sweep, err := h.worker.RunSweep(context.Background(), h.submit(t, "s1"))
	require.NoError(t, err)
	require.Equal(t, screens.SweepStatusFailed, sweep.Status)
	require.Equal(t, "product has no routes", sweep.ErrorText)
}

func TestWorker_DegradedDiffStillStoresCapture(t *testing.T) {
	t.Parallel()

	h := newHarness(t, screens.Route{ID: "r1", Name: "Home", Path: "/"})
	url := "https://staging.shop.test/app/"
	require.NoError(t, h.repo.InsertCapture(context.Background(), screens.Capture{
		ID:            "old",
		RouteID:       "r1",
		ScreenshotURL: "memory://gone.png",
		CapturedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	h.shots.set(url, solidPNG(t, 10, 10, color.Black))

	sweep, err := h.worker.RunSweep(context.Background(), h.submit(t, "s1"))
	require.NoError(t, err)
	require.Equal(t, 1, sweep.Counters.RoutesCaptured)

	latest, err := h.repo.LatestCapture(context.Background(), "r1")
	require.NoError(t, err)
	require.NotEqual(t, "old", latest.ID)
	require.False(t, latest.HasChanges)
	require.Nil(t, latest.ChangeSummary)
}

func TestWorker_PublishFailureDoesNotFailRoute(t *testing.T) {
	t.Parallel()

	h := newHarness(t, screens.Route{ID: "r1", Name: "Home", Path: "/"})
	url := "https://staging.shop.test/app/"
	h.shots.set(url, solidPNG(t, 10, 10, color.White))
	_, err := h.worker.RunSweep(context.Background(), h.submit(t, "s1"))
	require.NoError(t, err)

	h.pub.FailWith(errors.New("pubsub down"))
	h.shots.set(url, solidPNG(t, 10, 10, color.Black))
	sweep, err := h.worker.RunSweep(context.Background(), h.submit(t, "s2"))
	require.NoError(t, err)
	require.Equal(t, screens.SweepCounters{RoutesCaptured: 1, RoutesChanged: 1}, sweep.Counters)
}

func TestWorker_SkipsTerminalSweep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, screens.Route{ID: "r1", Name: "Home", Path: "/"})
	item := h.submit(t, "s1")
	require.NoError(t, h.repo.UpdateSweepStatus(context.Background(), "s1", screens.SweepStatusCanceled, "", screens.SweepCounters{}))

	sweep, err := h.worker.RunSweep(context.Background(), item)
	require.NoError(t, err)
	require.Equal(t, screens.SweepStatusCanceled, sweep.Status)
	require.Zero(t, h.shots.calls.Load())
}

func TestWorker_CancelViaRegistry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, screens.Route{ID: "r1", Name: "Home", Path: "/"}, screens.Route{ID: "r2", Name: "Cart", Path: "/cart"})
	h.shots.block = make(chan struct{})
	item := h.submit(t, "s1")

	type outcome struct {
		sweep screens.Sweep
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		sweep, err := h.worker.RunSweep(context.Background(), item)
		done <- outcome{sweep, err}
	}()

	require.Eventually(t, func() bool {
		return h.worker.deps.Registry.Running("s1")
	}, time.Second, 5*time.Millisecond)
	require.True(t, h.worker.deps.Registry.Cancel("s1"))

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.Equal(t, screens.SweepStatusCanceled, got.sweep.Status)
		require.Equal(t, 1, got.sweep.Counters.RoutesFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not stop after cancel")
	}
	require.False(t, h.worker.deps.Registry.Running("s1"))
	require.False(t, h.worker.deps.Registry.Cancel("s1"))
}

func TestWorker_RunConsumesQueue(t *testing.T) {
	t.Parallel()

	h := newHarness(t, screens.Route{ID: "r1", Name: "Home", Path: "/"})
	h.shots.set("https://staging.shop.test/app/", solidPNG(t, 10, 10, color.White))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.worker.Run(ctx)

	require.NoError(t, h.queue.Enqueue(ctx, h.submit(t, "s1")))
	require.Eventually(t, func() bool {
		sweep, err := h.repo.GetSweep(context.Background(), "s1")
		return err == nil && sweep.Status == screens.SweepStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJoinURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		base, path, want string
		wantErr          bool
	}{
		{"https://staging.test", "/login", "https://staging.test/login", false},
		{"https://staging.test/app/", "/login", "https://staging.test/app/login", false},
		{"https://staging.test/app", "settings?tab=2", "https://staging.test/app/settings?tab=2", false},
		{"https://staging.test", "", "https://staging.test", false},
		{"https://staging.test", "https://other.test/x", "https://other.test/x", false},
		{"staging.test", "/x", "", true},
	}
	for _, tc := range testCases {
		got, err := JoinURL(tc.base, tc.path)
		if tc.wantErr {
			require.Error(t, err, tc.base)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestBuildBlobPath(t *testing.T) {
	t.Parallel()

	w := New(Deps{}, Config{BlobPrefix: "/screenshots/"}, nil)
	require.Equal(t, "screenshots/p/r/h.png", w.BuildBlobPath("p", "r", "h"))
	w = New(Deps{}, Config{}, nil)
	require.Equal(t, "p/r/h.png", w.BuildBlobPath("p", "r", "h"))
}

type fakeScreenshotter struct {
	mu    sync.Mutex
	pages map[string][]byte
	block chan struct{}
	calls atomic.Int32
}

func newFakeScreenshotter() *fakeScreenshotter {
	return &fakeScreenshotter{pages: map[string][]byte{}}
}

func (f *fakeScreenshotter) set(url string, img []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = img
}

func (f *fakeScreenshotter) Screenshot(ctx context.Context, req screens.ScreenshotRequest) (screens.ScreenshotResponse, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return screens.ScreenshotResponse{}, ctx.Err()
		}
	}
	f.mu.Lock()
	img, ok := f.pages[req.URL]
	f.mu.Unlock()
	if !ok {
		return screens.ScreenshotResponse{}, errors.New("no page at " + req.URL)
	}
	return screens.ScreenshotResponse{URL: req.URL, StatusCode: 200, Image: img, ContentType: "image/png"}, nil
}

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return "cap-" + string(rune('a'+s.n.Add(1))), nil
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
