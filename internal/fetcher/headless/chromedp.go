// Package headless renders routes in headless Chrome and captures screenshots.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultWidth      = 1280
	defaultHeight     = 800
)

// Config controls the behavior of the screenshotter.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready so client-side rendering finishes.
	Settle         time.Duration
	ViewportWidth  int
	ViewportHeight int
	FullPage       bool
}

// Screenshotter implements screens.Screenshotter using chromedp.
type Screenshotter struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a screenshotter backed by a shared Chrome allocator.
func NewChromedp(cfg Config) (*Screenshotter, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = defaultWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = defaultHeight
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Screenshotter{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, shutting Chrome down.
func (s *Screenshotter) Close() {
	s.allocCancel()
}

// Screenshot opens the URL, waits for it to settle and returns a PNG.
func (s *Screenshotter) Screenshot(ctx context.Context, request screens.ScreenshotRequest) (screens.ScreenshotResponse, error) {
	if err := s.acquire(ctx); err != nil {
		return screens.ScreenshotResponse{}, err
	}
	defer s.release()

	taskCtx, taskCancel := chromedp.NewContext(s.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, s.cfg.NavigationTimeout)
	defer cancel()
	// Stop the browser tab when the caller gives up (sweep canceled).
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	image, finalURL, err := s.run(taskCtx, request.URL)
	if err != nil {
		return screens.ScreenshotResponse{}, err
	}

	status, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	if status >= http.StatusBadRequest {
		return screens.ScreenshotResponse{}, fmt.Errorf("navigate %s: status %d", responseURL, status)
	}
	return screens.ScreenshotResponse{
		URL:         responseURL,
		StatusCode:  status,
		Image:       image,
		ContentType: "image/png",
		Duration:    time.Since(start),
	}, nil
}

func (s *Screenshotter) run(ctx context.Context, url string) ([]byte, string, error) {
	var (
		buf      []byte
		finalURL string
	)
	if err := chromedp.Run(ctx, s.actions(url, &buf, &finalURL)...); err != nil {
		return nil, "", fmt.Errorf("chromedp run: %w", err)
	}
	return buf, finalURL, nil
}

func (s *Screenshotter) actions(url string, buf *[]byte, finalURL *string) []chromedp.Action {
	actions := []chromedp.Action{
		s.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.cfg.Settle > 0 {
		actions = append(actions, chromedp.Sleep(s.cfg.Settle))
	}
	actions = append(actions, chromedp.Location(finalURL))
	if s.cfg.FullPage {
		// Quality 100 keeps the capture lossless PNG.
		actions = append(actions, chromedp.FullScreenshot(buf, 100))
	} else {
		actions = append(actions, chromedp.CaptureScreenshot(buf))
	}
	return actions
}

func (s *Screenshotter) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		err := emulation.SetDeviceMetricsOverride(int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight), 1, false).Do(ctx)
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

func (s *Screenshotter) acquire(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	select {
	case s.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s *Screenshotter) release() {
	if s.limiter == nil {
		return
	}
	select {
	case <-s.limiter:
	default:
	}
}

// responseMeta records the main document response seen during navigation.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; iframes arrive later as documents too.
	if m.url != "" {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
