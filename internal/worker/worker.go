// Package worker implements the sweep capture pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/screenwatch/internal/diff"
	"github.com/JakeFAU/screenwatch/internal/metrics"
	"github.com/JakeFAU/screenwatch/internal/screens"
)

// EventCaptureChanged is the notification type published for changed captures.
const EventCaptureChanged = "capture.changed"

// Evaluator diffs a fresh screenshot against the previous one.
type Evaluator interface {
	Evaluate(ctx context.Context, current []byte, previousURL string) (diff.Result, error)
}

// Store is the persistence surface a worker needs.
type Store interface {
	screens.ProductStore
	screens.RouteStore
	screens.CaptureStore
	screens.SweepStore
}

// Config controls Worker behavior.
type Config struct {
	ContentType  string
	BlobPrefix   string
	Topic        string
	SweepTimeout time.Duration
}

// Deps bundles the collaborators a Worker drives.
type Deps struct {
	Queue         screens.Queue
	Store         Store
	BlobStore     screens.BlobStore
	Publisher     screens.Publisher
	Differ        Evaluator
	Screenshotter screens.Screenshotter
	Limiter       screens.Limiter
	Hasher        screens.Hasher
	Clock         screens.Clock
	IDs           screens.IDGenerator
	Registry      *Registry
}

// Worker consumes queued sweeps and captures every route of the product.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "image/png"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued sweep", zap.String("sweep_id", item.SweepID))
		metrics.IncActiveWorkers()
		if _, err := w.RunSweep(ctx, item); err != nil {
			w.logger.Error("sweep failed", zap.String("sweep_id", item.SweepID), zap.Error(err))
		}
		metrics.DecActiveWorkers()
	}
}

// RunSweep executes one sweep synchronously and returns its final state.
func (w *Worker) RunSweep(ctx context.Context, item screens.QueueItem) (screens.Sweep, error) {
	log := w.logger.With(zap.String("sweep_id", item.SweepID), zap.String("product_id", item.ProductID))

	sweep, err := w.deps.Store.GetSweep(ctx, item.SweepID)
	if err != nil {
		return screens.Sweep{}, fmt.Errorf("load sweep: %w", err)
	}
	if sweep.Status.IsTerminal() {
		log.Info("skipping finished sweep", zap.String("status", string(sweep.Status)))
		return sweep, nil
	}

	sweepCtx, cancel := w.sweepContext(ctx)
	defer cancel()
	w.deps.Registry.Register(item.SweepID, cancel)
	defer w.deps.Registry.Remove(item.SweepID)

	// Status writes must land even after the sweep context is canceled.
	persistCtx := context.WithoutCancel(ctx)
	counters := screens.SweepCounters{}

	product, routes, err := w.loadProduct(ctx, item.ProductID)
	if err != nil {
		return w.finish(persistCtx, log, item.SweepID, screens.SweepStatusFailed, err.Error(), counters)
	}

	if err := w.deps.Store.UpdateSweepStatus(persistCtx, item.SweepID, screens.SweepStatusRunning, "", counters); err != nil {
		return screens.Sweep{}, fmt.Errorf("mark sweep running: %w", err)
	}

	errText := ""
	for _, route := range routes {
		if sweepCtx.Err() != nil {
			break
		}
		changed, err := w.handleRoute(sweepCtx, item.SweepID, product, route)
		if err != nil {
			counters.RoutesFailed++
			errText = err.Error()
			log.Error("route capture failed", zap.String("route_id", route.ID), zap.Error(err))
			continue
		}
		counters.RoutesCaptured++
		if changed {
			counters.RoutesChanged++
		}
	}

	status, errText := deriveFinalStatus(sweepCtx, len(routes), counters, errText)
	return w.finish(persistCtx, log, item.SweepID, status, errText, counters)
}

func (w *Worker) sweepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.SweepTimeout > 0 {
		return context.WithTimeout(ctx, w.cfg.SweepTimeout)
	}
	return context.WithCancel(ctx)
}

func (w *Worker) loadProduct(ctx context.Context, productID string) (screens.Product, []screens.Route, error) {
	product, err := w.deps.Store.GetProduct(ctx, productID)
	if err != nil {
		return screens.Product{}, nil, fmt.Errorf("load product: %w", err)
	}
	routes, err := w.deps.Store.ListRoutes(ctx, productID)
	if err != nil {
		return screens.Product{}, nil, fmt.Errorf("list routes: %w", err)
	}
	return product, routes, nil
}

func (w *Worker) finish(
	ctx context.Context,
	log *zap.Logger,
	sweepID string,
	status screens.SweepStatus,
	errText string,
	counters screens.SweepCounters,
) (screens.Sweep, error) {
	if err := w.deps.Store.UpdateSweepStatus(ctx, sweepID, status, errText, counters); err != nil {
		return screens.Sweep{}, fmt.Errorf("final sweep status update: %w", err)
	}
	metrics.ObserveSweep(string(status))
	log.Info("sweep finished",
		zap.String("status", string(status)),
		zap.Int("captured", counters.RoutesCaptured),
		zap.Int("changed", counters.RoutesChanged),
		zap.Int("failed", counters.RoutesFailed),
	)
	sweep, err := w.deps.Store.GetSweep(ctx, sweepID)
	if err != nil {
		return screens.Sweep{}, fmt.Errorf("reload sweep: %w", err)
	}
	return sweep, nil
}

// handleRoute captures one route and reports whether it changed.
func (w *Worker) handleRoute(ctx context.Context, sweepID string, product screens.Product, route screens.Route) (bool, error) {
	target, err := JoinURL(product.BaseURL, route.Path)
	if err != nil {
		return false, err
	}
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, target); err != nil {
			return false, fmt.Errorf("wait for %s: %w", target, err)
		}
	}

	shot, err := w.deps.Screenshotter.Screenshot(ctx, screens.ScreenshotRequest{
		SweepID: sweepID,
		RouteID: route.ID,
		URL:     target,
	})
	if err != nil {
		return false, fmt.Errorf("screenshot %s: %w", target, err)
	}

	previousURL, err := w.previousScreenshot(ctx, route.ID)
	if err != nil {
		return false, err
	}

	result, err := w.deps.Differ.Evaluate(ctx, shot.Image, previousURL)
	if err != nil {
		w.logger.Warn("diff degraded to first capture",
			zap.String("sweep_id", sweepID),
			zap.String("route_id", route.ID),
			zap.Error(err),
		)
	}

	capture, err := w.persist(ctx, sweepID, product.ID, route.ID, shot, result)
	if err != nil {
		return false, err
	}
	metrics.ObserveCapture(target, string(result.Outcome), len(shot.Image), result.DiffPercentage)

	if capture.HasChanges {
		if err := w.publishChange(ctx, product, route, capture); err != nil {
			// The capture is already stored; a lost notification does not fail the route.
			w.logger.Error("publish change failed",
				zap.String("sweep_id", sweepID),
				zap.String("route_id", route.ID),
				zap.Error(err),
			)
		}
	}
	return capture.HasChanges, nil
}

func (w *Worker) previousScreenshot(ctx context.Context, routeID string) (string, error) {
	prev, err := w.deps.Store.LatestCapture(ctx, routeID)
	if errors.Is(err, screens.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest capture: %w", err)
	}
	return prev.ScreenshotURL, nil
}

func (w *Worker) persist(
	ctx context.Context,
	sweepID, productID, routeID string,
	shot screens.ScreenshotResponse,
	result diff.Result,
) (screens.Capture, error) {
	hash, err := w.deps.Hasher.Hash(shot.Image)
	if err != nil {
		return screens.Capture{}, fmt.Errorf("hash screenshot: %w", err)
	}
	contentType := shot.ContentType
	if contentType == "" {
		contentType = w.cfg.ContentType
	}
	uri, err := w.deps.BlobStore.PutObject(ctx, w.BuildBlobPath(productID, routeID, hash), contentType, shot.Image)
	if err != nil {
		return screens.Capture{}, fmt.Errorf("put object: %w", err)
	}
	id, err := w.deps.IDs.NewID()
	if err != nil {
		return screens.Capture{}, fmt.Errorf("capture id: %w", err)
	}

	capture := screens.Capture{
		ID:             id,
		RouteID:        routeID,
		SweepID:        sweepID,
		ScreenshotURL:  uri,
		ContentHash:    hash,
		CapturedAt:     w.deps.Clock.Now(),
		HasChanges:     result.HasChanges,
		ChangeSummary:  result.ChangeSummary,
		DiffPercentage: result.DiffPercentage,
	}
	if err := w.deps.Store.InsertCapture(ctx, capture); err != nil {
		return screens.Capture{}, fmt.Errorf("insert capture: %w", err)
	}
	return capture, nil
}

func (w *Worker) publishChange(ctx context.Context, product screens.Product, route screens.Route, capture screens.Capture) error {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return nil
	}
	payload := map[string]any{
		"type":            EventCaptureChanged,
		"product_id":      product.ID,
		"route_id":        route.ID,
		"route_name":      route.Name,
		"flow_name":       route.Flow(),
		"sweep_id":        capture.SweepID,
		"capture_id":      capture.ID,
		"screenshot_url":  capture.ScreenshotURL,
		"diff_percentage": capture.DiffPercentage,
		"change_summary":  capture.ChangeSummary,
		"captured_at":     capture.CapturedAt.Format(time.RFC3339),
	}
	msgID, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("change published",
		zap.String("route_id", route.ID),
		zap.String("capture_id", capture.ID),
		zap.String("message_id", msgID),
		zap.Float64("diff_percentage", capture.DiffPercentage),
	)
	return nil
}

// BuildBlobPath names a screenshot object <prefix>/<product>/<route>/<hash>.png.
func (w *Worker) BuildBlobPath(productID, routeID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.png", productID, routeID, hash)
	}
	return fmt.Sprintf("%s/%s/%s/%s.png", prefix, productID, routeID, hash)
}

// JoinURL resolves a route path against the product's base URL.
func JoinURL(baseURL, path string) (string, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid base url %q", baseURL)
	}
	if path == "" {
		return base.String(), nil
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid route path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	base.RawQuery = ref.RawQuery
	base.Fragment = ref.Fragment
	return base.String(), nil
}

func deriveFinalStatus(
	ctx context.Context,
	routeCount int,
	counters screens.SweepCounters,
	errText string,
) (screens.SweepStatus, string) {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return screens.SweepStatusCanceled, "sweep canceled"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return screens.SweepStatusFailed, "sweep timed out"
	case routeCount == 0:
		return screens.SweepStatusFailed, "product has no routes"
	case counters.RoutesCaptured == 0:
		return screens.SweepStatusFailed, errText
	default:
		return screens.SweepStatusSucceeded, errText
	}
}
