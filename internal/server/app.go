// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenwatch/internal/api"
	"github.com/JakeFAU/screenwatch/internal/clock/system"
	"github.com/JakeFAU/screenwatch/internal/config"
	"github.com/JakeFAU/screenwatch/internal/diff"
	"github.com/JakeFAU/screenwatch/internal/dispatcher"
	"github.com/JakeFAU/screenwatch/internal/fetcher/resolve"
	"github.com/JakeFAU/screenwatch/internal/flows"
	"github.com/JakeFAU/screenwatch/internal/hash/sha256"
	"github.com/JakeFAU/screenwatch/internal/id/uuid"
	"github.com/JakeFAU/screenwatch/internal/logging"
	"github.com/JakeFAU/screenwatch/internal/metrics"
	"github.com/JakeFAU/screenwatch/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/screenwatch/internal/queue/memory"
	"github.com/JakeFAU/screenwatch/internal/screens"
	"github.com/JakeFAU/screenwatch/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	repo          screens.Repository
	ready         func(context.Context) error
	blobStore     screens.BlobStore
	resolver      *resolve.Resolver
	screenshotter screens.Screenshotter
	publisher     screens.Publisher
	ids           screens.IDGenerator
	clock         screens.Clock

	queue     *queueMemory.Queue
	registry  *worker.Registry
	workers   []*worker.Worker
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server

	storageClient *storage.Client
	pubsubClient  *pubsub.Client
	closers       []func()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()
	app := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(),
	}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("database_driver", cfg.Database.Driver),
	)

	steps := []func(context.Context) error{
		app.setupRepository,
		app.setupStorage,
		app.setupPublisher,
		app.setupScreenshotter,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.Close(context.WithoutCancel(ctx))
			return nil, err
		}
	}
	app.setupWorkers()

	app.apiServer = api.NewServer(api.Deps{
		Repo:     app.repo,
		Queue:    app.dispatch,
		IDs:      app.ids,
		Clock:    app.clock,
		Canceler: app.registry,
		Ready:    app.ready,
	}, *cfg, logging.Named(logger, "api"))

	return app, nil
}

// Handler exposes the HTTP router, primarily for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Repository returns the configured repository.
func (a *App) Repository() screens.Repository {
	return a.repo
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.Close(shutdownCtx)
	return nil
}

// RunSweep creates a sweep for productID and executes it synchronously on the calling goroutine.
func (a *App) RunSweep(ctx context.Context, productID string) (screens.Sweep, error) {
	if _, err := a.repo.GetProduct(ctx, productID); err != nil {
		return screens.Sweep{}, fmt.Errorf("load product %s: %w", productID, err)
	}
	sweepID, err := a.ids.NewID()
	if err != nil {
		return screens.Sweep{}, fmt.Errorf("generate sweep id: %w", err)
	}
	now := a.clock.Now()
	sweep := screens.Sweep{
		ID:        sweepID,
		ProductID: productID,
		Status:    screens.SweepStatusQueued,
		Submitted: now,
	}
	if err := a.repo.CreateSweep(ctx, sweep); err != nil {
		return screens.Sweep{}, fmt.Errorf("create sweep: %w", err)
	}
	return a.workers[0].RunSweep(ctx, screens.QueueItem{
		SweepID:   sweepID,
		ProductID: productID,
		Attempt:   1,
		Submitted: now.Unix(),
	})
}

// Flows builds the navigation overview of a product.
func (a *App) Flows(ctx context.Context, productID string) (flows.Overview, error) {
	if _, err := a.repo.GetProduct(ctx, productID); err != nil {
		return flows.Overview{}, fmt.Errorf("load product %s: %w", productID, err)
	}
	routes, err := a.repo.ListRoutes(ctx, productID)
	if err != nil {
		return flows.Overview{}, fmt.Errorf("list routes: %w", err)
	}
	conns, err := a.repo.ListConnections(ctx, productID)
	if err != nil {
		return flows.Overview{}, fmt.Errorf("list connections: %w", err)
	}
	return flows.Describe(routes, conns), nil
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) setupWorkers() {
	cfg := a.cfg
	hasher := sha256.New()
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Sweep.HostRPS,
		DefaultBurst: cfg.Sweep.HostBurst,
	})
	differ := diff.New(a.resolver, diff.Options{
		Threshold:     cfg.Diff.Threshold,
		ChangePercent: cfg.Diff.ChangePercent,
	})

	workerCfg := worker.Config{
		ContentType:  cfg.Storage.ContentType,
		BlobPrefix:   cfg.Storage.Prefix,
		Topic:        cfg.PubSub.TopicName,
		SweepTimeout: cfg.SweepBudget(),
	}
	a.logger.Info("worker config",
		zap.String("content_type", workerCfg.ContentType),
		zap.String("blob_prefix", workerCfg.BlobPrefix),
		zap.String("topic", workerCfg.Topic),
		zap.Duration("sweep_timeout", workerCfg.SweepTimeout),
		zap.Float64("host_rps", cfg.Sweep.HostRPS),
	)

	a.queue = queueMemory.NewQueue(cfg.Sweep.QueueDepth)
	a.registry = worker.NewRegistry()
	runners := make([]dispatcher.Runner, 0, cfg.Sweep.Concurrency)
	for i := 0; i < cfg.Sweep.Concurrency; i++ {
		w := worker.New(worker.Deps{
			Queue:         a.queue,
			Store:         a.repo,
			BlobStore:     a.blobStore,
			Publisher:     a.publisher,
			Differ:        differ,
			Screenshotter: a.screenshotter,
			Limiter:       limiter,
			Hasher:        hasher,
			Clock:         a.clock,
			IDs:           a.ids,
			Registry:      a.registry,
		}, workerCfg, logging.Named(a.logger, "worker").With(zap.Int("worker", i)))
		a.workers = append(a.workers, w)
		runners = append(runners, w)
	}
	a.dispatch = dispatcher.New(a.queue, runners)
}
