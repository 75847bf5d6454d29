package server

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/screenwatch/internal/fetcher/colly"
	"github.com/JakeFAU/screenwatch/internal/fetcher/headless"
	"github.com/JakeFAU/screenwatch/internal/fetcher/resolve"
	"github.com/JakeFAU/screenwatch/internal/logging"
	memorypublisher "github.com/JakeFAU/screenwatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/screenwatch/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/screenwatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/screenwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/screenwatch/internal/storage/memory"
	supabasestorage "github.com/JakeFAU/screenwatch/internal/storage/supabase"
	memorystore "github.com/JakeFAU/screenwatch/internal/store/memory"
	pgstore "github.com/JakeFAU/screenwatch/internal/store/postgres"
	sqlitestore "github.com/JakeFAU/screenwatch/internal/store/sqlite"
)

func (a *App) setupRepository(ctx context.Context) error {
	db := a.cfg.Database
	switch db.Driver {
	case "postgres":
		repo, err := pgstore.New(ctx, pgstore.Config{
			DSN:             db.DSN,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres repository init failed: %w", err)
		}
		a.onClose(func() { _ = repo.Close() })
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.repo, a.ready = repo, repo.Ping
		a.logger.Info("using postgres repository", zap.Int32("max_conns", db.MaxConns))
	case "sqlite":
		repo, err := sqlitestore.Open(db.DSN)
		if err != nil {
			return fmt.Errorf("sqlite repository init failed: %w", err)
		}
		a.onClose(func() { _ = repo.Close() })
		a.repo, a.ready = repo, repo.Ping
		a.logger.Info("using sqlite repository", zap.String("path", db.DSN))
	default:
		a.logger.Warn("using in-memory repository; data is lost on restart")
		a.repo = memorystore.New()
	}
	return nil
}

// setupStorage selects the blob backend and registers a fetcher for every
// scheme a stored screenshot URI may carry.
func (a *App) setupStorage(ctx context.Context) error {
	cfg := a.cfg
	a.resolver = resolve.New(resolve.BreakerConfig{
		MaxFailures: cfg.Fetch.BreakerMaxFailures,
		OpenTimeout: time.Duration(cfg.Fetch.BreakerOpenSeconds) * time.Second,
	}, logging.Named(a.logger, "resolver"))

	web := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
	})
	a.resolver.Register("http", web, true)
	a.resolver.Register("https", web, true)

	switch cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobStore = store
		a.resolver.Register(gcsstorage.Scheme, store, true)
		a.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Storage.Bucket))
	case "supabase":
		store, err := supabasestorage.New(supabasestorage.Config{
			URL:    cfg.Storage.Supabase.URL,
			Key:    cfg.Storage.Supabase.Key,
			Bucket: cfg.Storage.Bucket,
			Public: cfg.Storage.Supabase.Public,
		})
		if err != nil {
			return fmt.Errorf("supabase blob store init failed: %w", err)
		}
		a.blobStore = store
		a.resolver.Register(supabasestorage.Scheme, store, true)
		a.logger.Info("using Supabase storage backend",
			zap.String("bucket", cfg.Storage.Bucket),
			zap.Bool("public", cfg.Storage.Supabase.Public),
		)
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobStore = store
		a.resolver.Register(localstorage.Scheme, store, false)
		a.logger.Info("using local storage backend", zap.String("path", cfg.Storage.Local.BaseDir))
	default:
		store := memorystorage.NewBlobStore()
		a.blobStore = store
		a.resolver.Register(memorystorage.Scheme, store, false)
		a.logger.Info("using in-memory storage backend")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	cfg := a.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.onClose(func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	})
	pub, err := gcppublisher.New(client, cfg.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.onClose(pub.Close)
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return nil
}

func (a *App) setupScreenshotter(_ context.Context) error {
	cfg := a.cfg
	if !cfg.Headless.Enabled {
		a.logger.Warn("headless screenshots disabled; every route capture will fail")
		a.screenshotter = headless.NewNoop()
		return nil
	}
	shooter, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Sweep.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
		Settle:            time.Duration(cfg.Headless.SettleMillis) * time.Millisecond,
		ViewportWidth:     cfg.Headless.ViewportWidth,
		ViewportHeight:    cfg.Headless.ViewportHeight,
	})
	if err != nil {
		return fmt.Errorf("headless screenshotter init failed: %w", err)
	}
	a.onClose(shooter.Close)
	a.screenshotter = shooter
	a.logger.Info("using chromedp screenshotter",
		zap.Int("max_parallel", cfg.Headless.MaxParallel),
		zap.Duration("nav_timeout", cfg.NavTimeout()),
	)
	return nil
}
