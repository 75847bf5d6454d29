// Package resolve routes screenshot URIs to the backend that can read them,
// guarding remote backends with circuit breakers.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenwatch/internal/metrics"
	"github.com/JakeFAU/screenwatch/internal/screens"
)

// ErrUnsupportedScheme is returned when no backend is registered for a URI scheme.
var ErrUnsupportedScheme = errors.New("unsupported screenshot uri scheme")

// BreakerConfig tunes the per-scheme circuit breakers.
type BreakerConfig struct {
	// MaxFailures consecutive failures open the breaker. Zero disables breaking.
	MaxFailures uint32
	// OpenTimeout is how long an open breaker rejects calls before probing again.
	OpenTimeout time.Duration
}

// Resolver implements screens.BlobFetcher by dispatching on URI scheme.
type Resolver struct {
	mu       sync.RWMutex
	fetchers map[string]screens.BlobFetcher
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      BreakerConfig
	logger   *zap.Logger
}

// New creates an empty Resolver.
func New(cfg BreakerConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &Resolver{
		fetchers: make(map[string]screens.BlobFetcher),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		cfg:      cfg,
		logger:   logger,
	}
}

// Register binds fetcher to scheme. Remote backends get a circuit breaker.
func (r *Resolver) Register(scheme string, fetcher screens.BlobFetcher, remote bool) {
	scheme = strings.ToLower(scheme)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[scheme] = fetcher
	delete(r.breakers, scheme)
	if remote && r.cfg.MaxFailures > 0 {
		r.breakers[scheme] = r.newBreaker(scheme)
	}
}

// Fetch resolves uri to bytes through the backend registered for its scheme.
func (r *Resolver) Fetch(ctx context.Context, uri string) ([]byte, error) {
	scheme, err := schemeOf(uri)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	fetcher, ok := r.fetchers[scheme]
	breaker := r.breakers[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	if breaker == nil {
		return fetcher.Fetch(ctx, uri)
	}

	out, err := breaker.Execute(func() (interface{}, error) {
		return fetcher.Fetch(ctx, uri)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", scheme, err)
	}
	data, _ := out.([]byte)
	return data, nil
}

// State reports the breaker state for scheme, or "none" when unguarded.
func (r *Resolver) State(scheme string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.breakers[strings.ToLower(scheme)]; ok {
		return b.State().String()
	}
	return "none"
}

func (r *Resolver) newBreaker(scheme string) *gobreaker.CircuitBreaker {
	maxFailures := r.cfg.MaxFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "blob-fetch-" + scheme,
		MaxRequests: 1,
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.ObserveBreakerState(name, to.String())
		},
		// Missing objects and caller cancellations say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, screens.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})
}

func schemeOf(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse screenshot uri: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: missing scheme in %q", ErrUnsupportedScheme, uri)
	}
	return strings.ToLower(u.Scheme), nil
}
