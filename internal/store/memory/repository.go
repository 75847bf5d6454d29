// Package memory provides an in-memory Repository for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

// Repository implements screens.Repository on top of guarded maps.
type Repository struct {
	mu          sync.RWMutex
	products    map[string]screens.Product
	productIDs  []string
	routes      map[string]screens.Route
	routeOrder  map[string][]string
	captures    map[string][]screens.Capture
	connections map[string][]screens.Connection
	sweeps      map[string]screens.Sweep
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		products:    make(map[string]screens.Product),
		routes:      make(map[string]screens.Route),
		routeOrder:  make(map[string][]string),
		captures:    make(map[string][]screens.Capture),
		connections: make(map[string][]screens.Connection),
		sweeps:      make(map[string]screens.Sweep),
	}
}

// Close is a no-op.
func (r *Repository) Close() error { return nil }

// CreateProduct stores a product.
func (r *Repository) CreateProduct(_ context.Context, product screens.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.products[product.ID]; exists {
		return fmt.Errorf("product %s: %w", product.ID, screens.ErrConflict)
	}
	r.products[product.ID] = product
	r.productIDs = append(r.productIDs, product.ID)
	return nil
}

// GetProduct fetches a product by ID.
func (r *Repository) GetProduct(_ context.Context, productID string) (screens.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	product, ok := r.products[productID]
	if !ok {
		return screens.Product{}, screens.ErrNotFound
	}
	return product, nil
}

// ListProducts returns products in creation order.
func (r *Repository) ListProducts(_ context.Context) ([]screens.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]screens.Product, 0, len(r.productIDs))
	for _, id := range r.productIDs {
		out = append(out, r.products[id])
	}
	return out, nil
}

// CreateRoute stores a route under an existing product.
func (r *Repository) CreateRoute(_ context.Context, route screens.Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[route.ProductID]; !ok {
		return fmt.Errorf("product %s: %w", route.ProductID, screens.ErrNotFound)
	}
	if _, exists := r.routes[route.ID]; exists {
		return fmt.Errorf("route %s: %w", route.ID, screens.ErrConflict)
	}
	r.routes[route.ID] = route
	r.routeOrder[route.ProductID] = append(r.routeOrder[route.ProductID], route.ID)
	return nil
}

// GetRoute fetches a route by ID.
func (r *Repository) GetRoute(_ context.Context, routeID string) (screens.Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[routeID]
	if !ok {
		return screens.Route{}, screens.ErrNotFound
	}
	return route, nil
}

// ListRoutes returns a product's routes in creation order.
func (r *Repository) ListRoutes(_ context.Context, productID string) ([]screens.Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.routeOrder[productID]
	out := make([]screens.Route, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.routes[id])
	}
	return out, nil
}

// InsertCapture appends a capture to its route history.
func (r *Repository) InsertCapture(_ context.Context, capture screens.Capture) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[capture.RouteID]; !ok {
		return fmt.Errorf("route %s: %w", capture.RouteID, screens.ErrNotFound)
	}
	r.captures[capture.RouteID] = append(r.captures[capture.RouteID], capture)
	return nil
}

// LatestCapture returns the newest capture of a route.
func (r *Repository) LatestCapture(ctx context.Context, routeID string) (screens.Capture, error) {
	list, err := r.ListCaptures(ctx, routeID, 1)
	if err != nil {
		return screens.Capture{}, err
	}
	if len(list) == 0 {
		return screens.Capture{}, screens.ErrNotFound
	}
	return list[0], nil
}

// ListCaptures returns up to limit captures, newest first. A non-positive limit returns all.
func (r *Repository) ListCaptures(_ context.Context, routeID string, limit int) ([]screens.Capture, error) {
	r.mu.RLock()
	history := r.captures[routeID]
	out := make([]screens.Capture, len(history))
	copy(out, history)
	r.mu.RUnlock()

	// Reverse first so equal timestamps keep last-inserted-first under the stable sort.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CapturedAt.After(out[j].CapturedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Summarize aggregates a product's headline numbers.
func (r *Repository) Summarize(_ context.Context, productID string) (screens.ProductSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.products[productID]; !ok {
		return screens.ProductSummary{}, screens.ErrNotFound
	}
	summary := screens.ProductSummary{ProductID: productID, FlowNames: []string{}}
	flows := map[string]struct{}{}
	for _, routeID := range r.routeOrder[productID] {
		summary.RouteCount++
		flows[r.routes[routeID].Flow()] = struct{}{}
		for _, c := range r.captures[routeID] {
			if c.HasChanges {
				summary.ChangedCaptures++
			}
			if summary.LatestCapture == nil || c.CapturedAt.After(*summary.LatestCapture) {
				summary.LatestCapture = pointerTime(c.CapturedAt)
			}
		}
	}
	for name := range flows {
		summary.FlowNames = append(summary.FlowNames, name)
	}
	sort.Strings(summary.FlowNames)
	return summary, nil
}

// AddConnection stores an edge once.
func (r *Repository) AddConnection(_ context.Context, conn screens.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.connections[conn.ProductID] {
		if existing.SourceRouteID == conn.SourceRouteID && existing.DestRouteID == conn.DestRouteID {
			return nil
		}
	}
	r.connections[conn.ProductID] = append(r.connections[conn.ProductID], conn)
	return nil
}

// ListConnections returns a product's edges in insertion order.
func (r *Repository) ListConnections(_ context.Context, productID string) ([]screens.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]screens.Connection, len(r.connections[productID]))
	copy(out, r.connections[productID])
	return out, nil
}

// CreateSweep stores a new sweep.
func (r *Repository) CreateSweep(_ context.Context, sweep screens.Sweep) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sweeps[sweep.ID]; exists {
		return fmt.Errorf("sweep %s: %w", sweep.ID, screens.ErrConflict)
	}
	r.sweeps[sweep.ID] = sweep
	return nil
}

// UpdateSweepStatus updates the status and counters for a sweep.
func (r *Repository) UpdateSweepStatus(
	_ context.Context,
	sweepID string,
	status screens.SweepStatus,
	errText string,
	counters screens.SweepCounters,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sweep, ok := r.sweeps[sweepID]
	if !ok {
		return screens.ErrNotFound
	}
	sweep.Status = status
	sweep.ErrorText = errText
	sweep.Counters = counters
	now := time.Now().UTC()
	if status == screens.SweepStatusRunning && sweep.Started == nil {
		sweep.Started = pointerTime(now)
	}
	if status.IsTerminal() && sweep.Finished == nil {
		sweep.Finished = pointerTime(now)
	}
	r.sweeps[sweepID] = sweep
	return nil
}

// GetSweep fetches a sweep by ID.
func (r *Repository) GetSweep(_ context.Context, sweepID string) (screens.Sweep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sweep, ok := r.sweeps[sweepID]
	if !ok {
		return screens.Sweep{}, screens.ErrNotFound
	}
	return sweep, nil
}

// LatestSweep returns the most recently submitted sweep of a product.
func (r *Repository) LatestSweep(_ context.Context, productID string) (screens.Sweep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		latest screens.Sweep
		found  bool
	)
	for _, sweep := range r.sweeps {
		if sweep.ProductID != productID {
			continue
		}
		if !found || sweep.Submitted.After(latest.Submitted) ||
			(sweep.Submitted.Equal(latest.Submitted) && sweep.ID > latest.ID) {
			latest = sweep
			found = true
		}
	}
	if !found {
		return screens.Sweep{}, screens.ErrNotFound
	}
	return latest, nil
}

func pointerTime(t time.Time) *time.Time {
	return &t
}
