// Package postgres provides the Postgres-backed screens.Repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the repository uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Repository implements screens.Repository against Postgres.
type Repository struct {
	pool Pool
}

// New connects to Postgres using the provided config.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// NewWithPool constructs a repository from an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Repository{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() error {
	if r == nil || r.pool == nil {
		return nil
	}
	r.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateProduct inserts a product row.
func (r *Repository) CreateProduct(ctx context.Context, product screens.Product) error {
	createdAt := product.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO products (id, name, staging_url, created_at) VALUES ($1, $2, $3, $4)`,
		product.ID, product.Name, product.BaseURL, createdAt,
	)
	return mapError(err, "insert product")
}

// GetProduct fetches a product by ID.
func (r *Repository) GetProduct(ctx context.Context, productID string) (screens.Product, error) {
	var p screens.Product
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, staging_url, created_at FROM products WHERE id = $1`, productID,
	).Scan(&p.ID, &p.Name, &p.BaseURL, &p.CreatedAt)
	if err != nil {
		return screens.Product{}, mapError(err, "select product")
	}
	return p, nil
}

// ListProducts returns products in creation order.
func (r *Repository) ListProducts(ctx context.Context) ([]screens.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, staging_url, created_at FROM products ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError(err, "list products")
	}
	defer rows.Close()
	out := []screens.Product{}
	for rows.Next() {
		var p screens.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const routeColumns = `id, product_id, name, path, flow_name, parent_flow_id, flow_level, flow_order`

// CreateRoute inserts a route under an existing product.
func (r *Repository) CreateRoute(ctx context.Context, route screens.Route) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO routes (`+routeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		route.ID, route.ProductID, route.Name, route.Path,
		nullString(route.FlowName), route.ParentFlowID, route.FlowLevel, route.FlowOrder,
	)
	return mapError(err, "insert route")
}

// GetRoute fetches a route by ID.
func (r *Repository) GetRoute(ctx context.Context, routeID string) (screens.Route, error) {
	route, err := scanRoute(r.pool.QueryRow(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1`, routeID))
	if err != nil {
		return screens.Route{}, mapError(err, "select route")
	}
	return route, nil
}

// ListRoutes returns a product's routes in creation order.
func (r *Repository) ListRoutes(ctx context.Context, productID string) ([]screens.Route, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+routeColumns+` FROM routes WHERE product_id = $1 ORDER BY seq`, productID)
	if err != nil {
		return nil, mapError(err, "list routes")
	}
	defer rows.Close()
	out := []screens.Route{}
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		out = append(out, route)
	}
	return out, rows.Err()
}

func scanRoute(row pgx.Row) (screens.Route, error) {
	var (
		route    screens.Route
		flowName *string
	)
	if err := row.Scan(
		&route.ID, &route.ProductID, &route.Name, &route.Path,
		&flowName, &route.ParentFlowID, &route.FlowLevel, &route.FlowOrder,
	); err != nil {
		return screens.Route{}, err
	}
	if flowName != nil {
		route.FlowName = *flowName
	}
	return route, nil
}

const captureColumns = `id, route_id, sweep_id, screenshot_url, content_hash, captured_at, has_changes, change_summary, diff_percentage`

// InsertCapture appends a capture to its route history.
func (r *Repository) InsertCapture(ctx context.Context, c screens.Capture) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO captures (`+captureColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.RouteID, nullString(c.SweepID), c.ScreenshotURL, c.ContentHash,
		c.CapturedAt, c.HasChanges, c.ChangeSummary, c.DiffPercentage,
	)
	return mapError(err, "insert capture")
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
func (r *Repository) ListCaptures(ctx context.Context, routeID string, limit int) ([]screens.Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM captures WHERE route_id = $1 ORDER BY captured_at DESC, seq DESC`
	args := []any{routeID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list captures")
	}
	defer rows.Close()
	out := []screens.Capture{}
	for rows.Next() {
		var (
			c       screens.Capture
			sweepID *string
		)
		if err := rows.Scan(
			&c.ID, &c.RouteID, &sweepID, &c.ScreenshotURL, &c.ContentHash,
			&c.CapturedAt, &c.HasChanges, &c.ChangeSummary, &c.DiffPercentage,
		); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		if sweepID != nil {
			c.SweepID = *sweepID
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Summarize aggregates a product's headline numbers.
func (r *Repository) Summarize(ctx context.Context, productID string) (screens.ProductSummary, error) {
	if _, err := r.GetProduct(ctx, productID); err != nil {
		return screens.ProductSummary{}, err
	}
	summary := screens.ProductSummary{ProductID: productID, FlowNames: []string{}}

	err := r.pool.QueryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM routes WHERE product_id = $1),
	COUNT(c.id) FILTER (WHERE c.has_changes),
	MAX(c.captured_at)
FROM captures c
JOIN routes r ON r.id = c.route_id
WHERE r.product_id = $1`, productID,
	).Scan(&summary.RouteCount, &summary.ChangedCaptures, &summary.LatestCapture)
	if err != nil {
		return screens.ProductSummary{}, mapError(err, "summarize captures")
	}

	rows, err := r.pool.Query(ctx, `
SELECT DISTINCT COALESCE(NULLIF(flow_name, ''), $2)
FROM routes
WHERE product_id = $1
ORDER BY 1`, productID, screens.UngroupedFlow)
	if err != nil {
		return screens.ProductSummary{}, mapError(err, "list flow names")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return screens.ProductSummary{}, fmt.Errorf("scan flow name: %w", err)
		}
		summary.FlowNames = append(summary.FlowNames, name)
	}
	return summary, rows.Err()
}

// AddConnection stores an edge once.
func (r *Repository) AddConnection(ctx context.Context, conn screens.Connection) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO connections (product_id, source_route_id, destination_route_id)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`, conn.ProductID, conn.SourceRouteID, conn.DestRouteID)
	return mapError(err, "insert connection")
}

// ListConnections returns a product's edges in insertion order.
func (r *Repository) ListConnections(ctx context.Context, productID string) ([]screens.Connection, error) {
	rows, err := r.pool.Query(ctx, `
SELECT product_id, source_route_id, destination_route_id
FROM connections
WHERE product_id = $1
ORDER BY seq`, productID)
	if err != nil {
		return nil, mapError(err, "list connections")
	}
	defer rows.Close()
	out := []screens.Connection{}
	for rows.Next() {
		var c screens.Connection
		if err := rows.Scan(&c.ProductID, &c.SourceRouteID, &c.DestRouteID); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const sweepColumns = `id, product_id, status, submitted_at, started_at, finished_at, error_text, routes_captured, routes_changed, routes_failed`

// CreateSweep inserts a new sweep row.
func (r *Repository) CreateSweep(ctx context.Context, sweep screens.Sweep) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO sweeps (id, product_id, status, submitted_at, error_text)
VALUES ($1, $2, $3, $4, $5)`,
		sweep.ID, sweep.ProductID, string(sweep.Status), sweep.Submitted, sweep.ErrorText,
	)
	return mapError(err, "insert sweep")
}

// UpdateSweepStatus updates the status and counters for a sweep.
func (r *Repository) UpdateSweepStatus(
	ctx context.Context,
	sweepID string,
	status screens.SweepStatus,
	errText string,
	counters screens.SweepCounters,
) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE sweeps SET
	status = $2,
	error_text = $3,
	routes_captured = $4,
	routes_changed = $5,
	routes_failed = $6,
	started_at = CASE WHEN started_at IS NULL AND $7 THEN now() ELSE started_at END,
	finished_at = CASE WHEN finished_at IS NULL AND $8 THEN now() ELSE finished_at END
WHERE id = $1`,
		sweepID, string(status), errText,
		counters.RoutesCaptured, counters.RoutesChanged, counters.RoutesFailed,
		status == screens.SweepStatusRunning, status.IsTerminal(),
	)
	if err != nil {
		return mapError(err, "update sweep")
	}
	if tag.RowsAffected() == 0 {
		return screens.ErrNotFound
	}
	return nil
}

// GetSweep fetches a sweep by ID.
func (r *Repository) GetSweep(ctx context.Context, sweepID string) (screens.Sweep, error) {
	sweep, err := scanSweep(r.pool.QueryRow(ctx, `SELECT `+sweepColumns+` FROM sweeps WHERE id = $1`, sweepID))
	if err != nil {
		return screens.Sweep{}, mapError(err, "select sweep")
	}
	return sweep, nil
}

// LatestSweep returns the most recently submitted sweep of a product.
func (r *Repository) LatestSweep(ctx context.Context, productID string) (screens.Sweep, error) {
	sweep, err := scanSweep(r.pool.QueryRow(ctx, `
SELECT `+sweepColumns+`
FROM sweeps
WHERE product_id = $1
ORDER BY submitted_at DESC, id DESC
LIMIT 1`, productID))
	if err != nil {
		return screens.Sweep{}, mapError(err, "select latest sweep")
	}
	return sweep, nil
}

func scanSweep(row pgx.Row) (screens.Sweep, error) {
	var (
		s      screens.Sweep
		status string
	)
	if err := row.Scan(
		&s.ID, &s.ProductID, &status, &s.Submitted, &s.Started, &s.Finished, &s.ErrorText,
		&s.Counters.RoutesCaptured, &s.Counters.RoutesChanged, &s.Counters.RoutesFailed,
	); err != nil {
		return screens.Sweep{}, err
	}
	s.Status = screens.SweepStatus(status)
	return s, nil
}

// mapError translates driver errors into screens sentinels.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return screens.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", op, screens.ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", op, screens.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
