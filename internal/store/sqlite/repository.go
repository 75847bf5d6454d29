// Package sqlite provides a single-file screens.Repository backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	staging_url TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS routes (
	id             TEXT PRIMARY KEY,
	product_id     TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	path           TEXT NOT NULL,
	flow_name      TEXT,
	parent_flow_id TEXT,
	flow_level     INTEGER,
	flow_order     INTEGER
);
CREATE INDEX IF NOT EXISTS routes_product_idx ON routes (product_id);
CREATE TABLE IF NOT EXISTS captures (
	id              TEXT PRIMARY KEY,
	route_id        TEXT NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
	sweep_id        TEXT,
	screenshot_url  TEXT NOT NULL,
	content_hash    TEXT NOT NULL DEFAULT '',
	captured_at     INTEGER NOT NULL,
	has_changes     INTEGER NOT NULL DEFAULT 0,
	change_summary  TEXT,
	diff_percentage REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS captures_route_time_idx ON captures (route_id, captured_at);
CREATE TABLE IF NOT EXISTS connections (
	product_id           TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	source_route_id      TEXT NOT NULL,
	destination_route_id TEXT NOT NULL,
	PRIMARY KEY (product_id, source_route_id, destination_route_id)
);
CREATE TABLE IF NOT EXISTS sweeps (
	id              TEXT PRIMARY KEY,
	product_id      TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	status          TEXT NOT NULL,
	submitted_at    INTEGER NOT NULL,
	started_at      INTEGER,
	finished_at     INTEGER,
	error_text      TEXT NOT NULL DEFAULT '',
	routes_captured INTEGER NOT NULL DEFAULT 0,
	routes_changed  INTEGER NOT NULL DEFAULT 0,
	routes_failed   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS sweeps_product_idx ON sweeps (product_id, submitted_at);
`

// Repository implements screens.Repository on a SQLite file.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Repository, error) {
	if path == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One connection keeps pragmas and :memory: databases consistent.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database handle.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateProduct inserts a product row.
func (r *Repository) CreateProduct(ctx context.Context, p screens.Product) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, name, staging_url, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.BaseURL, toMicros(createdAt))
	return mapError(err, "insert product")
}

// GetProduct fetches a product by ID.
func (r *Repository) GetProduct(ctx context.Context, productID string) (screens.Product, error) {
	var (
		p       screens.Product
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, staging_url, created_at FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.Name, &p.BaseURL, &created)
	if err != nil {
		return screens.Product{}, mapError(err, "select product")
	}
	p.CreatedAt = fromMicros(created)
	return p, nil
}

// ListProducts returns products in creation order.
func (r *Repository) ListProducts(ctx context.Context) ([]screens.Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, staging_url, created_at FROM products ORDER BY rowid`)
	if err != nil {
		return nil, mapError(err, "list products")
	}
	defer rows.Close()
	out := []screens.Product{}
	for rows.Next() {
		var (
			p       screens.Product
			created int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseURL, &created); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.CreatedAt = fromMicros(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

const routeColumns = `id, product_id, name, path, flow_name, parent_flow_id, flow_level, flow_order`

// CreateRoute inserts a route under an existing product.
func (r *Repository) CreateRoute(ctx context.Context, route screens.Route) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO routes (`+routeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		route.ID, route.ProductID, route.Name, route.Path,
		nullString(route.FlowName), route.ParentFlowID, route.FlowLevel, route.FlowOrder,
	)
	return mapError(err, "insert route")
}

// GetRoute fetches a route by ID.
func (r *Repository) GetRoute(ctx context.Context, routeID string) (screens.Route, error) {
	route, err := scanRoute(r.db.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = ?`, routeID))
	if err != nil {
		return screens.Route{}, mapError(err, "select route")
	}
	return route, nil
}

// ListRoutes returns a product's routes in creation order.
func (r *Repository) ListRoutes(ctx context.Context, productID string) ([]screens.Route, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+routeColumns+` FROM routes WHERE product_id = ? ORDER BY rowid`, productID)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanRoute(row scanner) (screens.Route, error) {
	var (
		route        screens.Route
		flowName     sql.NullString
		parentFlowID sql.NullString
		level, ord   sql.NullInt64
	)
	if err := row.Scan(
		&route.ID, &route.ProductID, &route.Name, &route.Path,
		&flowName, &parentFlowID, &level, &ord,
	); err != nil {
		return screens.Route{}, err
	}
	route.FlowName = flowName.String
	if parentFlowID.Valid {
		route.ParentFlowID = &parentFlowID.String
	}
	route.FlowLevel = intPtr(level)
	route.FlowOrder = intPtr(ord)
	return route, nil
}

const captureColumns = `id, route_id, sweep_id, screenshot_url, content_hash, captured_at, has_changes, change_summary, diff_percentage`

// InsertCapture appends a capture to its route history.
func (r *Repository) InsertCapture(ctx context.Context, c screens.Capture) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO captures (`+captureColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RouteID, nullString(c.SweepID), c.ScreenshotURL, c.ContentHash,
		toMicros(c.CapturedAt), c.HasChanges, c.ChangeSummary, c.DiffPercentage,
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
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+captureColumns+` FROM captures WHERE route_id = ? ORDER BY captured_at DESC, rowid DESC LIMIT ?`,
		routeID, limit)
	if err != nil {
		return nil, mapError(err, "list captures")
	}
	defer rows.Close()
	out := []screens.Capture{}
	for rows.Next() {
		var (
			c        screens.Capture
			sweepID  sql.NullString
			summary  sql.NullString
			captured int64
		)
		if err := rows.Scan(
			&c.ID, &c.RouteID, &sweepID, &c.ScreenshotURL, &c.ContentHash,
			&captured, &c.HasChanges, &summary, &c.DiffPercentage,
		); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		c.SweepID = sweepID.String
		c.CapturedAt = fromMicros(captured)
		if summary.Valid {
			c.ChangeSummary = &summary.String
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

	var latest sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
SELECT
	(SELECT COUNT(*) FROM routes WHERE product_id = ?1),
	COALESCE(SUM(CASE WHEN c.has_changes THEN 1 ELSE 0 END), 0),
	MAX(c.captured_at)
FROM captures c
JOIN routes r ON r.id = c.route_id
WHERE r.product_id = ?1`, productID,
	).Scan(&summary.RouteCount, &summary.ChangedCaptures, &latest)
	if err != nil {
		return screens.ProductSummary{}, mapError(err, "summarize captures")
	}
	if latest.Valid {
		t := fromMicros(latest.Int64)
		summary.LatestCapture = &t
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT COALESCE(NULLIF(flow_name, ''), ?2)
FROM routes
WHERE product_id = ?1
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
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO connections (product_id, source_route_id, destination_route_id) VALUES (?, ?, ?)`,
		conn.ProductID, conn.SourceRouteID, conn.DestRouteID)
	return mapError(err, "insert connection")
}

// ListConnections returns a product's edges in insertion order.
func (r *Repository) ListConnections(ctx context.Context, productID string) ([]screens.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, source_route_id, destination_route_id FROM connections WHERE product_id = ? ORDER BY rowid`,
		productID)
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
func (r *Repository) CreateSweep(ctx context.Context, s screens.Sweep) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sweeps (id, product_id, status, submitted_at, error_text) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.ProductID, string(s.Status), toMicros(s.Submitted), s.ErrorText)
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
	now := toMicros(r.now())
	res, err := r.db.ExecContext(ctx, `
UPDATE sweeps SET
	status = ?,
	error_text = ?,
	routes_captured = ?,
	routes_changed = ?,
	routes_failed = ?,
	started_at = CASE WHEN started_at IS NULL AND ? THEN ? ELSE started_at END,
	finished_at = CASE WHEN finished_at IS NULL AND ? THEN ? ELSE finished_at END
WHERE id = ?`,
		string(status), errText,
		counters.RoutesCaptured, counters.RoutesChanged, counters.RoutesFailed,
		status == screens.SweepStatusRunning, now,
		status.IsTerminal(), now,
		sweepID,
	)
	if err != nil {
		return mapError(err, "update sweep")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sweep rows: %w", err)
	}
	if n == 0 {
		return screens.ErrNotFound
	}
	return nil
}

// GetSweep fetches a sweep by ID.
func (r *Repository) GetSweep(ctx context.Context, sweepID string) (screens.Sweep, error) {
	s, err := scanSweep(r.db.QueryRowContext(ctx, `SELECT `+sweepColumns+` FROM sweeps WHERE id = ?`, sweepID))
	if err != nil {
		return screens.Sweep{}, mapError(err, "select sweep")
	}
	return s, nil
}

// LatestSweep returns the most recently submitted sweep of a product.
func (r *Repository) LatestSweep(ctx context.Context, productID string) (screens.Sweep, error) {
	s, err := scanSweep(r.db.QueryRowContext(ctx,
		`SELECT `+sweepColumns+` FROM sweeps WHERE product_id = ? ORDER BY submitted_at DESC, id DESC LIMIT 1`,
		productID))
	if err != nil {
		return screens.Sweep{}, mapError(err, "select latest sweep")
	}
	return s, nil
}

func scanSweep(row scanner) (screens.Sweep, error) {
	var (
		s                 screens.Sweep
		status            string
		submitted         int64
		started, finished sql.NullInt64
	)
	if err := row.Scan(
		&s.ID, &s.ProductID, &status, &submitted, &started, &finished, &s.ErrorText,
		&s.Counters.RoutesCaptured, &s.Counters.RoutesChanged, &s.Counters.RoutesFailed,
	); err != nil {
		return screens.Sweep{}, err
	}
	s.Status = screens.SweepStatus(status)
	s.Submitted = fromMicros(submitted)
	if started.Valid {
		t := fromMicros(started.Int64)
		s.Started = &t
	}
	if finished.Valid {
		t := fromMicros(finished.Int64)
		s.Finished = &t
	}
	return s, nil
}

func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return screens.ErrNotFound
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%s: %w", op, screens.ErrConflict)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s: %w", op, screens.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
