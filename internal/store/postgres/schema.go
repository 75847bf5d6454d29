package postgres

import (
	"context"
	"fmt"
)

// Schema creates every table the repository reads and writes. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	staging_url TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS routes (
	id             TEXT PRIMARY KEY,
	product_id     TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	path           TEXT NOT NULL,
	flow_name      TEXT,
	parent_flow_id TEXT,
	flow_level     INTEGER,
	flow_order     INTEGER,
	seq            BIGSERIAL
);
CREATE INDEX IF NOT EXISTS routes_product_seq_idx ON routes (product_id, seq);

CREATE TABLE IF NOT EXISTS captures (
	id              TEXT PRIMARY KEY,
	route_id        TEXT NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
	sweep_id        TEXT,
	screenshot_url  TEXT NOT NULL,
	content_hash    TEXT NOT NULL DEFAULT '',
	captured_at     TIMESTAMPTZ NOT NULL,
	has_changes     BOOLEAN NOT NULL DEFAULT FALSE,
	change_summary  TEXT,
	diff_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	seq             BIGSERIAL
);
CREATE INDEX IF NOT EXISTS captures_route_time_idx ON captures (route_id, captured_at DESC, seq DESC);

CREATE TABLE IF NOT EXISTS connections (
	product_id           TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	source_route_id      TEXT NOT NULL,
	destination_route_id TEXT NOT NULL,
	seq                  BIGSERIAL,
	PRIMARY KEY (product_id, source_route_id, destination_route_id)
);

CREATE TABLE IF NOT EXISTS sweeps (
	id              TEXT PRIMARY KEY,
	product_id      TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	status          TEXT NOT NULL,
	submitted_at    TIMESTAMPTZ NOT NULL,
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ,
	error_text      TEXT NOT NULL DEFAULT '',
	routes_captured INTEGER NOT NULL DEFAULT 0,
	routes_changed  INTEGER NOT NULL DEFAULT 0,
	routes_failed   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS sweeps_product_submitted_idx ON sweeps (product_id, submitted_at DESC);
`

// Migrate applies Schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
