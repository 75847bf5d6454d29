// Package main is the screenwatch executable.
//
// Architecture overview:
//   - HTTP API: internal/api exposes products, routes, connections, flow views, captures and sweeps under /v1,
//     plus /healthz, /readyz and /metrics.
//   - Dispatcher & queue: sweeps flow through a bounded in-memory queue sized by sweep.queue_depth and are fanned
//     out to a fixed worker pool sized by sweep.concurrency.
//   - Capture pipeline: each route is screenshotted by chromedp, hashed, stored in the configured blob backend
//     (memory/local/GCS/Supabase) and diffed against the previous capture fetched back through the resolver.
//   - Persistence & fanout: products, routes, captures and sweeps live in memory, SQLite or Postgres. Changed
//     captures are announced on Pub/Sub when a topic is configured.
//
// Run locally: go run ./cmd/screenwatch serve --config config.yaml (or rely solely on SCREENWATCH_* env vars).
package main

import "github.com/JakeFAU/screenwatch/cmd"

func main() {
	cmd.Execute()
}
