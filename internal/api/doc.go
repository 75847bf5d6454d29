// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/products/... for products, routes, connections, flows and summaries.
//   - /v1/sweeps/... for sweep status and cancellation.
package api
