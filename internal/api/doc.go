// Package api hosts the ops HTTP server that runs next to a crawl:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for a JSON snapshot of the current run's counters.
package api
