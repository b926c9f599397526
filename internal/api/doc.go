// Package api hosts the HTTP server that watch mode exposes for operators.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the persisted status record.
//   - GET /v1/response for the persisted request response.
//   - GET /v1/history for recent ledger rows of the stream.
package api
