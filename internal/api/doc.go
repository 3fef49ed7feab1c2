// Package api hosts the HTTP server, middleware, and REST handlers for
// submitting image batches. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/batches runs a batch synchronously and returns its report.
//   - GET /v1/batches, /v1/batches/{batch_id} and /v1/batches/{batch_id}/failures
//     read back recent reports.
package api
