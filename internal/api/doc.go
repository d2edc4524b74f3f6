// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - GET/POST /api/sites and GET/DELETE /api/sites/{id} to manage watched
//     resources; GET /api/sites/{id}/history for retained fetches.
//   - GET /api/content/{site_id}/{timestamp} for a stored body.
//   - GET /api/updates/stream for live change events over Server-Sent Events.
//   - GET or POST /api/reset-db to drop all state and reseed.
package api
