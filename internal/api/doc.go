// Package api hosts the HTTP trigger for chart ingestion. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs and /v1/backfills start a batch in the background.
//   - GET /v1/runs/{id} reports a batch's progress and outcome.
package api
