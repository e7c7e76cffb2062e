// Package api hosts the operator HTTP surface. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/current for the live tally of the ingestion run.
package api
