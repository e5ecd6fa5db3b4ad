// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl to crawl URLs and save them as Markdown.
//   - GET /v1/files/{filename} to download a saved document.
//   - POST /v1/files/archive to bundle saved documents into a zip.
package api
