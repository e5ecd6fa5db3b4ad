// Package crawler implements the per-session crawl orchestrator together with
// the shared vocabulary (targets, outcomes, results, policies) used by the
// fetchers, resolvers, and storage layers of the pagemark pipeline.
package crawler
