// Package cmd defines the pagemark CLI.
//
// Commands:
//   - serve: runs the HTTP API (internal/api) and the retention worker that
//     sweeps expired documents out of the output directory.
//   - crawl: fetches the given URLs once, writes one Markdown document per
//     page, and optionally bundles them into a zip.
//   - cleanup: removes documents older than a retention horizon.
//
// Configuration comes from an optional file passed with --config and from
// PAGEMARK_* environment variables (for example PAGEMARK_STORAGE_OUTPUT_DIR or
// PAGEMARK_HEADLESS_ENABLED=false). The browser render strategy needs a local
// Chrome or Chromium; without one every session runs on the HTTP fallback.
package cmd
