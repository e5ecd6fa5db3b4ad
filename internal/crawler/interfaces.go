package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a document using whatever strategies it composes.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchOutcome
}

// Renderer executes a page in a browser and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
	Close(ctx context.Context) error
}

// PageFetcher retrieves a page over plain HTTP.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// RobotsPolicy answers crawl permission for URLs of a single origin.
type RobotsPolicy interface {
	Allowed(rawURL string) bool
}

// PolicyResolver loads the robots policy of an origin. ok is false when the
// origin publishes no usable policy.
type PolicyResolver interface {
	ResolvePolicy(ctx context.Context, origin string) (policy RobotsPolicy, ok bool)
}

// SitemapDiscoverer lists URLs advertised by an origin's sitemap.
type SitemapDiscoverer interface {
	DiscoverURLs(ctx context.Context, origin string) []string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
