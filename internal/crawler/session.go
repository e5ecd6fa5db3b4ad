package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SessionConfig bounds a single crawl session.
type SessionConfig struct {
	// Timeout caps the whole session. Zero disables the deadline.
	Timeout time.Duration
}

// Session orchestrates one crawl call. It owns the visited set and the robots
// cache and is driven by a single goroutine, so neither is locked.
type Session struct {
	id       string
	cfg      SessionConfig
	fetcher  Fetcher
	policies PolicyResolver
	sitemaps SitemapDiscoverer
	logger   *zap.Logger

	visited map[string]struct{}
	// robots holds a nil entry for origins that publish no usable policy.
	robots map[string]RobotsPolicy
}

// NewSession wires a session. A nil policies resolver disables robots checks
// and a nil sitemaps discoverer disables expansion.
func NewSession(
	id string,
	cfg SessionConfig,
	fetcher Fetcher,
	policies PolicyResolver,
	sitemaps SitemapDiscoverer,
	logger *zap.Logger,
) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:       id,
		cfg:      cfg,
		fetcher:  fetcher,
		policies: policies,
		sitemaps: sitemaps,
		logger:   logger.With(zap.String("session_id", id)),
		visited:  make(map[string]struct{}),
		robots:   make(map[string]RobotsPolicy),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Crawl processes seeds in order and returns one result per processed target,
// with expansion results following the seed that produced them.
func (s *Session) Crawl(ctx context.Context, seeds []string, expand bool) []CrawlResult {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	results := make([]CrawlResult, 0, len(seeds))
	for _, seed := range seeds {
		results = append(results, s.crawlSeed(ctx, seed, expand)...)
	}
	s.logger.Info("crawl session finished",
		zap.Int("seeds", len(seeds)),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
	)
	return results
}

func (s *Session) crawlSeed(ctx context.Context, seed string, expand bool) []CrawlResult {
	result := s.visit(ctx, CrawlTarget{URL: seed})
	if !result.Success || !expand || s.sitemaps == nil {
		return []CrawlResult{result}
	}

	origin, err := Origin(seed)
	if err != nil {
		return []CrawlResult{result}
	}
	result.DiscoveredURLs = s.sameOrigin(origin, s.sitemaps.DiscoverURLs(ctx, origin))
	s.logger.Debug("sitemap expansion",
		zap.String("origin", origin),
		zap.Int("candidates", len(result.DiscoveredURLs)),
	)

	out := []CrawlResult{result}
	for _, candidate := range result.DiscoveredURLs {
		if s.seen(candidate) {
			continue
		}
		out = append(out, s.visit(ctx, CrawlTarget{URL: candidate, Discovered: true}))
	}
	return out
}

func (s *Session) visit(ctx context.Context, target CrawlTarget) CrawlResult {
	result := CrawlResult{URL: target.URL, Discovered: target.Discovered}

	key, err := NormalizeURL(target.URL)
	if err != nil {
		result.Err = err
		return result
	}
	if _, ok := s.visited[key]; ok {
		result.Err = ErrAlreadyVisited
		return result
	}
	if err := ctx.Err(); err != nil {
		result.Err = fmt.Errorf("%w: session deadline: %w", ErrTimeout, err)
		return result
	}
	if !s.allowed(ctx, target.URL) {
		s.logger.Info("skipping url disallowed by robots", zap.String("url", target.URL))
		result.Err = ErrPolicyDisallowed
		return result
	}

	s.visited[key] = struct{}{}
	outcome := s.fetcher.Fetch(ctx, target.URL)
	if !outcome.OK() {
		s.logger.Warn("fetch failed", zap.String("url", target.URL), zap.Error(outcome.Err))
		result.Err = outcome.Err
		return result
	}

	result.Success = true
	result.Title = outcome.Title
	result.HTML = outcome.HTML
	result.Strategy = outcome.Kind
	s.logger.Info("fetched url",
		zap.String("url", target.URL),
		zap.Stringer("strategy", outcome.Kind),
		zap.Int("bytes", len(outcome.HTML)),
	)
	return result
}

func (s *Session) allowed(ctx context.Context, rawURL string) bool {
	if s.policies == nil {
		return true
	}
	origin, err := Origin(rawURL)
	if err != nil {
		return false
	}
	policy, cached := s.robots[origin]
	if !cached {
		var ok bool
		policy, ok = s.policies.ResolvePolicy(ctx, origin)
		if !ok {
			policy = nil
		}
		s.robots[origin] = policy
	}
	if policy == nil {
		return true
	}
	return policy.Allowed(rawURL)
}

func (s *Session) seen(rawURL string) bool {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	_, ok := s.visited[key]
	return ok
}

func (s *Session) sameOrigin(origin string, candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if o, err := Origin(candidate); err == nil && o == origin {
			out = append(out, candidate)
		}
	}
	return out
}
