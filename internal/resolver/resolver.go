package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/crawler"
)

const maxBodyBytes = 10 << 20

// Resolver fetches robots.txt and sitemaps with the session's HTTP client.
type Resolver struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// New builds a Resolver sharing client with the rest of the session.
func New(client *http.Client, userAgent string, logger *zap.Logger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{client: client, userAgent: userAgent, logger: logger}
}

// ResolvePolicy implements crawler.PolicyResolver. Anything other than a 200
// response yields no policy.
func (r *Resolver) ResolvePolicy(ctx context.Context, origin string) (crawler.RobotsPolicy, bool) {
	robotsURL := origin + "/robots.txt"
	status, body, err := r.get(ctx, robotsURL)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("origin", origin), zap.Error(err))
		return nil, false
	}
	if status != http.StatusOK {
		r.logger.Warn("robots unavailable; allowing access", zap.String("origin", origin), zap.Int("status", status))
		return nil, false
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		r.logger.Warn("robots parse failed; allowing access", zap.String("origin", origin), zap.Error(err))
		return nil, false
	}
	return &robotsPolicy{group: data.FindGroup(r.userAgent)}, true
}

type robotsPolicy struct {
	group *robotstxt.Group
}

// Allowed implements crawler.RobotsPolicy.
func (p *robotsPolicy) Allowed(rawURL string) bool {
	if p == nil || p.group == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return p.group.Test(parsed.RequestURI())
}

func (r *Resolver) get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch %s: %w", rawURL, crawler.ClassifyTimeout(err))
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return resp.StatusCode, body, nil
}
