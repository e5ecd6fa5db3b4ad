// Package ratelimit implements per-host token bucket pacing.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/pagemark/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained request rate per host. Zero or less means unlimited.
	RPS   float64
	Burst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Unlimited reports whether Wait never blocks.
func (l *Limiter) Unlimited() bool {
	return l == nil || l.rate == rate.Inf
}

// Wait blocks until a token is available for rawURL's host or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l.Unlimited() {
		return nil
	}
	host, err := hostOf(rawURL)
	if err != nil {
		return err
	}

	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse url: missing host in %q", rawURL)
	}
	return strings.ToLower(u.Host), nil
}
