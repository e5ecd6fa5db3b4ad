package fetcher

import (
	"net"
	"net/http"
	"time"
)

// Browser-like defaults sent with every plain HTTP request.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	DefaultAcceptLanguage = "en-US,en;q=0.5"
)

// DefaultClientTimeout bounds a single plain HTTP request.
const DefaultClientTimeout = 30 * time.Second

// ClientConfig tunes the per-session HTTP client.
type ClientConfig struct {
	Timeout      time.Duration
	MaxIdleConns int
}

// NewHTTPClient builds the HTTP client shared by every plain request in a
// session: robots, sitemaps, fallback fetches, and warm-up requests.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientTimeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: newHTTPTransport(cfg.MaxIdleConns),
	}
}

func newHTTPTransport(maxIdle int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// DefaultHeaders returns the header set used by plain HTTP requests.
func DefaultHeaders(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", DefaultAccept)
	h.Set("Accept-Language", DefaultAcceptLanguage)
	return h
}
