// Package metrics exposes Prometheus collectors for the pagemark service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal                 *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	fetchStrategyTotal         *prometheus.CounterVec
	documentsSavedTotal        prometheus.Counter
	filesCleanedTotal          prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagemark_pages_total",
				Help: "Total number of pages crawled, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagemark_bytes_total",
				Help: "Total number of HTML bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchStrategyTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagemark_fetch_strategy_total",
				Help: "Fetch outcomes labeled by the strategy that produced them.",
			},
			[]string{"strategy"},
		)

		documentsSavedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagemark_documents_saved_total",
				Help: "Total number of Markdown documents written to the output directory.",
			},
		)

		filesCleanedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagemark_files_cleaned_total",
				Help: "Total number of expired files removed by retention cleanup.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagemark_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit waits before a browser navigation.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCrawl counts a processed page and the HTML bytes it produced.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchStrategy counts which strategy settled a fetch.
func ObserveFetchStrategy(strategy string) {
	Init()
	fetchStrategyTotal.WithLabelValues(strategy).Inc()
}

// ObserveDocumentSaved counts a persisted Markdown document.
func ObserveDocumentSaved() {
	Init()
	documentsSavedTotal.Inc()
}

// ObserveFilesCleaned adds n removed files to the cleanup counter.
func ObserveFilesCleaned(n int) {
	Init()
	if n > 0 {
		filesCleanedTotal.Add(float64(n))
	}
}

// ObserveRateLimitDelay records how long a navigation waited for its host budget.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
