// Package headless contains the browser render strategy backed by chromedp.
package headless

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/crawler"
	"github.com/JakeFAU/pagemark/internal/policy/ratelimit"
)

// Config controls the behavior of the headless renderer.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is waited after the network goes idle and after every scroll.
	Settle time.Duration
	// ScrollCount is the number of scroll-to-bottom steps used to trigger lazy content.
	ScrollCount int
	// IdleWindow is how long the page must have no requests in flight.
	IdleWindow time.Duration
	// DomainQPS rate limits navigations per host. Zero disables limiting.
	DomainQPS float64
}

// Renderer implements crawler.Renderer using one headless Chrome per session.
type Renderer struct {
	cfg           Config
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	limiter       *ratelimit.Limiter
}

// NewChromedp launches the browser. Launch failures wrap
// crawler.ErrEngineUnavailable so callers can degrade to plain HTTP.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: chromedp warmup: %w", crawler.ErrEngineUnavailable, err)
	}

	return &Renderer{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		limiter:       ratelimit.New(ratelimit.Config{RPS: cfg.DomainQPS, Burst: 1}),
	}, nil
}

// Close tears down the browser and allocator contexts.
func (r *Renderer) Close(context.Context) error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocCancel()
	return nil
}

// Render opens a fresh tab, waits for the network to go idle, settles and
// scrolls, then captures the DOM and document title. The tab is always closed.
func (r *Renderer) Render(ctx context.Context, rawURL string) (crawler.Page, error) {
	if r == nil {
		return crawler.Page{}, crawler.ErrEngineUnavailable
	}
	if err := r.waitDomainBudget(ctx, rawURL); err != nil {
		return crawler.Page{}, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.NavigationTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	tracker := newNetworkTracker()
	chromedp.ListenTarget(tabCtx, tracker.observe)

	var (
		html     string
		title    string
		finalURL string
	)
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(r.userAgent()),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		tracker.waitIdle(r.cfg.IdleWindow),
		chromedp.Sleep(r.cfg.Settle),
	}
	for i := 0; i < r.cfg.ScrollCount; i++ {
		tasks = append(tasks, scrollToBottom(), chromedp.Sleep(r.cfg.Settle))
	}
	tasks = append(tasks,
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return crawler.Page{}, fmt.Errorf("chromedp run: %w", crawler.ClassifyTimeout(err))
	}
	if finalURL == "" {
		finalURL = rawURL
	}

	r.logger.Debug("rendered page",
		zap.String("url", rawURL),
		zap.Int("requests_seen", tracker.total()),
	)
	return crawler.Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: tracker.documentStatus(),
		Title:      strings.TrimSpace(title),
		Body:       []byte(html),
	}, nil
}

func (r *Renderer) userAgent() string {
	if r.cfg.UserAgent != "" {
		return r.cfg.UserAgent
	}
	return "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome Safari/537.36"
}

func scrollToBottom() chromedp.Action {
	var done bool
	return chromedp.Evaluate(`(window.scrollTo(0, document.body.scrollHeight), true)`, &done)
}

func (r *Renderer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if err := r.limiter.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

// forwardCancel cancels the tab when the caller's context ends, since the tab
// context descends from the browser rather than the request.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
