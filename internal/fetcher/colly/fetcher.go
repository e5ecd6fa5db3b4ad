// Package collyfetcher implements the plain HTTP fallback strategy using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pagemark/internal/crawler"
)

// Config controls the polling heuristic.
type Config struct {
	// Headers are sent with every request. Scroll requests add to a copy.
	Headers http.Header
	// Settle is the pause between the first response and the confirmation GET.
	Settle time.Duration
	// ScrollCount is the number of extra GETs that mimic lazy-load scrolling.
	ScrollCount int
	// ScrollPause separates scroll GETs.
	ScrollPause time.Duration
	// WarmupLimit caps concurrent script/style warm-up requests. Zero disables warm-up.
	WarmupLimit int
}

// Fetcher implements crawler.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher on top of the session's shared client.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.SetClient(client)
	c.DisableCookies()
	if ua := cfg.Headers.Get("User-Agent"); ua != "" {
		c.UserAgent = ua
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// snapshot is one successful GET of the target page.
type snapshot struct {
	finalURL string
	body     []byte
	textLen  int
	title    string
}

// Fetch implements crawler.PageFetcher. Only the first GET must succeed; the
// confirmation and scroll GETs replace the document when they carry strictly
// more visible text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	first, err := f.snapshot(ctx, rawURL, f.cfg.Headers)
	if err != nil {
		return crawler.Page{}, err
	}
	best := first

	warmCtx, cancelWarm := context.WithCancel(ctx)
	defer cancelWarm()
	f.warmUp(warmCtx, warmupTargets(first))

	if err := sleep(ctx, f.cfg.Settle); err != nil {
		f.logger.Debug("settle interrupted; keeping first response", zap.String("url", rawURL), zap.Error(err))
		return best.page(rawURL), nil
	}

	if second, err := f.snapshot(ctx, rawURL, f.cfg.Headers); err != nil {
		f.logger.Warn("confirmation request failed", zap.String("url", rawURL), zap.Error(err))
	} else {
		best = pickLonger(best, second)
	}

	for i := 0; i < f.cfg.ScrollCount; i++ {
		headers := f.cfg.Headers.Clone()
		if headers == nil {
			headers = http.Header{}
		}
		headers.Set("Cache-Control", "no-cache")
		headers.Set("Cookie", fmt.Sprintf("scrolled=true; position=%d", i*1000))
		if next, err := f.snapshot(ctx, rawURL, headers); err != nil {
			f.logger.Warn("scroll request failed", zap.String("url", rawURL), zap.Int("scroll", i+1), zap.Error(err))
		} else {
			best = pickLonger(best, next)
		}
		if err := sleep(ctx, f.cfg.ScrollPause); err != nil {
			break
		}
	}

	return best.page(rawURL), nil
}

func (s snapshot) page(rawURL string) crawler.Page {
	return crawler.Page{
		URL:        rawURL,
		FinalURL:   s.finalURL,
		StatusCode: http.StatusOK,
		Title:      s.title,
		Body:       s.body,
	}
}

// pickLonger keeps current unless next has strictly more visible text.
func pickLonger(current, next snapshot) snapshot {
	if next.textLen > current.textLen {
		return next
	}
	return current
}

func (f *Fetcher) snapshot(ctx context.Context, rawURL string, headers http.Header) (snapshot, error) {
	var (
		result   snapshot
		status   int
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, headers, &result, &status, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return snapshot{}, err
	}
	if status != http.StatusOK {
		return snapshot{}, &crawler.HTTPStatusError{Code: status}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.body))
	if err != nil {
		return snapshot{}, fmt.Errorf("parse html: %w", err)
	}
	result.title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, template").Remove()
	result.textLen = utf8.RuneCountInString(doc.Text())
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	headers http.Header,
	result *snapshot,
	status *int,
	fetchErr *error,
) {
	hooks.OnRequest(applyHeaders(headers))

	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		result.finalURL = r.Request.URL.String()
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = &crawler.HTTPStatusError{Code: r.StatusCode}
			return
		}
		*fetchErr = err
	})
}

func applyHeaders(headers http.Header) colly.RequestCallback {
	return func(r *colly.Request) {
		for key, values := range headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	}
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", crawler.ClassifyTimeout(ctx.Err()))
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", crawler.ClassifyTimeout(*fetchErr))
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", crawler.ClassifyTimeout(err))
		}
		return nil
	}
}

// warmupTargets lists script and stylesheet URLs referenced by the first response.
func warmupTargets(first snapshot) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(first.body))
	if err != nil {
		return nil
	}
	var targets []string
	doc.Find("script, link").Each(func(_ int, sel *goquery.Selection) {
		ref, ok := sel.Attr("src")
		if !ok || ref == "" {
			ref, ok = sel.Attr("href")
		}
		if !ok || !(strings.HasSuffix(ref, ".js") || strings.HasSuffix(ref, ".css")) {
			return
		}
		targets = append(targets, crawler.ResolveReference(first.finalURL, ref))
	})
	return targets
}

// warmUp fires best-effort GETs for targets and returns immediately. The
// requests are abandoned when ctx ends.
func (f *Fetcher) warmUp(ctx context.Context, targets []string) {
	if f.cfg.WarmupLimit <= 0 || len(targets) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.WarmupLimit)
	go func() {
		for _, target := range targets {
			g.Go(func() error {
				f.warmOne(gctx, target)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			f.logger.Debug("warm-up finished with error", zap.Error(err))
		}
	}()
}

func (f *Fetcher) warmOne(ctx context.Context, target string) {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.OnRequest(applyHeaders(f.cfg.Headers))
	collector.OnError(func(_ *colly.Response, err error) {
		f.logger.Debug("warm-up request failed", zap.String("url", target), zap.Error(err))
	})
	if err := collector.Visit(target); err != nil {
		f.logger.Debug("warm-up visit failed", zap.String("url", target), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
