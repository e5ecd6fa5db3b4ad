// Package fetcher composes the render and fallback strategies into the single
// fetch used by a crawl session, and builds the HTTP client they share.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/crawler"
	"github.com/JakeFAU/pagemark/internal/metrics"
	"github.com/JakeFAU/pagemark/internal/telemetry"
)

type state int

const (
	stateTryRender state = iota
	stateTryFallback
	stateDone
)

// Dual implements crawler.Fetcher: render first, fall back to plain HTTP for
// that URL only, and fail when both strategies fail.
type Dual struct {
	renderer crawler.Renderer
	fallback crawler.PageFetcher
	logger   *zap.Logger
}

// New builds a Dual. renderer may be nil, in which case every fetch goes
// straight to the fallback.
func New(renderer crawler.Renderer, fallback crawler.PageFetcher, logger *zap.Logger) *Dual {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dual{renderer: renderer, fallback: fallback, logger: logger}
}

// Fetch implements crawler.Fetcher.
func (d *Dual) Fetch(ctx context.Context, rawURL string) crawler.FetchOutcome {
	ctx, span := telemetry.Tracer().Start(ctx, "fetcher.Fetch",
		trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	var (
		outcome   crawler.FetchOutcome
		renderErr error
	)
	for st := stateTryRender; st != stateDone; {
		switch st {
		case stateTryRender:
			page, err := d.render(ctx, rawURL)
			if err != nil {
				renderErr = err
				if !errors.Is(err, crawler.ErrEngineUnavailable) {
					d.logger.Warn("render failed; falling back to http", zap.String("url", rawURL), zap.Error(err))
				}
				st = stateTryFallback
				continue
			}
			outcome = d.finish(crawler.OutcomeRendered, rawURL, page)
			st = stateDone
		case stateTryFallback:
			page, err := d.fallback.Fetch(ctx, rawURL)
			if err != nil {
				outcome = crawler.Failed(rawURL,
					fmt.Errorf("%w: %w", crawler.ErrAllStrategiesFailed, errors.Join(renderErr, err)))
				st = stateDone
				continue
			}
			outcome = d.finish(crawler.OutcomeFallbackFetched, rawURL, page)
			st = stateDone
		}
	}
	metrics.ObserveFetchStrategy(outcome.Kind.String())
	span.SetAttributes(attribute.String("pagemark.strategy", outcome.Kind.String()))
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, "all strategies failed")
	}
	return outcome
}

func (d *Dual) render(ctx context.Context, rawURL string) (crawler.Page, error) {
	if d.renderer == nil {
		return crawler.Page{}, crawler.ErrEngineUnavailable
	}
	return d.renderer.Render(ctx, rawURL)
}

func (d *Dual) finish(kind crawler.OutcomeKind, rawURL string, page crawler.Page) crawler.FetchOutcome {
	base := page.FinalURL
	if base == "" {
		base = rawURL
	}
	html, err := AbsolutizeLinks(base, page.Body)
	if err != nil {
		d.logger.Warn("link rewrite failed; keeping original markup", zap.String("url", rawURL), zap.Error(err))
		html = string(page.Body)
	}
	if kind == crawler.OutcomeRendered {
		return crawler.Rendered(rawURL, html, page.Title)
	}
	return crawler.FallbackFetched(rawURL, html, page.Title)
}
