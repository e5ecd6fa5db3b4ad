// Package app runs crawl sessions end to end: it opens the per-session
// resources, drives the orchestrator, converts every fetched page to Markdown,
// and persists the documents.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/config"
	"github.com/JakeFAU/pagemark/internal/crawler"
	"github.com/JakeFAU/pagemark/internal/fetcher"
	collyfetcher "github.com/JakeFAU/pagemark/internal/fetcher/colly"
	"github.com/JakeFAU/pagemark/internal/fetcher/headless"
	"github.com/JakeFAU/pagemark/internal/markdown"
	"github.com/JakeFAU/pagemark/internal/metrics"
	"github.com/JakeFAU/pagemark/internal/resolver"
	"github.com/JakeFAU/pagemark/internal/telemetry"
)

// Report status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrNoURLs is returned when a request carries no seeds.
var ErrNoURLs = errors.New("no urls supplied")

// Config is the subset of configuration a session needs.
type Config struct {
	UserAgent       string
	RespectRobots   bool
	SessionTimeout  time.Duration
	HTTP            fetcher.ClientConfig
	HeadlessEnabled bool
	Headless        headless.Config
	Fallback        collyfetcher.Config
}

// ConfigFrom maps the loaded service configuration onto a session Config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		UserAgent:      cfg.Crawler.UserAgent,
		RespectRobots:  cfg.Crawler.RespectRobots,
		SessionTimeout: cfg.Crawler.SessionTimeout,
		HTTP: fetcher.ClientConfig{
			Timeout:      cfg.HTTP.Timeout,
			MaxIdleConns: cfg.HTTP.MaxIdleConns,
		},
		HeadlessEnabled: cfg.Headless.Enabled,
		Headless: headless.Config{
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
			Settle:            cfg.Headless.Settle,
			ScrollCount:       cfg.Headless.ScrollCount,
			IdleWindow:        cfg.Headless.IdleWindow,
			DomainQPS:         cfg.Headless.DomainQPS,
		},
		Fallback: collyfetcher.Config{
			Settle:      cfg.Fallback.Settle,
			ScrollCount: cfg.Fallback.ScrollCount,
			ScrollPause: cfg.Fallback.ScrollPause,
			WarmupLimit: cfg.Fallback.WarmupLimit,
		},
	}
}

// DocumentStore persists converted documents.
type DocumentStore interface {
	Save(ctx context.Context, content, preferredName string) (string, error)
}

// RendererFactory launches the browser engine for one session.
type RendererFactory func(cfg headless.Config, logger *zap.Logger) (crawler.Renderer, error)

// Option customizes a Service.
type Option func(*Service)

// WithRendererFactory replaces the chromedp launcher.
func WithRendererFactory(factory RendererFactory) Option {
	return func(s *Service) {
		s.newRenderer = factory
	}
}

// Service converts crawl sessions into saved Markdown documents.
type Service struct {
	cfg         Config
	store       DocumentStore
	ids         crawler.IDGenerator
	converter   *markdown.Converter
	newRenderer RendererFactory
	logger      *zap.Logger
}

// New builds a Service.
func New(cfg Config, store DocumentStore, ids crawler.IDGenerator, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:         cfg,
		store:       store,
		ids:         ids,
		converter:   markdown.New(logger),
		newRenderer: launchChromedp,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func launchChromedp(cfg headless.Config, logger *zap.Logger) (crawler.Renderer, error) {
	r, err := headless.NewChromedp(cfg, logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Request is one crawl-and-convert call.
type Request struct {
	URLs       []string
	Expand     bool
	Extraction crawler.ExtractionConfig
}

// FileInfo describes a saved document.
type FileInfo struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	// Empty marks documents whose conversion produced no content.
	Empty bool `json:"empty,omitempty"`
}

// Failure describes a target that produced no document.
type Failure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Report summarizes a session.
type Report struct {
	SessionID string     `json:"session_id"`
	Status    string     `json:"status"`
	Files     []FileInfo `json:"files"`
	Failures  []Failure  `json:"failures,omitempty"`
	Message   string     `json:"message"`
}

// CrawlAndSave runs one session over req.URLs. A report with zero saved files
// carries StatusError; the returned error is reserved for requests that could
// not start a session at all.
func (s *Service) CrawlAndSave(ctx context.Context, req Request) (Report, error) {
	if len(req.URLs) == 0 {
		return Report{}, ErrNoURLs
	}
	if req.Extraction.DataType == "" {
		req.Extraction.DataType = crawler.DataTypeFullPage
	}

	ctx, span := telemetry.Tracer().Start(ctx, "app.CrawlAndSave", trace.WithAttributes(
		attribute.Int("pagemark.seeds", len(req.URLs)),
		attribute.Bool("pagemark.expand", req.Expand),
		attribute.String("pagemark.data_type", string(req.Extraction.DataType)),
	))
	defer span.End()

	session, closeSession, err := s.openSession()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open session")
		return Report{}, err
	}
	defer closeSession()
	span.SetAttributes(attribute.String("pagemark.session_id", session.ID()))

	results := session.Crawl(ctx, req.URLs, req.Expand)

	report := Report{SessionID: session.ID(), Files: []FileInfo{}}
	for _, result := range results {
		if !result.Success {
			metrics.ObserveCrawl(result.URL, "failed", 0)
			report.Failures = append(report.Failures, Failure{URL: result.URL, Error: errorText(result.Err)})
			continue
		}
		metrics.ObserveCrawl(result.URL, "success", len(result.HTML))

		info, err := s.persist(ctx, result, req.Extraction)
		if err != nil {
			s.logger.Error("save document failed", zap.String("url", result.URL), zap.Error(err))
			report.Failures = append(report.Failures, Failure{URL: result.URL, Error: err.Error()})
			continue
		}
		report.Files = append(report.Files, info)
	}

	span.SetAttributes(
		attribute.Int("pagemark.files", len(report.Files)),
		attribute.Int("pagemark.failures", len(report.Failures)),
	)
	if len(report.Files) == 0 {
		report.Status = StatusError
		report.Message = "No URLs were successfully crawled"
		span.SetStatus(codes.Error, report.Message)
	} else {
		report.Status = StatusSuccess
		report.Message = fmt.Sprintf("Successfully processed %d URLs", len(report.Files))
	}
	s.logger.Info("crawl request finished",
		zap.String("session_id", report.SessionID),
		zap.String("status", report.Status),
		zap.Int("files", len(report.Files)),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

func (s *Service) persist(ctx context.Context, result crawler.CrawlResult, extraction crawler.ExtractionConfig) (FileInfo, error) {
	md := s.converter.Convert(result.HTML, result.Title, extraction)
	if md == "" {
		s.logger.Warn("saving empty document", zap.String("url", result.URL), zap.Error(crawler.ErrConversionEmpty))
	}
	name := crawler.PreferredName(result.URL, result.Title)
	filename, err := s.store.Save(ctx, md, name)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		URL:      result.URL,
		Filename: filename,
		Title:    name,
		Empty:    md == "",
	}, nil
}

// openSession builds the per-session HTTP client, renderer, resolver, and
// orchestrator. The returned func releases the renderer and idle connections.
func (s *Service) openSession() (*crawler.Session, func(), error) {
	id, err := s.ids.NewID()
	if err != nil {
		return nil, nil, fmt.Errorf("new session id: %w", err)
	}
	logger := s.logger.With(zap.String("session_id", id))

	client := fetcher.NewHTTPClient(s.cfg.HTTP)
	renderer := s.startRenderer(logger)

	fallbackCfg := s.cfg.Fallback
	fallbackCfg.Headers = fetcher.DefaultHeaders(s.cfg.UserAgent)
	fallback := collyfetcher.New(fallbackCfg, client, logger)

	res := resolver.New(client, s.cfg.UserAgent, logger)
	var policies crawler.PolicyResolver
	if s.cfg.RespectRobots {
		policies = res
	}

	session := crawler.NewSession(
		id,
		crawler.SessionConfig{Timeout: s.cfg.SessionTimeout},
		fetcher.New(renderer, fallback, logger),
		policies,
		res,
		logger,
	)
	closeFn := func() {
		if err := renderer.Close(context.Background()); err != nil {
			logger.Warn("renderer close failed", zap.Error(err))
		}
		client.CloseIdleConnections()
	}
	return session, closeFn, nil
}

func (s *Service) startRenderer(logger *zap.Logger) crawler.Renderer {
	if !s.cfg.HeadlessEnabled || s.newRenderer == nil {
		return headless.NewDisabled()
	}
	renderer, err := s.newRenderer(s.cfg.Headless, logger)
	if err != nil {
		logger.Warn("browser engine unavailable; continuing with http fallback",
			zap.Error(errors.Join(crawler.ErrEngineUnavailable, err)))
		return headless.NewDisabled()
	}
	return renderer
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
