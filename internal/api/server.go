package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/app"
	"github.com/JakeFAU/pagemark/internal/crawler"
	"github.com/JakeFAU/pagemark/internal/metrics"
)

// Crawler runs a crawl-and-save session.
type Crawler interface {
	CrawlAndSave(ctx context.Context, req app.Request) (app.Report, error)
}

// FileStore exposes saved documents and archives.
type FileStore interface {
	Path(filename string) string
	Archive(ctx context.Context, filenames []string) (string, error)
}

// Options tunes request handling.
type Options struct {
	// RequestTimeout bounds every request. Zero uses the default of five minutes.
	RequestTimeout time.Duration
	// ExpandDefault applies when a crawl request omits enable_crawling.
	ExpandDefault bool
}

const defaultRequestTimeout = 5 * time.Minute

// Server wires HTTP handlers to the crawl service and file store.
type Server struct {
	router  chi.Router
	handler http.Handler
	crawler Crawler
	files   FileStore
	opts    Options
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Crawler, files FileStore, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		crawler: svc,
		files:   files,
		opts:    opts,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawl", s.crawl)
		r.Route("/files", func(r chi.Router) {
			r.Post("/archive", s.archive)
			r.Get("/{filename}", s.download)
		})
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "pagemark.api")
	return s
}

// Handler returns the traced Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	dir := filepath.Dir(s.files.Path("probe"))
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		s.writeError(w, http.StatusServiceUnavailable, "output directory unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URLs           []string `json:"urls"`
	EnableCrawling *bool    `json:"enable_crawling"`
	IncludeLinks   *bool    `json:"include_links"`
	DataType       string   `json:"data_type"`
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var body crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := s.toRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.crawler.CrawlAndSave(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, app.ErrNoURLs) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) toRequest(body crawlRequest) (app.Request, error) {
	if len(body.URLs) == 0 {
		return app.Request{}, errors.New("urls required")
	}
	dataType, err := crawler.ParseDataType(body.DataType)
	if err != nil {
		return app.Request{}, err
	}
	return app.Request{
		URLs:   body.URLs,
		Expand: boolOrDefault(body.EnableCrawling, s.opts.ExpandDefault),
		Extraction: crawler.ExtractionConfig{
			DataType:     dataType,
			IncludeLinks: boolOrDefault(body.IncludeLinks, true),
		},
	}, nil
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	s.serveFile(w, r, name, "text/markdown; charset=utf-8")
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	var filenames []string
	if err := json.NewDecoder(r.Body).Decode(&filenames); err != nil {
		s.writeError(w, http.StatusBadRequest, "expected a JSON array of filenames")
		return
	}
	name, err := s.files.Archive(r.Context(), filenames)
	if err != nil {
		s.logger.Error("archive failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to create archive")
		return
	}
	s.serveFile(w, r, name, "application/zip")
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name, contentType string) {
	path := s.files.Path(name)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("open file failed", zap.String("filename", name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Debug("Failed to close served file", zap.Error(cerr))
		}
	}()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	base := filepath.Base(path)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base))
	http.ServeContent(w, r, base, info.ModTime(), f)
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeJSON(logger, w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
