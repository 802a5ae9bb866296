// Package api exposes the extraction service over HTTP: health and
// capability endpoints plus the three extraction entry points (file
// upload, base64 payload, URL). The handlers translate the ingestion
// error taxonomy into stable status codes and never leak internals.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/softonit/textract/config"
	"github.com/softonit/textract/extractor"
	"github.com/softonit/textract/metrics"
	"github.com/softonit/textract/pipeline"
)

// Server wires the pipeline and extractor registry behind the HTTP
// endpoints.
type Server struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	registry *extractor.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	http     *http.Server
}

// NewServer creates the HTTP server. metrics may be nil to disable
// instrumentation.
func NewServer(cfg *config.Config, p *pipeline.Pipeline, registry *extractor.Registry,
	m *metrics.Metrics, logger *slog.Logger) *Server {

	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		pipeline: p,
		registry: registry,
		metrics:  m,
		logger:   logger,
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// routes builds the router with middleware and all endpoints.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.recoverPanics)
	r.Use(s.logRequests)

	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length"},
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/supported-formats", s.handleSupportedFormats)
		r.Post("/extract/file", s.handleExtractFile)
		r.Post("/extract/base64", s.handleExtractBase64)
		r.Post("/extract/url", s.handleExtractURL)
	})
	return r
}

// Start begins serving and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type contextKey string

const requestIDKey contextKey = "request_id"

// requestID assigns a unique ID to each request for log correlation.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// recoverPanics converts handler panics into a clean 500 without
// exposing the panic value to the caller.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal", "an internal error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		id, _ := r.Context().Value(requestIDKey).(string)
		s.logger.Debug("request handled",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)))
	})
}
