// Package api exposes the HTTP interface of the ingestion service: the
// document read surface, crawl control, and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/procuredocs/regcrawler/internal/ingest"
	"github.com/procuredocs/regcrawler/internal/metrics"
	"github.com/procuredocs/regcrawler/internal/regulation"
	storepg "github.com/procuredocs/regcrawler/internal/store/postgres"
)

// DocumentStore is the read surface the API serves.
type DocumentStore interface {
	ListDocuments(ctx context.Context, q storepg.ListQuery) ([]regulation.Document, int, error)
	SearchDocuments(ctx context.Context, term string, page, pageSize int) ([]regulation.Document, int, error)
	Timeline(ctx context.Context, year int, category string) ([]storepg.TimelineEntry, error)
	GetDocument(ctx context.Context, id int64) (*regulation.Document, error)
	LatestRunLog(ctx context.Context) (*regulation.RunLog, error)
}

// Crawler is the slice of the run orchestrator the API drives.
type Crawler interface {
	CrawlCategory(ctx context.Context, name string) (int, error)
	CrawlAll(ctx context.Context) (int, error)
	Status() ingest.Status
	Categories() []regulation.Category
}

// Config holds the API's own knobs.
type Config struct {
	// PageSize is the default list page size when the request names none.
	PageSize int
}

// Server wires HTTP handlers to the store and the run orchestrator.
type Server struct {
	router  chi.Router
	store   DocumentStore
	crawler Crawler
	cfg     Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store DocumentStore, crawler Crawler, cfg Config, logger *zap.Logger) *Server {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, crawler: crawler, cfg: cfg, logger: logger}

	metrics.Init()
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.listDocuments)
			r.Get("/search", s.searchDocuments)
			r.Get("/timeline", s.timeline)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getDocument)
				r.Get("/download", s.downloadAttachment)
			})
		})
		r.Get("/categories", s.listCategories)
		r.Route("/crawl", func(r chi.Router) {
			r.Post("/start", s.startCrawl)
			r.Get("/status", s.crawlStatus)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
