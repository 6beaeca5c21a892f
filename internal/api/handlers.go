package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/procuredocs/regcrawler/internal/ingest"
	"github.com/procuredocs/regcrawler/internal/regulation"
	storepg "github.com/procuredocs/regcrawler/internal/store/postgres"
)

// documentPage is the envelope for paged document listings.
type documentPage struct {
	Items    []regulation.Document `json:"items"`
	Total    int                   `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", s.cfg.PageSize)

	docs, total, err := s.store.ListDocuments(r.Context(), storepg.ListQuery{
		Category: r.URL.Query().Get("category"),
		Sort:     r.URL.Query().Get("sort"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		if strings.Contains(err.Error(), "unsupported sort field") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("list documents failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, documentPage{Items: emptyIfNil(docs), Total: total, Page: page, PageSize: pageSize})
}

func (s *Server) searchDocuments(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", s.cfg.PageSize)

	docs, total, err := s.store.SearchDocuments(r.Context(), term, page, pageSize)
	if err != nil {
		s.logger.Error("search failed", zap.String("q", term), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, documentPage{Items: emptyIfNil(docs), Total: total, Page: page, PageSize: pageSize})
}

func (s *Server) timeline(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Timeline(r.Context(), queryInt(r, "year", 0), r.URL.Query().Get("category"))
	if err != nil {
		s.logger.Error("timeline failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build timeline")
		return
	}
	if entries == nil {
		entries = []storepg.TimelineEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": entries})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.documentFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) downloadAttachment(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.documentFromPath(w, r)
	if !ok {
		return
	}
	if doc.AttachmentPath == "" {
		writeError(w, http.StatusNotFound, "document has no stored attachment")
		return
	}
	if _, err := os.Stat(doc.AttachmentPath); err != nil {
		s.logger.Error("attachment file missing",
			zap.Int64("id", doc.ID),
			zap.String("path", doc.AttachmentPath),
		)
		writeError(w, http.StatusNotFound, "attachment file not found")
		return
	}

	filename := filepath.Base(doc.AttachmentPath)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))
	http.ServeFile(w, r, doc.AttachmentPath)
}

func (s *Server) documentFromPath(w http.ResponseWriter, r *http.Request) (*regulation.Document, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return nil, false
	}
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.logger.Error("get document failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return nil, false
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return doc, true
}

func (s *Server) listCategories(w http.ResponseWriter, _ *http.Request) {
	cats := s.crawler.Categories()
	if cats == nil {
		cats = []regulation.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

// startCrawl runs a crawl synchronously: the caller gets the final count or
// the failure. A second caller while one runs gets 409 immediately.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	var (
		count int
		err   error
	)
	if category == "" {
		count, err = s.crawler.CrawlAll(r.Context())
	} else {
		count, err = s.crawler.CrawlCategory(r.Context(), category)
	}

	switch {
	case errors.Is(err, ingest.ErrRunActive):
		writeError(w, http.StatusConflict, "a crawl run is already active")
	case errors.Is(err, ingest.ErrUnknownCategory):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("crawl run failed", zap.String("category", category), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "count": count})
	}
}

func (s *Server) crawlStatus(w http.ResponseWriter, r *http.Request) {
	status := s.crawler.Status()
	latest, err := s.store.LatestRunLog(r.Context())
	if err != nil {
		s.logger.Error("latest run log lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run status")
		return
	}
	payload := map[string]any{"is_running": status.Running}
	if status.Running {
		payload["category"] = status.Category
		payload["started_at"] = status.StartedAt
	}
	if latest != nil {
		payload["latest_run"] = latest
	}
	writeJSON(w, http.StatusOK, payload)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func emptyIfNil(docs []regulation.Document) []regulation.Document {
	if docs == nil {
		return []regulation.Document{}
	}
	return docs
}
