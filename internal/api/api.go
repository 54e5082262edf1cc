package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Fileri/showcase/server/internal/config"
	"github.com/Fileri/showcase/server/internal/content"
	"github.com/Fileri/showcase/server/internal/logging"
	"github.com/Fileri/showcase/server/internal/metrics"
	"github.com/Fileri/showcase/server/internal/storage"
)

// Prober runs diagnostic queries against the Supabase REST API
type Prober interface {
	Sample(ctx context.Context, limit int) ([]map[string]any, error)
	Columns(ctx context.Context) []map[string]any
	Probe(ctx context.Context) []storage.ProbeAttempt
}

// Handler is the main API handler
type Handler struct {
	config      *config.Config
	chain       *storage.Chain
	prober      Prober // nil when Supabase is not configured
	mux         *http.ServeMux
	handler     http.Handler
	maxBodySize int64 // 0 means unlimited
	now         func() time.Time
}

// New creates a new API handler
func New(cfg *config.Config, chain *storage.Chain, prober Prober) *Handler {
	h := &Handler{
		config:      cfg,
		chain:       chain,
		prober:      prober,
		mux:         http.NewServeMux(),
		maxBodySize: parseSize(cfg.Limits.MaxBodySize),
		now:         time.Now,
	}

	h.setupRoutes()
	h.handler = logging.Middleware(metrics.Middleware(h.mux))
	return h
}

// parseSize converts size strings like "100MB", "1GB" to bytes
func parseSize(s string) int64 {
	if s == "" || s == "0" {
		return 0 // unlimited
	}

	s = strings.ToUpper(strings.TrimSpace(s))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	var size int64
	fmt.Sscanf(strings.TrimSpace(s), "%d", &size)
	return size * multiplier
}

func (h *Handler) setupRoutes() {
	h.mux.HandleFunc("GET /api/content", h.handleList)
	h.mux.HandleFunc("POST /api/content", h.handleCreate)
	h.mux.HandleFunc("GET /api/content/{id}", h.handleGet)
	h.mux.HandleFunc("PUT /api/content/{id}", h.handleUpdate)
	h.mux.HandleFunc("DELETE /api/content/{id}", h.handleDelete)
	h.mux.HandleFunc("GET /api/debug", h.handleDebug)
	h.mux.HandleFunc("GET /api/debug/columns", h.handleDebugColumns)
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /robots.txt", h.handleRobots)
	h.mux.Handle("GET /metrics", metrics.Handler())
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Add security headers
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Robots-Tag", "noindex, nofollow")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")

	h.handler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WithContext(r.Context()).Warn("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// writeChainError maps a chain failure onto 404 or 500.
func writeChainError(w http.ResponseWriter, r *http.Request, err error, failure string) {
	if errors.Is(err, content.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "Content not found")
		return
	}
	logging.WithContext(r.Context()).Error(failure, zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, failure)
}

func (h *Handler) limitBody(w http.ResponseWriter, r *http.Request) {
	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
}

func writeInvalid(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeJSON(w, r, http.StatusBadRequest, map[string]string{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, backend, err := h.chain.List(r.Context())
	if err != nil {
		logging.WithContext(r.Context()).Error("Failed to fetch contents", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Failed to fetch contents")
		return
	}
	if items == nil {
		items = []*content.Content{}
	}
	w.Header().Set("X-Content-Backend", backend)
	writeJSON(w, r, http.StatusOK, items)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	item, err := content.ParseNew(r.Body)
	if err != nil {
		writeInvalid(w, r, err)
		return
	}

	now := h.now().UTC()
	item.ID = uuid.NewString()
	item.CreatedAt = &now
	item.UpdatedAt = &now

	created, backend, err := h.chain.Create(r.Context(), item)
	if err != nil {
		logging.WithContext(r.Context()).Error("Failed to create content", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Failed to create content")
		return
	}
	w.Header().Set("X-Content-Backend", backend)
	writeJSON(w, r, http.StatusCreated, created)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	item, backend, err := h.chain.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeChainError(w, r, err, "Failed to fetch content")
		return
	}
	w.Header().Set("X-Content-Backend", backend)
	writeJSON(w, r, http.StatusOK, item)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	u, err := content.ParseUpdate(r.Body)
	if err != nil {
		writeInvalid(w, r, err)
		return
	}

	item, backend, err := h.chain.Update(r.Context(), r.PathValue("id"), u)
	if err != nil {
		writeChainError(w, r, err, "Failed to update content")
		return
	}
	w.Header().Set("X-Content-Backend", backend)
	writeJSON(w, r, http.StatusOK, item)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	backend, err := h.chain.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeChainError(w, r, err, "Failed to delete content")
		return
	}
	w.Header().Set("X-Content-Backend", backend)
	writeJSON(w, r, http.StatusOK, map[string]string{"message": "Content deleted"})
}

func (h *Handler) handleDebug(w http.ResponseWriter, r *http.Request) {
	if h.prober == nil {
		writeError(w, r, http.StatusInternalServerError, "Supabase not initialized")
		return
	}

	rows, err := h.prober.Sample(r.Context(), 1)
	if err != nil {
		resp := map[string]any{
			"error":   "Failed to query table",
			"message": err.Error(),
			"details": nil,
			"code":    nil,
		}
		var restErr *storage.RESTError
		if errors.As(err, &restErr) {
			resp["message"] = restErr.Message
			resp["code"] = restErr.Code
			resp["details"] = restErr
		}
		writeJSON(w, r, http.StatusBadRequest, resp)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":       "success",
		"sample_data":  rows,
		"sample_count": len(rows),
		"columns":      h.prober.Columns(r.Context()),
		"backends":     h.chain.Names(),
		"note":         "Sample query worked - table exists",
	})
}

func presence(s string) string {
	if s == "" {
		return "missing"
	}
	return "present"
}

func (h *Handler) handleDebugColumns(w http.ResponseWriter, r *http.Request) {
	if h.prober == nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{
			"error": "Missing Supabase credentials",
			"url":   presence(h.config.Supabase.URL),
			"key":   presence(h.config.Supabase.Key()),
		})
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"success":  true,
		"attempts": h.prober.Probe(r.Context()),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok\n"))
}

func (h *Handler) handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("User-agent: *\nDisallow: /\n"))
}
