// Package http serves the plain HTTP endpoints next to the hub: thumbnail
// downloads, health, and the exchange history.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/cardswap/internal/store"
	"github.com/nextlevelbuilder/cardswap/internal/thumbnail"
)

// ThumbnailFetcher resolves a thumbnail key to its bytes.
type ThumbnailFetcher interface {
	Fetch(ctx context.Context, key string) (thumbnail.Object, error)
}

// ThumbnailsHandler serves GET /thumbnails/{key}.
type ThumbnailsHandler struct {
	thumbs ThumbnailFetcher
}

func NewThumbnailsHandler(thumbs ThumbnailFetcher) *ThumbnailsHandler {
	return &ThumbnailsHandler{thumbs: thumbs}
}

// RegisterRoutes mounts the handler under prefix (e.g. "/thumbnails").
func (h *ThumbnailsHandler) RegisterRoutes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/{key}", h.handleGet)
}

func (h *ThumbnailsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	obj, err := h.thumbs.Fetch(r.Context(), r.PathValue("key"))
	if errors.Is(err, thumbnail.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "thumbnail not found"})
		return
	}
	if err != nil {
		slog.Error("thumbnail fetch failed", "key", r.PathValue("key"), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	// URLs carry a version query, so a given URL never changes content.
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(obj.Data)
}

// HealthHandler serves GET /health.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HistoryHandler serves GET /v1/exchanges/{deviceId}, token protected.
type HistoryHandler struct {
	log   store.ExchangeLog
	token string
}

func NewHistoryHandler(log store.ExchangeLog, token string) *HistoryHandler {
	return &HistoryHandler{log: log, token: token}
}

func (h *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/exchanges/{deviceId}", requireToken(h.token, h.handleList))
}

func (h *HistoryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	records, err := h.log.Recent(ctx, r.PathValue("deviceId"), limit)
	if err != nil {
		slog.Error("exchange history query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
