package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/paulmach/orb"

	"sagipgo/pkg/tilecache"
)

// CacheHandler exposes the offline tile cache.
type CacheHandler struct {
	tiles *tilecache.Service
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(tiles *tilecache.Service) *CacheHandler {
	return &CacheHandler{tiles: tiles}
}

// HandleStats returns aggregate cache statistics and the download job state.
func (h *CacheHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tiles.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to read cache stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": stats,
		"state": h.tiles.State().String(),
	})
}

// HandleTile serves a cached tile as PNG. Missing tiles are a 404; the cache
// never fetches on demand.
func (h *CacheHandler) HandleTile(w http.ResponseWriter, r *http.Request) {
	zoom, err1 := strconv.Atoi(r.PathValue("z"))
	x, err2 := strconv.Atoi(r.PathValue("x"))
	y, err3 := strconv.Atoi(r.PathValue("y"))
	if err1 != nil || err2 != nil || err3 != nil {
		http.Error(w, "invalid tile coordinates", http.StatusBadRequest)
		return
	}

	tile, err := h.tiles.GetTile(r.Context(), zoom, x, y)
	if err != nil {
		http.Error(w, "failed to read tile", http.StatusInternalServerError)
		return
	}
	if tile == nil {
		http.Error(w, "tile not cached", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(tile.Data); err != nil {
		slog.Error("Failed to write tile response", "error", err)
	}
}

type downloadRequest struct {
	AreaID string  `json:"area_id"`
	North  float64 `json:"north"`
	South  float64 `json:"south"`
	East   float64 `json:"east"`
	West   float64 `json:"west"`

	// Omitted zoom bounds fall back to the configured zoom range.
	MinZoom *int `json:"min_zoom"`
	MaxZoom *int `json:"max_zoom"`
}

// HandleDownload starts a background area download.
func (h *CacheHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.North < req.South || req.East < req.West {
		http.Error(w, "invalid bounds", http.StatusBadRequest)
		return
	}

	// The download outlives the request; it is cancelled via the cancel
	// endpoint, not by the client closing this connection.
	err := h.tiles.DownloadAreaAsync(context.Background(), tilecache.AreaRequest{
		AreaID: req.AreaID,
		Bounds: orb.Bound{
			Min: orb.Point{req.West, req.South},
			Max: orb.Point{req.East, req.North},
		},
		MinZoom: req.MinZoom,
		MaxZoom: req.MaxZoom,
	})
	if errors.Is(err, tilecache.ErrDownloadInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started"})
}

// HandleCancel cancels the running download.
func (h *CacheHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if !h.tiles.CancelDownload() {
		http.Error(w, "no download in progress", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelling"})
}

// HandleClear deletes cached tiles, scoped to ?area= when given.
func (h *CacheHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	area := r.URL.Query().Get("area")
	deleted, err := h.tiles.Clear(r.Context(), area)
	if err != nil {
		http.Error(w, "failed to clear cache", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
