package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sagipgo/pkg/version"
)

// NewServer creates and configures the HTTP server.
// It accepts handlers for all API endpoints and a shutdownFunc for graceful shutdown.
func NewServer(addr string, cacheH *CacheHandler, syncH *SyncHandler, netH *NetworkHandler, statsH *StatsHandler, eventsH *EventsHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health and Version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2. Tile Cache
	mux.HandleFunc("GET /api/cache/stats", cacheH.HandleStats)
	mux.HandleFunc("GET /api/cache/tiles/{z}/{x}/{y}", cacheH.HandleTile)
	mux.HandleFunc("POST /api/cache/download", cacheH.HandleDownload)
	mux.HandleFunc("POST /api/cache/cancel", cacheH.HandleCancel)
	mux.HandleFunc("DELETE /api/cache", cacheH.HandleClear)

	// 3. Sync Queue
	mux.HandleFunc("GET /api/sync/pending", syncH.HandlePending)
	mux.HandleFunc("POST /api/sync/now", syncH.HandleSyncNow)
	mux.HandleFunc("POST /api/incidents", syncH.HandleIncident)

	// 4. Connectivity
	mux.HandleFunc("GET /api/network", netH.HandleNetwork)

	// 5. Usage Stats
	mux.Handle("GET /api/stats", statsH)

	// 6. Event Stream
	mux.HandleFunc("GET /ws/events", eventsH.HandleWS)

	// 7. Shutdown Endpoint
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Call shutdown in a goroutine to allow response to flush
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
