package api

import (
	"net/http"
	"time"

	"sagipgo/pkg/netmon"
	"sagipgo/pkg/syncqueue"
)

// NetworkHandler reports connectivity and queue status.
type NetworkHandler struct {
	monitor *netmon.Monitor
	queue   *syncqueue.Service
}

// NewNetworkHandler creates a new NetworkHandler.
func NewNetworkHandler(monitor *netmon.Monitor, queue *syncqueue.Service) *NetworkHandler {
	return &NetworkHandler{monitor: monitor, queue: queue}
}

func (h *NetworkHandler) HandleNetwork(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.PendingCount(r.Context())
	if err != nil {
		http.Error(w, "failed to count pending records", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"online":  h.monitor.Online(),
		"pending": pending,
	}
	if ts, ok := h.queue.LastSyncAt(r.Context()); ok {
		resp["last_sync_at"] = ts.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
