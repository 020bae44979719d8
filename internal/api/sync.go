package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"sagipgo/pkg/syncqueue"
)

const maxIncidentBody = 1 << 20 // 1 MiB

// SyncHandler exposes the offline sync queue.
type SyncHandler struct {
	queue *syncqueue.Service
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(queue *syncqueue.Service) *SyncHandler {
	return &SyncHandler{queue: queue}
}

type pendingRecordDTO struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// HandlePending lists queued records without their payloads.
func (h *SyncHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	records, err := h.queue.Pending(r.Context())
	if err != nil {
		http.Error(w, "failed to read pending records", http.StatusInternalServerError)
		return
	}

	dtos := make([]pendingRecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, pendingRecordDTO{
			ID:        rec.ID,
			CreatedAt: rec.CreatedAt,
			Attempts:  rec.Attempts,
			LastError: rec.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(dtos),
		"records": dtos,
	})
}

// HandleSyncNow triggers an immediate drain of the queue.
func (h *SyncHandler) HandleSyncNow(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queue.SyncNow(r.Context())
	switch {
	case errors.Is(err, syncqueue.ErrOffline), errors.Is(err, syncqueue.ErrSyncInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "sync failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleIncident submits an incident report. Online submissions go straight
// to the remote API; offline ones are queued and acknowledged with 202.
func (h *SyncHandler) HandleIncident(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxIncidentBody+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(payload) > maxIncidentBody {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(payload) {
		http.Error(w, "payload must be valid JSON", http.StatusBadRequest)
		return
	}

	queued, resp, rec, err := h.queue.SubmitOrQueue(r.Context(), payload)
	if err != nil {
		http.Error(w, "failed to store incident", http.StatusInternalServerError)
		return
	}

	if queued {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "queued",
			"id":     rec.ID,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(resp)
}
