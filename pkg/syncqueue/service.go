package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sagipgo/pkg/config"
	"sagipgo/pkg/events"
	"sagipgo/pkg/model"
	"sagipgo/pkg/store"
)

// stateLastSync is the persistent state key holding the last drain timestamp.
const stateLastSync = "last_sync_at"

var (
	// ErrOffline is returned when a sync is requested without connectivity.
	ErrOffline = errors.New("cannot sync while offline")

	// ErrSyncInProgress is returned when a drain is already running.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Submitter posts a queued payload to the remote API.
type Submitter interface {
	PostJSON(ctx context.Context, url string, body []byte, headers map[string]string, service string) ([]byte, error)
}

// Service is the offline sync queue. Writes made while offline are persisted
// as pending records and drained oldest-first once connectivity returns.
type Service struct {
	cfg    *config.SyncConfig
	queue  store.QueueStore
	state  store.StateStore
	client Submitter
	online func() bool
	bus    *events.Bus

	mu      sync.Mutex
	syncing bool

	unsubscribe func()
}

// New creates the sync queue service. The online func reports current
// connectivity; the connectivity monitor provides it.
func New(cfg *config.SyncConfig, queue store.QueueStore, state store.StateStore, client Submitter, online func() bool, bus *events.Bus) *Service {
	return &Service{
		cfg:    cfg,
		queue:  queue,
		state:  state,
		client: client,
		online: online,
		bus:    bus,
	}
}

// Start subscribes to connectivity transitions so the queue drains
// automatically when the network comes back.
func (s *Service) Start(ctx context.Context) {
	s.unsubscribe = s.bus.AddListener(func(ev events.Event) {
		if ev.Type != events.NetworkOnline {
			return
		}
		go func() {
			if _, err := s.SyncNow(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				slog.Warn("Auto-sync after reconnect failed", "error", err)
			}
		}()
	})
}

// Stop detaches the service from connectivity events.
func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Enqueue persists a payload for later submission.
func (s *Service) Enqueue(ctx context.Context, payload []byte) (*model.PendingRecord, error) {
	rec := &model.PendingRecord{
		ID:        uuid.NewString(),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.queue.AddPending(ctx, rec); err != nil {
		return nil, fmt.Errorf("enqueue record: %w", err)
	}

	count, err := s.queue.CountPending(ctx)
	if err != nil {
		count = -1
	}
	slog.Info("Record queued for sync", "id", rec.ID, "pending", count)
	s.bus.Emit(events.IncidentSavedOffline, map[string]any{
		"id":      rec.ID,
		"pending": count,
	})
	return rec, nil
}

// SubmitOrQueue posts the payload directly when online, and falls back to the
// queue when offline or when the direct submission fails. It returns the
// remote response body for direct submissions, and the created record when
// queued.
func (s *Service) SubmitOrQueue(ctx context.Context, payload []byte) (queued bool, resp []byte, rec *model.PendingRecord, err error) {
	if s.online() {
		resp, err = s.client.PostJSON(ctx, s.cfg.Endpoint, payload, s.headers(), "sync")
		if err == nil {
			return false, resp, nil, nil
		}
		slog.Warn("Direct submission failed, queueing", "error", err)
	}

	rec, err = s.Enqueue(ctx, payload)
	if err != nil {
		return false, nil, nil, err
	}
	return true, nil, rec, nil
}

// PendingCount returns the number of queued records.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	return s.queue.CountPending(ctx)
}

// Pending returns all queued records, oldest first.
func (s *Service) Pending(ctx context.Context) ([]*model.PendingRecord, error) {
	return s.queue.PendingOldestFirst(ctx)
}

// LastSyncAt returns the time of the last completed drain.
func (s *Service) LastSyncAt(ctx context.Context) (time.Time, bool) {
	val, ok := s.state.GetState(ctx, stateLastSync)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// SyncNow drains the queue oldest-first. Each record is submitted on its own:
// acknowledged records are deleted, failed ones keep their place with an
// incremented attempt counter and the drain moves on. Only one drain runs at
// a time.
func (s *Service) SyncNow(ctx context.Context) (*model.SyncSummary, error) {
	// Rejected synchronously, no events and no queue access.
	if !s.online() {
		return nil, ErrOffline
	}

	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	records, err := s.queue.PendingOldestFirst(ctx)
	if err != nil {
		s.bus.Emit(events.SyncError, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("load pending records: %w", err)
	}

	summary := &model.SyncSummary{}
	if len(records) == 0 {
		return summary, nil
	}

	slog.Info("Sync started", "pending", len(records))
	s.bus.Emit(events.SyncStart, map[string]any{"pending": len(records)})

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}

		if _, err := s.client.PostJSON(ctx, s.cfg.Endpoint, rec.Payload, s.headers(), "sync"); err != nil {
			summary.Failed++
			slog.Warn("Record sync failed", "id", rec.ID, "attempts", rec.Attempts+1, "error", err)
			if merr := s.queue.MarkPendingFailed(ctx, rec.ID, err.Error()); merr != nil {
				slog.Error("Failed to record sync failure", "id", rec.ID, "error", merr)
			}
			continue
		}

		if err := s.queue.DeletePending(ctx, rec.ID); err != nil {
			return summary, fmt.Errorf("delete synced record %s: %w", rec.ID, err)
		}
		summary.Synced++
	}

	if err := s.state.SetState(ctx, stateLastSync, time.Now().Format(time.RFC3339)); err != nil {
		slog.Warn("Failed to persist last sync time", "error", err)
	}

	slog.Info("Sync finished", "synced", summary.Synced, "failed", summary.Failed)
	s.bus.Emit(events.SyncComplete, summary)
	return summary, nil
}

func (s *Service) headers() map[string]string {
	if s.cfg.Token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + s.cfg.Token}
}
