package api

import (
	"net/http"

	"sagipgo/pkg/tracker"
)

// StatsHandler serves usage counters per service.
type StatsHandler struct {
	tracker *tracker.Tracker
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(t *tracker.Tracker) *StatsHandler {
	return &StatsHandler{tracker: t}
}

type serviceStatsDTO struct {
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	FetchSuccess  int64 `json:"fetch_success"`
	FetchFailures int64 `json:"fetch_errors"`
	Retries       int64 `json:"retries"`
	HitRate       int64 `json:"hit_rate"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	services := make(map[string]serviceStatsDTO, len(snapshot))
	for name, s := range snapshot {
		dto := serviceStatsDTO{
			CacheHits:     s.CacheHits,
			CacheMisses:   s.CacheMisses,
			FetchSuccess:  s.FetchSuccess,
			FetchFailures: s.FetchFailures,
			Retries:       s.Retries,
		}
		if total := s.CacheHits + s.CacheMisses; total > 0 {
			dto.HitRate = s.CacheHits * 100 / total
		}
		services[name] = dto
	}

	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}
