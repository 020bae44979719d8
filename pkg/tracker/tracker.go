package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker tracks usage statistics per service ("tiles", "sync", ...).
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ServiceStats
}

// ServiceStats holds metrics for a specific service.
// Fields are accessed atomically.
type ServiceStats struct {
	CacheHits     int64
	CacheMisses   int64
	FetchSuccess  int64
	FetchFailures int64
	Retries       int64
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ServiceStats),
	}
}

// getStats returns the stats object for a service, creating it if needed.
func (t *Tracker) getStats(service string) *ServiceStats {
	t.mu.RLock()
	s, ok := t.stats[service]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[service]; ok {
		return s
	}
	s = &ServiceStats{}
	t.stats[service] = s
	return s
}

// TrackCacheHit increments the cache hit counter.
func (t *Tracker) TrackCacheHit(service string) {
	atomic.AddInt64(&t.getStats(service).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(service string) {
	atomic.AddInt64(&t.getStats(service).CacheMisses, 1)
}

func (t *Tracker) TrackFetchSuccess(service string) {
	atomic.AddInt64(&t.getStats(service).FetchSuccess, 1)
}

func (t *Tracker) TrackFetchFailure(service string) {
	atomic.AddInt64(&t.getStats(service).FetchFailures, 1)
}

func (t *Tracker) TrackRetry(service string) {
	atomic.AddInt64(&t.getStats(service).Retries, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ServiceStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ServiceStats)
	for k, v := range t.stats {
		result[k] = ServiceStats{
			CacheHits:     atomic.LoadInt64(&v.CacheHits),
			CacheMisses:   atomic.LoadInt64(&v.CacheMisses),
			FetchSuccess:  atomic.LoadInt64(&v.FetchSuccess),
			FetchFailures: atomic.LoadInt64(&v.FetchFailures),
			Retries:       atomic.LoadInt64(&v.Retries),
		}
	}
	return result
}
