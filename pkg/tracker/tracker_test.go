package tracker

import (
	"testing"
)

func TestTracker(t *testing.T) {
	tr := New()
	service := "tiles"

	// Test Initial State
	stats := tr.Snapshot()
	if len(stats) != 0 {
		t.Errorf("Expected empty stats, got %d", len(stats))
	}

	// Test Tracking
	tr.TrackCacheHit(service)
	tr.TrackCacheMiss(service)
	tr.TrackFetchSuccess(service)
	tr.TrackFetchFailure(service)
	tr.TrackRetry(service)

	// Verify Snapshot
	stats = tr.Snapshot()
	sStats, ok := stats[service]
	if !ok {
		t.Fatalf("Expected stats for service %s", service)
	}

	if sStats.CacheHits != 1 {
		t.Errorf("Expected 1 CacheHit, got %d", sStats.CacheHits)
	}
	if sStats.CacheMisses != 1 {
		t.Errorf("Expected 1 CacheMiss, got %d", sStats.CacheMisses)
	}
	if sStats.FetchSuccess != 1 {
		t.Errorf("Expected 1 FetchSuccess, got %d", sStats.FetchSuccess)
	}
	if sStats.FetchFailures != 1 {
		t.Errorf("Expected 1 FetchFailure, got %d", sStats.FetchFailures)
	}
	if sStats.Retries != 1 {
		t.Errorf("Expected 1 Retry, got %d", sStats.Retries)
	}
}

func TestTracker_MultipleServices(t *testing.T) {
	tr := New()

	tr.TrackFetchSuccess("tiles")
	tr.TrackFetchSuccess("tiles")
	tr.TrackFetchFailure("sync")

	stats := tr.Snapshot()
	if stats["tiles"].FetchSuccess != 2 {
		t.Errorf("tiles: expected 2 FetchSuccess, got %d", stats["tiles"].FetchSuccess)
	}
	if stats["sync"].FetchFailures != 1 {
		t.Errorf("sync: expected 1 FetchFailure, got %d", stats["sync"].FetchFailures)
	}
	if stats["sync"].FetchSuccess != 0 {
		t.Errorf("sync: expected 0 FetchSuccess, got %d", stats["sync"].FetchSuccess)
	}
}
