package model

import (
	"fmt"
	"time"
)

// Tile represents a single cached map tile.
// Tiles are immutable once stored; the coordinate triple is the primary key,
// shared across areas (first writer wins).
type Tile struct {
	Zoom int `json:"zoom"`
	X    int `json:"x"`
	Y    int `json:"y"`

	// AreaID is the logical grouping tag of the download that first stored
	// the tile, used for scoped eviction.
	AreaID string `json:"area_id"`

	Data      []byte    `json:"-"`
	SizeBytes int       `json:"size_bytes"`
	StoredAt  time.Time `json:"stored_at"`
}

// Key returns the unique storage key for the tile's coordinates.
func (t *Tile) Key() string {
	return TileKey(t.Zoom, t.X, t.Y)
}

// TileKey builds the storage key for a (zoom, x, y) coordinate.
func TileKey(zoom, x, y int) string {
	return fmt.Sprintf("tile_%d_%d_%d", zoom, x, y)
}

// PendingRecord represents a write operation queued while offline.
// It stays in the store until the remote API acknowledges it; sync failures
// only increment Attempts and set LastError.
type PendingRecord struct {
	ID        string    `json:"id"`
	Payload   []byte    `json:"payload"` // opaque JSON document
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// CacheStats aggregates the tile store contents for the UI.
type CacheStats struct {
	TotalTiles     int      `json:"total_tiles"`
	TotalSizeBytes int64    `json:"total_size_bytes"`
	TotalSizeMB    float64  `json:"total_size_mb"`
	AreaList       []string `json:"area_list"`
}

// DownloadSummary is the terminal result of a completed area download.
type DownloadSummary struct {
	TotalTiles      int   `json:"total_tiles"`
	DownloadedTiles int   `json:"downloaded_tiles"`
	CachedTiles     int   `json:"cached_tiles"`
	FailedTiles     int   `json:"failed_tiles"`
	TotalBytes      int64 `json:"total_bytes"`
}

// DownloadProgress is emitted after each batch of an area download.
type DownloadProgress struct {
	Progress        float64 `json:"progress"` // 0..100
	DownloadedTiles int     `json:"downloaded_tiles"`
	CachedTiles     int     `json:"cached_tiles"`
	FailedTiles     int     `json:"failed_tiles"`
	TotalTiles      int     `json:"total_tiles"`
	TotalBytes      int64   `json:"total_bytes"`
}

// SyncSummary is the aggregate result of one drain pass.
type SyncSummary struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}
