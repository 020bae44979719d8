package store

import (
	"context"

	"sagipgo/pkg/model"
)

// TileStore handles map tile persistence.
type TileStore interface {
	GetTile(ctx context.Context, zoom, x, y int) (*model.Tile, error)
	HasTile(ctx context.Context, zoom, x, y int) (bool, error)
	SaveTile(ctx context.Context, tile *model.Tile) error
	DeleteArea(ctx context.Context, areaID string) (int64, error)
	DeleteAllTiles(ctx context.Context) error
	TileStats(ctx context.Context) (*model.CacheStats, error)
}

// QueueStore handles pending-record persistence for offline sync.
type QueueStore interface {
	AddPending(ctx context.Context, rec *model.PendingRecord) error
	// PendingOldestFirst returns all pending records in creation order.
	PendingOldestFirst(ctx context.Context) ([]*model.PendingRecord, error)
	CountPending(ctx context.Context) (int, error)
	DeletePending(ctx context.Context, id string) error
	// MarkPendingFailed increments the attempt counter and records the error.
	MarkPendingFailed(ctx context.Context, id, lastError string) error
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
