package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sagipgo/pkg/db"
	"sagipgo/pkg/model"
)

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	TileStore
	QueueStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tiles ---

func (s *SQLiteStore) GetTile(ctx context.Context, zoom, x, y int) (*model.Tile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT zoom, x, y, area_id, data, size_bytes, stored_at
		 FROM tiles WHERE zoom = ? AND x = ? AND y = ?`, zoom, x, y)

	var t model.Tile
	err := row.Scan(&t.Zoom, &t.X, &t.Y, &t.AreaID, &t.Data, &t.SizeBytes, &t.StoredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) HasTile(ctx context.Context, zoom, x, y int) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM tiles WHERE zoom = ? AND x = ? AND y = ?", zoom, x, y).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) SaveTile(ctx context.Context, t *model.Tile) error {
	storedAt := t.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	// First writer wins: a tile shared by multiple areas keeps its original tag.
	query := `INSERT OR IGNORE INTO tiles (zoom, x, y, area_id, data, size_bytes, stored_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, t.Zoom, t.X, t.Y, t.AreaID, t.Data, t.SizeBytes, storedAt)
	return err
}

func (s *SQLiteStore) DeleteArea(ctx context.Context, areaID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tiles WHERE area_id = ?", areaID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteAllTiles(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tiles")
	return err
}

func (s *SQLiteStore) TileStats(ctx context.Context) (*model.CacheStats, error) {
	stats := &model.CacheStats{}

	row := s.db.QueryRowContext(ctx,
		"SELECT count(*), COALESCE(sum(size_bytes), 0) FROM tiles")
	if err := row.Scan(&stats.TotalTiles, &stats.TotalSizeBytes); err != nil {
		return nil, err
	}
	stats.TotalSizeMB = float64(stats.TotalSizeBytes) / (1024 * 1024)

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT area_id FROM tiles ORDER BY area_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var area string
		if err := rows.Scan(&area); err != nil {
			return nil, err
		}
		stats.AreaList = append(stats.AreaList, area)
	}
	return stats, rows.Err()
}

// --- Pending Records ---

func (s *SQLiteStore) AddPending(ctx context.Context, rec *model.PendingRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `INSERT INTO pending_records (id, payload, created_at, attempts, last_error)
	          VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.Payload, createdAt, rec.Attempts, rec.LastError)
	return err
}

func (s *SQLiteStore) PendingOldestFirst(ctx context.Context) ([]*model.PendingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, created_at, attempts, last_error
		 FROM pending_records ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.PendingRecord
	for rows.Next() {
		var r model.PendingRecord
		var lastError sql.NullString
		if err := rows.Scan(&r.ID, &r.Payload, &r.CreatedAt, &r.Attempts, &lastError); err != nil {
			return nil, err
		}
		if lastError.Valid {
			r.LastError = lastError.String
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM pending_records").Scan(&count)
	return count, err
}

func (s *SQLiteStore) DeletePending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM pending_records WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) MarkPendingFailed(ctx context.Context, id, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pending_records SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		lastError, id)
	return err
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
