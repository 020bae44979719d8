package db

import (
	"path/filepath"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	d, err := Init(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer d.Close()

	// Tables should exist
	for _, table := range []string{"tiles", "pending_records", "persistent_state"} {
		var name string
		err := d.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestPruneTiles(t *testing.T) {
	tempDir := t.TempDir()
	d, err := Init(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer d.Close()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()

	insert := `INSERT INTO tiles (zoom, x, y, area_id, data, size_bytes, stored_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.Exec(insert, 10, 1, 1, "a", []byte{1}, 1, old); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Exec(insert, 10, 2, 2, "a", []byte{1}, 1, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := d.PruneTiles(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneTiles failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned tile, got %d", n)
	}

	var count int
	if err := d.QueryRow("SELECT count(*) FROM tiles").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 remaining tile, got %d", count)
	}
}
