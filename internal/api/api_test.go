package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sagipgo/pkg/config"
	"sagipgo/pkg/db"
	"sagipgo/pkg/events"
	"sagipgo/pkg/netmon"
	"sagipgo/pkg/store"
	"sagipgo/pkg/syncqueue"
	"sagipgo/pkg/tilecache"
	"sagipgo/pkg/tracker"
)

// fakeRemote stands in for both the tile servers and the incident API.
type fakeRemote struct {
	tileFailures atomic.Bool
	posts        atomic.Int32
}

func (f *fakeRemote) Get(ctx context.Context, url, service string) ([]byte, error) {
	if f.tileFailures.Load() {
		return nil, errors.New("api error: status 503")
	}
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (f *fakeRemote) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string, service string) ([]byte, error) {
	f.posts.Add(1)
	return []byte(`{"status":"created"}`), nil
}

type testEnv struct {
	server *httptest.Server
	store  *store.SQLiteStore
	bus    *events.Bus
	tiles  *tilecache.Service
	remote *fakeRemote
	online *atomic.Bool
}

func setupAPI(t *testing.T) *testEnv {
	t.Helper()

	d, err := db.Init(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })

	st := store.NewSQLiteStore(d)
	bus := events.NewBus()
	tr := tracker.New()
	remote := &fakeRemote{}

	tilesCfg := &config.TilesConfig{
		URLTemplate: "https://{s}.tiles.test/{z}/{x}/{y}.png",
		Servers:     []string{"a"},
		MinZoom:     10,
		MaxZoom:     10,
		BatchSize:   10,
		BatchDelay:  config.Duration(time.Millisecond),
	}
	tiles := tilecache.New(tilesCfg, st, remote, tr, bus)

	var online atomic.Bool
	online.Store(true)
	syncCfg := &config.SyncConfig{Endpoint: "https://api.test/incidents"}
	queue := syncqueue.New(syncCfg, st, st, remote, online.Load, bus)

	netCfg := &config.NetworkConfig{
		PollInterval: config.Duration(time.Hour),
		Debounce:     config.Duration(time.Millisecond),
	}
	checker := func(ctx context.Context) error {
		if online.Load() {
			return nil
		}
		return errors.New("unreachable")
	}
	monitor := netmon.New(netCfg, checker, bus)
	monitor.Start(context.Background())
	t.Cleanup(monitor.Stop)

	srv := NewServer("localhost:0",
		NewCacheHandler(tiles),
		NewSyncHandler(queue),
		NewNetworkHandler(monitor, queue),
		NewStatsHandler(tr),
		NewEventsHandler(bus),
		func() {},
	)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: st, bus: bus, tiles: tiles, remote: remote, online: &online}
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealthAndVersion(t *testing.T) {
	env := setupAPI(t)

	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(env.server.URL + "/api/version")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["version"] == "" {
		t.Error("version missing from response")
	}
}

func TestTileEndpoint(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	// Not cached yet
	resp, err := http.Get(env.server.URL + "/api/cache/tiles/10/863/471")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing tile, got %d", resp.StatusCode)
	}

	if _, _, err := env.tiles.CacheTile(ctx, 10, 863, 471, "test"); err != nil {
		t.Fatal(err)
	}

	resp, err = http.Get(env.server.URL + "/api/cache/tiles/10/863/471")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}

	// Garbage coordinates
	resp, err = http.Get(env.server.URL + "/api/cache/tiles/ten/x/y")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad coordinates, got %d", resp.StatusCode)
	}
}

func TestDownloadEndpoint(t *testing.T) {
	env := setupAPI(t)

	body := `{"area_id":"pio-duran","north":14.0,"south":13.9,"east":123.5,"west":123.4,"min_zoom":10,"max_zoom":10}`
	resp, err := http.Post(env.server.URL+"/api/cache/download", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	// Wait for the background download to finish.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && env.tiles.State() != tilecache.StateCompleted {
		time.Sleep(5 * time.Millisecond)
	}
	if env.tiles.State() != tilecache.StateCompleted {
		t.Fatalf("download did not complete, state %s", env.tiles.State())
	}

	stats, err := env.tiles.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalTiles != 2 {
		t.Errorf("expected 2 cached tiles, got %d", stats.TotalTiles)
	}
}

func TestDownloadEndpoint_BadBounds(t *testing.T) {
	env := setupAPI(t)

	body := `{"north":13.0,"south":14.0,"east":123.5,"west":123.4}`
	resp, err := http.Post(env.server.URL+"/api/cache/download", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for inverted bounds, got %d", resp.StatusCode)
	}
}

func TestCancelEndpoint_Idle(t *testing.T) {
	env := setupAPI(t)

	resp, err := http.Post(env.server.URL+"/api/cache/cancel", "application/json", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 when idle, got %d", resp.StatusCode)
	}
}

func TestClearEndpoint(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	if _, _, err := env.tiles.CacheTile(ctx, 10, 1, 1, "areaA"); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.server.URL+"/api/cache?area=areaA", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]float64
	decodeJSON(t, resp, &body)
	if body["deleted"] != 1 {
		t.Errorf("expected 1 deleted tile, got %v", body["deleted"])
	}
}

func TestIncidentEndpoint_Online(t *testing.T) {
	env := setupAPI(t)

	resp, err := http.Post(env.server.URL+"/api/incidents", "application/json",
		bytes.NewReader([]byte(`{"type":"flood","severity":"high"}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201 for direct submission, got %d", resp.StatusCode)
	}
	if env.remote.posts.Load() != 1 {
		t.Errorf("expected 1 remote post, got %d", env.remote.posts.Load())
	}
}

func TestIncidentEndpoint_Offline(t *testing.T) {
	env := setupAPI(t)
	env.online.Store(false)

	resp, err := http.Post(env.server.URL+"/api/incidents", "application/json",
		bytes.NewReader([]byte(`{"type":"flood"}`)))
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 while offline, got %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &body)
	if body["status"] != "queued" || body["id"] == "" {
		t.Errorf("unexpected response: %v", body)
	}

	count, err := env.store.CountPending(context.Background())
	if err != nil || count != 1 {
		t.Errorf("expected 1 pending record, got %d (%v)", count, err)
	}
}

func TestIncidentEndpoint_InvalidJSON(t *testing.T) {
	env := setupAPI(t)

	resp, err := http.Post(env.server.URL+"/api/incidents", "application/json",
		strings.NewReader("not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", resp.StatusCode)
	}
}

func TestSyncNowEndpoint_Offline(t *testing.T) {
	env := setupAPI(t)
	env.online.Store(false)

	resp, err := http.Post(env.server.URL+"/api/sync/now", "application/json", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 while offline, got %d", resp.StatusCode)
	}
}

func TestPendingEndpoint(t *testing.T) {
	env := setupAPI(t)
	env.online.Store(false)

	resp, err := http.Post(env.server.URL+"/api/incidents", "application/json",
		bytes.NewReader([]byte(`{"type":"fire"}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/api/sync/pending")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Count   int                `json:"count"`
		Records []pendingRecordDTO `json:"records"`
	}
	decodeJSON(t, resp, &body)
	if body.Count != 1 || len(body.Records) != 1 {
		t.Fatalf("expected 1 pending record, got %+v", body)
	}
	if body.Records[0].ID == "" {
		t.Error("record ID missing")
	}
}

func TestNetworkEndpoint(t *testing.T) {
	env := setupAPI(t)

	resp, err := http.Get(env.server.URL + "/api/network")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["online"] != true {
		t.Errorf("expected online true, got %v", body["online"])
	}
	if body["pending"] != float64(0) {
		t.Errorf("expected 0 pending, got %v", body["pending"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	if _, _, err := env.tiles.CacheTile(ctx, 10, 1, 1, "a"); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.server.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Services map[string]serviceStatsDTO `json:"services"`
	}
	decodeJSON(t, resp, &body)
	if body.Services["tiles"].CacheMisses != 1 {
		t.Errorf("expected 1 tile cache miss, got %+v", body.Services["tiles"])
	}
}

func TestEventsWebSocket(t *testing.T) {
	env := setupAPI(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the handler time to register its listener.
	time.Sleep(50 * time.Millisecond)
	env.bus.Emit(events.DownloadStart, map[string]any{"area_id": "x", "total_tiles": 5})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ev.Type != events.DownloadStart {
		t.Errorf("expected download-start, got %s", ev.Type)
	}
}
