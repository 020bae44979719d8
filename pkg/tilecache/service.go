package tilecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"

	"sagipgo/pkg/config"
	"sagipgo/pkg/events"
	"sagipgo/pkg/model"
	"sagipgo/pkg/store"
	"sagipgo/pkg/tracker"
)

const trackService = "tiles"

// DefaultAreaID tags downloads that were started without an explicit area name.
const DefaultAreaID = "default"

var (
	// ErrDownloadInProgress is returned when a second download is started
	// while one is running. Only one area download runs at a time.
	ErrDownloadInProgress = errors.New("download already in progress")

	// ErrCancelled is returned when a download is aborted via CancelDownload.
	ErrCancelled = errors.New("download cancelled")
)

// JobState describes the lifecycle of the current (or last) area download.
type JobState int32

const (
	StateIdle JobState = iota
	StateRunning
	StateCancelled
	StateCompleted
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Fetcher retrieves a resource over the network.
type Fetcher interface {
	Get(ctx context.Context, url, service string) ([]byte, error)
}

// AreaRequest describes an area download.
type AreaRequest struct {
	AreaID string
	Bounds orb.Bound

	// MinZoom/MaxZoom default to the configured zoom range when nil, keeping
	// an explicit zoom 0 request expressible.
	MinZoom *int
	MaxZoom *int

	// OnProgress, if set, is called after every batch in addition to the
	// progress events on the bus.
	OnProgress func(model.DownloadProgress)
}

// areaJob is a request with zoom defaults resolved.
type areaJob struct {
	areaID     string
	bounds     orb.Bound
	minZoom    int
	maxZoom    int
	onProgress func(model.DownloadProgress)
}

// Service is the offline tile cache. It serves tiles from the store, bulk
// downloads areas in batches, and reports cache statistics.
type Service struct {
	cfg     *config.TilesConfig
	store   store.TileStore
	client  Fetcher
	tracker *tracker.Tracker
	bus     *events.Bus

	mu        sync.Mutex
	state     JobState
	cancelled bool

	serverIdx atomic.Uint64
}

// New creates the tile cache service.
func New(cfg *config.TilesConfig, st store.TileStore, client Fetcher, tr *tracker.Tracker, bus *events.Bus) *Service {
	return &Service{
		cfg:     cfg,
		store:   st,
		client:  client,
		tracker: tr,
		bus:     bus,
	}
}

// State returns the current download job state.
func (s *Service) State() JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TileURL builds the fetch URL for a tile, cycling through the configured
// mirror subdomains.
func (s *Service) TileURL(zoom, x, y int) string {
	server := ""
	if len(s.cfg.Servers) > 0 {
		idx := s.serverIdx.Add(1) - 1
		server = s.cfg.Servers[idx%uint64(len(s.cfg.Servers))]
	}
	r := strings.NewReplacer(
		"{s}", server,
		"{z}", strconv.Itoa(zoom),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	)
	return r.Replace(s.cfg.URLTemplate)
}

// GetTile returns a tile from the cache, or nil when it is not cached.
// It never reaches out to the network.
func (s *Service) GetTile(ctx context.Context, zoom, x, y int) (*model.Tile, error) {
	tile, err := s.store.GetTile(ctx, zoom, x, y)
	if err != nil {
		return nil, err
	}
	if tile == nil {
		s.tracker.TrackCacheMiss(trackService)
		return nil, nil
	}
	s.tracker.TrackCacheHit(trackService)
	return tile, nil
}

// CacheTile fetches and stores a single tile. Already-cached tiles are left
// untouched and reported as such.
func (s *Service) CacheTile(ctx context.Context, zoom, x, y int, areaID string) (downloaded bool, size int64, err error) {
	has, err := s.store.HasTile(ctx, zoom, x, y)
	if err != nil {
		return false, 0, err
	}
	if has {
		s.tracker.TrackCacheHit(trackService)
		return false, 0, nil
	}
	s.tracker.TrackCacheMiss(trackService)

	data, err := s.client.Get(ctx, s.TileURL(zoom, x, y), trackService)
	if err != nil {
		return false, 0, fmt.Errorf("tile %s: %w", model.TileKey(zoom, x, y), err)
	}

	tile := &model.Tile{
		Zoom:      zoom,
		X:         x,
		Y:         y,
		AreaID:    areaID,
		Data:      data,
		SizeBytes: len(data),
	}
	if err := s.store.SaveTile(ctx, tile); err != nil {
		return false, 0, fmt.Errorf("save tile %s: %w", tile.Key(), err)
	}
	return true, int64(len(data)), nil
}

// DownloadArea bulk-downloads every tile covering the requested bounds.
//
// Tiles are fetched in batches: requests within a batch run concurrently,
// batches run one after another with a delay in between to stay polite to
// the tile servers. Individual tile failures are counted and skipped.
// Cancellation is checked between batches; tiles already stored stay stored.
func (s *Service) DownloadArea(ctx context.Context, req AreaRequest) (*model.DownloadSummary, error) {
	job, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	return s.run(ctx, job)
}

// DownloadAreaAsync reserves the download slot and runs the download in the
// background. ErrDownloadInProgress is returned synchronously when another
// download is running; completion and errors are reported via events.
func (s *Service) DownloadAreaAsync(ctx context.Context, req AreaRequest) error {
	job, err := s.normalize(req)
	if err != nil {
		return err
	}
	if err := s.begin(); err != nil {
		return err
	}
	go func() {
		if _, err := s.run(ctx, job); err != nil && !errors.Is(err, ErrCancelled) {
			slog.Error("Background area download failed", "area", job.areaID, "error", err)
		}
	}()
	return nil
}

func (s *Service) normalize(req AreaRequest) (areaJob, error) {
	job := areaJob{
		areaID:     req.AreaID,
		bounds:     req.Bounds,
		minZoom:    s.cfg.MinZoom,
		maxZoom:    s.cfg.MaxZoom,
		onProgress: req.OnProgress,
	}
	if job.areaID == "" {
		job.areaID = DefaultAreaID
	}
	if req.MinZoom != nil {
		job.minZoom = *req.MinZoom
	}
	if req.MaxZoom != nil {
		job.maxZoom = *req.MaxZoom
	}
	if job.minZoom > job.maxZoom {
		return job, fmt.Errorf("invalid zoom range %d..%d", job.minZoom, job.maxZoom)
	}
	return job, nil
}

func (s *Service) run(ctx context.Context, job areaJob) (*model.DownloadSummary, error) {
	coords := TilesInBounds(job.bounds, job.minZoom, job.maxZoom)
	summary := &model.DownloadSummary{TotalTiles: len(coords)}

	slog.Info("Area download started",
		"area", job.areaID, "tiles", len(coords), "zoom_min", job.minZoom, "zoom_max", job.maxZoom)
	s.bus.Emit(events.DownloadStart, map[string]any{
		"area_id":     job.areaID,
		"total_tiles": len(coords),
	})

	batchSize := s.cfg.BatchSize
	var downloaded, cached, failed, bytes atomic.Int64

	for start := 0; start < len(coords); start += batchSize {
		if err := s.checkCancelled(ctx); err != nil {
			s.bus.Emit(events.DownloadError, map[string]any{
				"area_id": job.areaID,
				"error":   err.Error(),
			})
			return nil, err
		}

		end := start + batchSize
		if end > len(coords) {
			end = len(coords)
		}

		var wg sync.WaitGroup
		for _, c := range coords[start:end] {
			wg.Add(1)
			go func(c Coord) {
				defer wg.Done()
				fresh, size, err := s.CacheTile(ctx, c.Zoom, c.X, c.Y, job.areaID)
				switch {
				case err != nil:
					failed.Add(1)
					slog.Warn("Tile download failed", "tile", model.TileKey(c.Zoom, c.X, c.Y), "error", err)
				case fresh:
					downloaded.Add(1)
					bytes.Add(size)
				default:
					cached.Add(1)
				}
			}(c)
		}
		wg.Wait()

		progress := model.DownloadProgress{
			Progress:        float64(end) / float64(len(coords)) * 100,
			DownloadedTiles: int(downloaded.Load()),
			CachedTiles:     int(cached.Load()),
			FailedTiles:     int(failed.Load()),
			TotalTiles:      len(coords),
			TotalBytes:      bytes.Load(),
		}
		s.bus.Emit(events.DownloadProgress, progress)
		if job.onProgress != nil {
			job.onProgress(progress)
		}

		if end < len(coords) && s.cfg.BatchDelay > 0 {
			select {
			case <-time.After(time.Duration(s.cfg.BatchDelay)):
			case <-ctx.Done():
			}
		}
	}

	summary.DownloadedTiles = int(downloaded.Load())
	summary.CachedTiles = int(cached.Load())
	summary.FailedTiles = int(failed.Load())
	summary.TotalBytes = bytes.Load()

	// Per-tile failures are never terminal: even an all-failed run completes
	// with the failures reported in the summary.
	s.finish(StateCompleted)
	slog.Info("Area download complete",
		"area", job.areaID,
		"downloaded", summary.DownloadedTiles,
		"cached", summary.CachedTiles,
		"failed", summary.FailedTiles,
		"bytes", summary.TotalBytes)
	s.bus.Emit(events.DownloadComplete, summary)
	return summary, nil
}

// CancelDownload requests cancellation of the running download. It returns
// false when no download is in progress. The download stops at the next
// batch boundary; tiles already stored are kept.
func (s *Service) CancelDownload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.cancelled = true
	return true
}

// Stats returns aggregate cache statistics.
func (s *Service) Stats(ctx context.Context) (*model.CacheStats, error) {
	return s.store.TileStats(ctx)
}

// Clear removes cached tiles. An empty areaID clears the whole cache and
// returns -1; otherwise the number of deleted tiles is returned.
func (s *Service) Clear(ctx context.Context, areaID string) (int64, error) {
	if areaID == "" {
		if err := s.store.DeleteAllTiles(ctx); err != nil {
			return 0, err
		}
		slog.Info("Tile cache cleared")
		return -1, nil
	}
	deleted, err := s.store.DeleteArea(ctx, areaID)
	if err != nil {
		return 0, err
	}
	slog.Info("Area cleared", "area", areaID, "tiles", deleted)
	return deleted, nil
}

func (s *Service) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return ErrDownloadInProgress
	}
	s.state = StateRunning
	s.cancelled = false
	return nil
}

func (s *Service) finish(state JobState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Service) checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		s.finish(StateCancelled)
		return ErrCancelled
	}
	s.mu.Lock()
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled {
		s.finish(StateCancelled)
		slog.Info("Area download cancelled")
		return ErrCancelled
	}
	return nil
}
