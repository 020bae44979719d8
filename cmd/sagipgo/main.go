package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sagipgo/internal/api"
	"sagipgo/pkg/config"
	"sagipgo/pkg/db"
	"sagipgo/pkg/events"
	"sagipgo/pkg/logging"
	"sagipgo/pkg/netmon"
	"sagipgo/pkg/probe"
	"sagipgo/pkg/request"
	"sagipgo/pkg/store"
	"sagipgo/pkg/syncqueue"
	"sagipgo/pkg/tilecache"
	"sagipgo/pkg/tracker"
	"sagipgo/pkg/version"
)

var initConfig = flag.Bool("init-config", false, "Generate default config file and exit")

func main() {
	flag.Parse()

	// Optional .env for SAGIP_API_TOKEN and friends.
	_ = godotenv.Load()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault("configs/sagip.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated: configs/sagip.yaml")
		return
	}

	if err := run(context.Background(), "configs/sagip.yaml"); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("SagipGo Started", "version", version.Version)

	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()
	st := store.NewSQLiteStore(dbConn)

	runMaintenance(dbConn, appCfg)

	tr := tracker.New()
	bus := events.NewBus()
	reqClient := request.New(&appCfg.Request, tr)

	tiles := tilecache.New(&appCfg.Tiles, st, reqClient, tr, bus)

	checker := func(ctx context.Context) error {
		return reqClient.Head(ctx, appCfg.Network.ProbeURL)
	}
	monitor := netmon.New(&appCfg.Network, checker, bus)

	queue := syncqueue.New(&appCfg.Sync, st, st, reqClient, monitor.Online, bus)

	// Startup Probes
	probes := []probe.Probe{
		{
			Name:     "Database Writable",
			Check:    writableCheck(st),
			Critical: true,
		},
		{
			Name:  "Tile Server",
			Check: func(ctx context.Context) error { return reqClient.Head(ctx, tiles.TileURL(0, 0, 0)) },
		},
	}
	if appCfg.Sync.Endpoint != "" {
		probes = append(probes, probe.Probe{
			Name:  "Incident API",
			Check: func(ctx context.Context) error { return reqClient.Head(ctx, appCfg.Sync.Endpoint) },
		})
	}
	if err := probe.RunAll(ctx, probes); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	monitor.Start(ctx)
	defer monitor.Stop()

	queue.Start(ctx)
	defer queue.Stop()

	srv := api.NewServer(appCfg.Server.Address,
		api.NewCacheHandler(tiles),
		api.NewSyncHandler(queue),
		api.NewNetworkHandler(monitor, queue),
		api.NewStatsHandler(tr),
		api.NewEventsHandler(bus),
		cancel,
	)
	srv.Handler = loggingMiddleware(srv.Handler)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	return runServerLifecycle(ctx, srv, quit)
}

// runMaintenance evicts tiles past the configured age. Failures are logged,
// never fatal.
func runMaintenance(dbConn *db.DB, cfg *config.Config) {
	if cfg.Tiles.PruneAge <= 0 {
		return
	}
	pruned, err := dbConn.PruneTiles(time.Duration(cfg.Tiles.PruneAge))
	if err != nil {
		slog.Error("Tile pruning failed", "error", err)
		return
	}
	if pruned > 0 {
		slog.Info("Pruned stale tiles", "count", pruned, "older_than", cfg.Tiles.PruneAge)
	}
}

func writableCheck(st store.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := st.SetState(ctx, "startup_probe", time.Now().Format(time.RFC3339)); err != nil {
			return err
		}
		return st.DeleteState(ctx, "startup_probe")
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
