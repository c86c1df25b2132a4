package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	httpadapter "github.com/glenfinch/river-snap-service/internal/adapter/http"
	kafkaadapter "github.com/glenfinch/river-snap-service/internal/adapter/kafka"
	"github.com/glenfinch/river-snap-service/internal/adapter/litegrid"
	"github.com/glenfinch/river-snap-service/internal/adapter/pggrid"
	"github.com/glenfinch/river-snap-service/internal/config"
	"github.com/glenfinch/river-snap-service/internal/domain"
	"github.com/glenfinch/river-snap-service/internal/observability"
	"github.com/glenfinch/river-snap-service/internal/pipeline"
	"github.com/glenfinch/river-snap-service/internal/snap"
)

func main() {
	// A local .env file fills in anything the environment does not set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, closeSource, err := openGridSource(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open grid source", "error", err)
		os.Exit(1)
	}
	defer closeSource()

	grid, err := buildGrid(cfg, source)
	if err != nil {
		logger.Error("failed to build snap grid", "error", err)
		os.Exit(1)
	}

	// Snapping can be switched off without taking the pipeline down;
	// sites then pass through with their original coordinates.
	var snapper domain.ChannelSnapper
	if cfg.SnapEnabled {
		snapper = pipeline.NewSnapper(grid, cfg.SnapMinFlow, cfg.SnapMaxDepth)
		logger.Info("channel snapping enabled",
			"min_flow", cfg.SnapMinFlow, "max_depth", cfg.SnapMaxDepth, "policy", cfg.SnapPolicy)
	} else {
		logger.Info("channel snapping disabled")
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	if err := reader.CheckConnection(ctx); err != nil {
		logger.Warn("kafka broker not reachable at startup", "error", err)
	}

	transformer := pipeline.NewTransformer(snapper, cfg.SnapFallback, logger, metrics)
	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg, grid, p, metrics.Handler(), logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start snapping pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// openGridSource opens the configured grid backend and returns the sampler
// source plus a close func for the underlying handles.
func openGridSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (snap.Source, func(), error) {
	switch cfg.GridBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.GridDatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to grid database: %w", err)
		}
		src, err := pggrid.NewPoolSource(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		meta := src.Meta()
		warnMetaMismatch(logger, cfg, meta.Resolution, meta.NoDataRaw)
		logger.Info("postgres grid opened",
			"resolution", meta.Resolution,
			"bounds", fmt.Sprintf("(%g,%g)-(%g,%g)", meta.MinEasting, meta.MinNorthing, meta.MaxEasting, meta.MaxNorthing))

		var source snap.Source = src
		if cfg.GridCacheSize > 0 {
			source = pggrid.NewCachedSource(src, cfg.GridCacheSize)
			logger.Info("grid cell cache enabled", "size", cfg.GridCacheSize)
		}
		return source, pool.Close, nil

	case config.BackendSQLite:
		store, err := litegrid.Open(cfg.GridDBPath)
		if err != nil {
			return nil, nil, err
		}
		smp, err := store.Sampler(ctx)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		meta, err := store.ReadMeta(ctx)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		warnMetaMismatch(logger, cfg, meta.Resolution, meta.NoDataRaw)
		logger.Info("sqlite grid opened", "path", cfg.GridDBPath, "resolution", meta.Resolution)
		return snap.SamplerSource(smp), func() { _ = store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown grid backend %q", cfg.GridBackend)
	}
}

// warnMetaMismatch flags config values that disagree with the raster's own
// metadata. Searches align to the configured resolution, so a mismatch
// means probes miss stored cells.
func warnMetaMismatch(logger *slog.Logger, cfg *config.Config, resolution, noDataRaw float64) {
	if resolution != cfg.GridResolution {
		logger.Warn("grid metadata resolution differs from GRID_RESOLUTION",
			"meta", resolution, "config", cfg.GridResolution)
	}
	if noDataRaw != cfg.GridNoDataRaw {
		logger.Warn("grid metadata nodata differs from GRID_NODATA_RAW",
			"meta", noDataRaw, "config", cfg.GridNoDataRaw)
	}
}

func buildGrid(cfg *config.Config, source snap.Source) (*snap.Grid, error) {
	opts := []snap.Option{
		snap.WithResolution(cfg.GridResolution),
		snap.WithNoDataRaw(cfg.GridNoDataRaw),
	}
	if cfg.SnapPolicy == config.PolicyDistance {
		opts = append(opts, snap.WithExtensionPolicy(snap.DistanceBoundPolicy{}))
	}
	return snap.New(source, opts...)
}
