// Command seedgrid generates a synthetic flow-accumulation raster and bulk
// loads it into a grid store. Channels are random walks from the north edge
// of the window down to the south edge; walks that cross sum their flow,
// which reads as a confluence. The same SEED_RANDOM_SEED always produces
// the same raster.
//
// Configuration is read from the environment (a local .env file is
// honoured): GRID_BACKEND, GRID_DB_PATH or GRID_DATABASE_URL,
// GRID_RESOLUTION, GRID_NODATA_RAW, SEED_RANDOM_SEED, SEED_MIN_EASTING,
// SEED_MIN_NORTHING, SEED_WIDTH_CELLS, SEED_HEIGHT_CELLS, SEED_CHANNELS.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strconv"

	"github.com/gosuri/uiprogress"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/glenfinch/river-snap-service/internal/adapter/litegrid"
	"github.com/glenfinch/river-snap-service/internal/adapter/pggrid"
)

const (
	// headwaterStep is the flow added per cell walked, so flow grows
	// monotonically downstream along each channel.
	headwaterStep = 25.0

	loadBatchSize = 1000
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := loadSeedConfig()
	if err != nil {
		return err
	}

	gen := newGenerator(cfg)
	cells := gen.cells()
	log.Printf("generated %d channel cells from %d walks (seed %d)", len(cells), cfg.channels, cfg.seed)

	meta := gridMeta{
		resolution:  cfg.resolution,
		noDataRaw:   cfg.noDataRaw,
		minEasting:  cfg.minEasting,
		minNorthing: cfg.minNorthing,
		maxEasting:  cfg.minEasting + float64(cfg.widthCells-1)*cfg.resolution,
		maxNorthing: cfg.minNorthing + float64(cfg.heightCells-1)*cfg.resolution,
	}

	ctx := context.Background()

	loader, err := openLoader(ctx, cfg)
	if err != nil {
		return err
	}
	defer loader.Close()

	if err := loader.InitSchema(ctx); err != nil {
		return err
	}
	if err := loader.WriteMeta(ctx, meta); err != nil {
		return err
	}

	if err := loadCells(ctx, loader, cells); err != nil {
		return err
	}

	n, err := loader.Count(ctx)
	if err != nil {
		return err
	}
	if n != int64(len(cells)) {
		return fmt.Errorf("store holds %d cells, expected %d", n, len(cells))
	}
	log.Printf("loaded %d cells into %s store", n, cfg.backend)

	printStats(cells, meta)
	return nil
}

func loadCells(ctx context.Context, loader gridLoader, cells []cell) error {
	uiprogress.Start()
	bar := uiprogress.AddBar(len(cells)).AppendCompleted().PrependElapsed()
	defer uiprogress.Stop()

	for start := 0; start < len(cells); start += loadBatchSize {
		end := start + loadBatchSize
		if end > len(cells) {
			end = len(cells)
		}
		if err := loader.LoadBatch(ctx, cells[start:end]); err != nil {
			return fmt.Errorf("load batch at cell %d: %w", start, err)
		}
		for i := start; i < end; i++ {
			bar.Incr()
		}
	}
	return nil
}

// --- configuration ---

type seedConfig struct {
	backend     string
	dbPath      string
	databaseURL string
	resolution  float64
	noDataRaw   float64
	seed        int64
	minEasting  float64
	minNorthing float64
	widthCells  int
	heightCells int
	channels    int
}

func loadSeedConfig() (seedConfig, error) {
	cfg := seedConfig{
		backend:     getEnv("GRID_BACKEND", "sqlite"),
		dbPath:      getEnv("GRID_DB_PATH", "data/ccar.db"),
		databaseURL: os.Getenv("GRID_DATABASE_URL"),
	}

	var err error
	if cfg.resolution, err = getEnvFloat("GRID_RESOLUTION", 50); err != nil {
		return seedConfig{}, err
	}
	if cfg.noDataRaw, err = getEnvFloat("GRID_NODATA_RAW", 2147483647); err != nil {
		return seedConfig{}, err
	}
	if cfg.seed, err = getEnvInt64("SEED_RANDOM_SEED", 1); err != nil {
		return seedConfig{}, err
	}
	if cfg.minEasting, err = getEnvFloat("SEED_MIN_EASTING", 300000); err != nil {
		return seedConfig{}, err
	}
	if cfg.minNorthing, err = getEnvFloat("SEED_MIN_NORTHING", 100000); err != nil {
		return seedConfig{}, err
	}
	if cfg.widthCells, err = getEnvInt("SEED_WIDTH_CELLS", 400); err != nil {
		return seedConfig{}, err
	}
	if cfg.heightCells, err = getEnvInt("SEED_HEIGHT_CELLS", 400); err != nil {
		return seedConfig{}, err
	}
	if cfg.channels, err = getEnvInt("SEED_CHANNELS", 12); err != nil {
		return seedConfig{}, err
	}

	if cfg.backend != "sqlite" && cfg.backend != "postgres" {
		return seedConfig{}, fmt.Errorf("unknown GRID_BACKEND %q", cfg.backend)
	}
	if cfg.backend == "postgres" && cfg.databaseURL == "" {
		return seedConfig{}, fmt.Errorf("GRID_DATABASE_URL is required for the postgres backend")
	}
	if cfg.resolution <= 0 {
		return seedConfig{}, fmt.Errorf("GRID_RESOLUTION must be positive")
	}
	if cfg.widthCells < 2 || cfg.heightCells < 2 {
		return seedConfig{}, fmt.Errorf("SEED_WIDTH_CELLS and SEED_HEIGHT_CELLS must be at least 2")
	}
	if cfg.channels < 1 {
		return seedConfig{}, fmt.Errorf("SEED_CHANNELS must be at least 1")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return v, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return v, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return v, nil
}

// --- raster generation ---

type cellKey struct {
	col, row int
}

type cell struct {
	easting  float64
	northing float64
	value    float64
}

type gridMeta struct {
	resolution  float64
	noDataRaw   float64
	minEasting  float64
	minNorthing float64
	maxEasting  float64
	maxNorthing float64
}

type generator struct {
	rng   *rand.Rand
	cfg   seedConfig
	flows map[cellKey]float64
}

func newGenerator(cfg seedConfig) *generator {
	return &generator{
		rng:   rand.New(rand.NewSource(cfg.seed)),
		cfg:   cfg,
		flows: map[cellKey]float64{},
	}
}

// cells runs all channel walks and returns the accumulated cells in
// row-major order, so the load order is as deterministic as the raster.
func (g *generator) cells() []cell {
	for i := 0; i < g.cfg.channels; i++ {
		g.walkChannel()
	}

	out := make([]cell, 0, len(g.flows))
	for k, flow := range g.flows {
		out = append(out, cell{
			easting:  g.cfg.minEasting + float64(k.col)*g.cfg.resolution,
			northing: g.cfg.minNorthing + float64(k.row)*g.cfg.resolution,
			value:    flow,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].northing != out[j].northing {
			return out[i].northing < out[j].northing
		}
		return out[i].easting < out[j].easting
	})
	return out
}

// walkChannel traces one channel from a random cell on the north edge to
// the south edge, drifting at most one column per row.
func (g *generator) walkChannel() {
	col := g.rng.Intn(g.cfg.widthCells)
	flow := 0.0
	for row := g.cfg.heightCells - 1; row >= 0; row-- {
		flow += headwaterStep
		g.flows[cellKey{col: col, row: row}] += flow

		col += g.rng.Intn(3) - 1
		if col < 0 {
			col = 0
		}
		if col >= g.cfg.widthCells {
			col = g.cfg.widthCells - 1
		}
	}
}

// --- store loading ---

type gridLoader interface {
	InitSchema(ctx context.Context) error
	WriteMeta(ctx context.Context, m gridMeta) error
	LoadBatch(ctx context.Context, batch []cell) error
	Count(ctx context.Context) (int64, error)
	Close()
}

func openLoader(ctx context.Context, cfg seedConfig) (gridLoader, error) {
	if cfg.backend == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to grid database: %w", err)
		}
		return &postgresLoader{pool: pool}, nil
	}

	store, err := litegrid.Open(cfg.dbPath)
	if err != nil {
		return nil, err
	}
	return &sqliteLoader{store: store}, nil
}

type postgresLoader struct {
	pool *pgxpool.Pool
}

func (l *postgresLoader) InitSchema(ctx context.Context) error {
	return pggrid.InitSchema(ctx, l.pool)
}

func (l *postgresLoader) WriteMeta(ctx context.Context, m gridMeta) error {
	return pggrid.WriteMeta(ctx, l.pool, pggrid.Meta{
		Resolution:  m.resolution,
		NoDataRaw:   m.noDataRaw,
		MinEasting:  m.minEasting,
		MinNorthing: m.minNorthing,
		MaxEasting:  m.maxEasting,
		MaxNorthing: m.maxNorthing,
	})
}

func (l *postgresLoader) LoadBatch(ctx context.Context, batch []cell) error {
	cells := make([]pggrid.Cell, len(batch))
	for i, c := range batch {
		cells[i] = pggrid.Cell{Easting: c.easting, Northing: c.northing, Value: c.value}
	}
	n, err := pggrid.CopyCells(ctx, l.pool, cells)
	if err != nil {
		return err
	}
	if n != int64(len(cells)) {
		return fmt.Errorf("copied %d of %d cells", n, len(cells))
	}
	return nil
}

func (l *postgresLoader) Count(ctx context.Context) (int64, error) {
	return pggrid.CountCells(ctx, l.pool)
}

func (l *postgresLoader) Close() {
	l.pool.Close()
}

type sqliteLoader struct {
	store *litegrid.Store
}

func (l *sqliteLoader) InitSchema(ctx context.Context) error {
	return l.store.InitSchema(ctx)
}

func (l *sqliteLoader) WriteMeta(ctx context.Context, m gridMeta) error {
	return l.store.WriteMeta(ctx, litegrid.Meta{
		Resolution:  m.resolution,
		NoDataRaw:   m.noDataRaw,
		MinEasting:  m.minEasting,
		MinNorthing: m.minNorthing,
		MaxEasting:  m.maxEasting,
		MaxNorthing: m.maxNorthing,
	})
}

func (l *sqliteLoader) LoadBatch(ctx context.Context, batch []cell) error {
	cells := make([]litegrid.Cell, len(batch))
	for i, c := range batch {
		cells[i] = litegrid.Cell{Easting: c.easting, Northing: c.northing, Value: c.value}
	}
	return l.store.SeedCells(ctx, cells)
}

func (l *sqliteLoader) Count(ctx context.Context) (int64, error) {
	return l.store.CountCells(ctx)
}

func (l *sqliteLoader) Close() {
	_ = l.store.Close()
}

// --- stats ---

func printStats(cells []cell, meta gridMeta) {
	var maxFlow, total float64
	var overThreshold int
	for _, c := range cells {
		total += c.value
		if c.value > maxFlow {
			maxFlow = c.value
		}
		if c.value >= 200 {
			overThreshold++
		}
	}

	fmt.Println("\n=== raster stats ===")
	fmt.Printf("Bounds: (%g, %g) to (%g, %g) at %gm\n",
		meta.minEasting, meta.minNorthing, meta.maxEasting, meta.maxNorthing, meta.resolution)
	fmt.Printf("Channel cells: %d\n", len(cells))
	fmt.Printf("Max flow: %g\n", maxFlow)
	if len(cells) > 0 {
		fmt.Printf("Mean flow: %.1f\n", total/float64(len(cells)))
	}
	fmt.Printf("Cells with flow >= 200: %d\n", overThreshold)
}
