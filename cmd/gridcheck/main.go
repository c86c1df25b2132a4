// Command gridcheck validates a seeded flow-accumulation grid store. It
// verifies the metadata row, cell census, bounds containment, grid
// alignment, channel coverage, and finally re-samples a subset of cells
// through the snap search core to confirm the store serves what it holds.
//
// Configuration is read from the environment (a local .env file is
// honoured): GRID_BACKEND, GRID_DB_PATH or GRID_DATABASE_URL, and
// CHECK_SAMPLES for the re-sampling subset size.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/glenfinch/river-snap-service/internal/adapter/litegrid"
	"github.com/glenfinch/river-snap-service/internal/adapter/pggrid"
	"github.com/glenfinch/river-snap-service/internal/snap"
)

const (
	// A drainage raster is sparse. More than half the window reading as
	// channel means the store was seeded with the wrong data.
	maxChannelFraction = 0.5

	alignTolerance = 1e-6
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := loadCheckConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open grid store: %v\n", err)
		return 1
	}
	defer store.Close()

	fmt.Println("=== Grid Store Validation ===")
	fmt.Println()

	meta, err := store.Meta(ctx)
	if err != nil {
		if errors.Is(err, pggrid.ErrNoMeta) || errors.Is(err, litegrid.ErrNoMeta) {
			fmt.Fprintln(os.Stderr, "FATAL: store has no metadata row; run seedgrid first")
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: read grid metadata: %v\n", err)
		}
		return 1
	}

	count, err := store.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: count grid cells: %v\n", err)
		return 1
	}

	var cells []storeCell
	err = store.ForEach(ctx, func(c storeCell) error {
		cells = append(cells, c)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: iterate grid cells: %v\n", err)
		return 1
	}

	phases := []*phase{
		checkMetadata(meta),
		checkCensus(count, cells),
		checkBounds(meta, cells),
		checkAlignment(meta, cells),
		checkCoverage(meta, cells),
		checkResampling(ctx, store, meta, cells, cfg.samples),
	}

	return report(phases, meta, cells)
}

func report(phases []*phase, meta storeMeta, cells []storeCell) int {
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Store: %d cells, bounds (%g, %g) to (%g, %g) at %gm\n",
		len(cells), meta.minEasting, meta.minNorthing, meta.maxEasting, meta.maxNorthing, meta.resolution)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Metadata ──

func checkMetadata(m storeMeta) *phase {
	p := &phase{name: "Phase 1: Metadata"}

	if m.resolution <= 0 || math.IsNaN(m.resolution) || math.IsInf(m.resolution, 0) {
		p.errorf("resolution %g is not a positive finite number", m.resolution)
		return p
	}
	if math.IsNaN(m.noDataRaw) {
		p.errorf("nodata raw is NaN")
	}
	if m.minEasting >= m.maxEasting {
		p.errorf("easting bounds inverted: min %g >= max %g", m.minEasting, m.maxEasting)
	}
	if m.minNorthing >= m.maxNorthing {
		p.errorf("northing bounds inverted: min %g >= max %g", m.minNorthing, m.maxNorthing)
	}
	for _, b := range []struct {
		name  string
		value float64
	}{
		{"min_easting", m.minEasting},
		{"min_northing", m.minNorthing},
		{"max_easting", m.maxEasting},
		{"max_northing", m.maxNorthing},
	} {
		if !aligned(b.value, m.resolution) {
			p.errorf("%s %g is not aligned to resolution %g", b.name, b.value, m.resolution)
		}
	}
	return p
}

// ── Phase 2: Cell census ──

func checkCensus(count int64, cells []storeCell) *phase {
	p := &phase{name: "Phase 2: Cell census"}

	if count == 0 {
		p.errorf("store holds no cells")
	}
	if count != int64(len(cells)) {
		p.errorf("count query reports %d cells, iteration saw %d", count, len(cells))
	}
	return p
}

// ── Phase 3: Bounds containment ──

func checkBounds(m storeMeta, cells []storeCell) *phase {
	p := &phase{name: "Phase 3: Bounds containment"}

	for _, c := range cells {
		if c.easting < m.minEasting || c.easting > m.maxEasting ||
			c.northing < m.minNorthing || c.northing > m.maxNorthing {
			p.errorf("cell (%g, %g) lies outside bounds", c.easting, c.northing)
		}
	}
	return p
}

// ── Phase 4: Grid alignment ──
// Searches probe only grid-aligned points, so an unaligned cell can never
// be found.

func checkAlignment(m storeMeta, cells []storeCell) *phase {
	p := &phase{name: "Phase 4: Grid alignment"}

	for _, c := range cells {
		if !aligned(c.easting, m.resolution) || !aligned(c.northing, m.resolution) {
			p.errorf("cell (%g, %g) is not aligned to resolution %g", c.easting, c.northing, m.resolution)
		}
	}
	return p
}

// ── Phase 5: Channel coverage ──

func checkCoverage(m storeMeta, cells []storeCell) *phase {
	p := &phase{name: "Phase 5: Channel coverage"}

	cols := int(math.Round((m.maxEasting-m.minEasting)/m.resolution)) + 1
	rows := int(math.Round((m.maxNorthing-m.minNorthing)/m.resolution)) + 1
	window := cols * rows
	if window <= 0 {
		p.errorf("degenerate window: %d columns x %d rows", cols, rows)
		return p
	}

	fraction := float64(len(cells)) / float64(window)
	if len(cells) == 0 {
		p.errorf("no channel cells in a %d-cell window", window)
	} else if fraction > maxChannelFraction {
		p.errorf("%.0f%% of the window reads as channel, expected a sparse raster", fraction*100)
	}
	return p
}

// ── Phase 6: Spot re-sampling ──
// Reads a subset of stored cells back through the snap search core, so the
// whole read path is exercised, not just the SQL.

func checkResampling(ctx context.Context, store checkStore, m storeMeta, cells []storeCell, samples int) *phase {
	p := &phase{name: "Phase 6: Spot re-sampling"}

	if len(cells) == 0 {
		p.errorf("no cells to re-sample")
		return p
	}

	source, err := store.Source(ctx)
	if err != nil {
		p.errorf("open sampler source: %v", err)
		return p
	}

	grid, err := snap.New(source,
		snap.WithResolution(m.resolution),
		snap.WithNoDataRaw(m.noDataRaw))
	if err != nil {
		p.errorf("build snap grid: %v", err)
		return p
	}

	step := len(cells) / samples
	if step < 1 {
		step = 1
	}
	for i := 0; i < len(cells); i += step {
		c := cells[i]

		got, err := grid.ValueAt(ctx, c.easting, c.northing)
		if err != nil {
			p.errorf("cell (%g, %g): sample failed: %v", c.easting, c.northing, err)
			continue
		}
		if got.Value.IsNoData() {
			p.errorf("cell (%g, %g): stored %g but sampled as NoData", c.easting, c.northing, c.value)
			continue
		}
		if got.Value.Float64() != c.value {
			p.errorf("cell (%g, %g): stored %g but sampled %g", c.easting, c.northing, c.value, got.Value.Float64())
			continue
		}

		// An off-centre probe must round back onto the same cell. Skipped
		// on the raster edge, where the probe's ring would leave the bounds.
		if !interior(c, m) {
			continue
		}
		res, err := grid.Nearest(ctx, c.easting+0.4*m.resolution, c.northing, c.value, 1)
		if err != nil {
			p.errorf("cell (%g, %g): nearest probe failed: %v", c.easting, c.northing, err)
			continue
		}
		if !res.Found || res.Cell.Point.Easting != c.easting || res.Cell.Point.Northing != c.northing {
			p.errorf("cell (%g, %g): off-centre probe did not land on the cell", c.easting, c.northing)
		}
	}
	return p
}

// ── Store access ──

type storeMeta struct {
	resolution  float64
	noDataRaw   float64
	minEasting  float64
	minNorthing float64
	maxEasting  float64
	maxNorthing float64
}

type storeCell struct {
	easting  float64
	northing float64
	value    float64
}

type checkStore interface {
	Meta(ctx context.Context) (storeMeta, error)
	Count(ctx context.Context) (int64, error)
	ForEach(ctx context.Context, fn func(storeCell) error) error
	Source(ctx context.Context) (snap.Source, error)
	Close()
}

type checkConfig struct {
	backend     string
	dbPath      string
	databaseURL string
	samples     int
}

func loadCheckConfig() (checkConfig, error) {
	cfg := checkConfig{
		backend:     getEnv("GRID_BACKEND", "sqlite"),
		dbPath:      getEnv("GRID_DB_PATH", "data/ccar.db"),
		databaseURL: os.Getenv("GRID_DATABASE_URL"),
		samples:     25,
	}
	if s := os.Getenv("CHECK_SAMPLES"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return checkConfig{}, fmt.Errorf("invalid CHECK_SAMPLES: %q", s)
		}
		cfg.samples = v
	}

	switch cfg.backend {
	case "sqlite":
		if cfg.dbPath == "" {
			return checkConfig{}, fmt.Errorf("GRID_DB_PATH is required for the sqlite backend")
		}
	case "postgres":
		if cfg.databaseURL == "" {
			return checkConfig{}, fmt.Errorf("GRID_DATABASE_URL is required for the postgres backend")
		}
	default:
		return checkConfig{}, fmt.Errorf("unknown GRID_BACKEND %q", cfg.backend)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func openStore(ctx context.Context, cfg checkConfig) (checkStore, error) {
	if cfg.backend == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to grid database: %w", err)
		}
		return &postgresStore{pool: pool}, nil
	}

	store, err := litegrid.Open(cfg.dbPath)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{store: store}, nil
}

type postgresStore struct {
	pool *pgxpool.Pool
}

func (s *postgresStore) Meta(ctx context.Context) (storeMeta, error) {
	m, err := pggrid.ReadMeta(ctx, s.pool)
	if err != nil {
		return storeMeta{}, err
	}
	return storeMeta{
		resolution:  m.Resolution,
		noDataRaw:   m.NoDataRaw,
		minEasting:  m.MinEasting,
		minNorthing: m.MinNorthing,
		maxEasting:  m.MaxEasting,
		maxNorthing: m.MaxNorthing,
	}, nil
}

func (s *postgresStore) Count(ctx context.Context) (int64, error) {
	return pggrid.CountCells(ctx, s.pool)
}

func (s *postgresStore) ForEach(ctx context.Context, fn func(storeCell) error) error {
	return pggrid.ForEachCell(ctx, s.pool, func(c pggrid.Cell) error {
		return fn(storeCell{easting: c.Easting, northing: c.Northing, value: c.Value})
	})
}

func (s *postgresStore) Source(ctx context.Context) (snap.Source, error) {
	return pggrid.NewPoolSource(ctx, s.pool)
}

func (s *postgresStore) Close() {
	s.pool.Close()
}

type sqliteStore struct {
	store *litegrid.Store
}

func (s *sqliteStore) Meta(ctx context.Context) (storeMeta, error) {
	m, err := s.store.ReadMeta(ctx)
	if err != nil {
		return storeMeta{}, err
	}
	return storeMeta{
		resolution:  m.Resolution,
		noDataRaw:   m.NoDataRaw,
		minEasting:  m.MinEasting,
		minNorthing: m.MinNorthing,
		maxEasting:  m.MaxEasting,
		maxNorthing: m.MaxNorthing,
	}, nil
}

func (s *sqliteStore) Count(ctx context.Context) (int64, error) {
	return s.store.CountCells(ctx)
}

func (s *sqliteStore) ForEach(ctx context.Context, fn func(storeCell) error) error {
	return s.store.ForEachCell(ctx, func(c litegrid.Cell) error {
		return fn(storeCell{easting: c.Easting, northing: c.Northing, value: c.Value})
	})
}

func (s *sqliteStore) Source(ctx context.Context) (snap.Source, error) {
	smp, err := s.store.Sampler(ctx)
	if err != nil {
		return nil, err
	}
	return snap.SamplerSource(smp), nil
}

func (s *sqliteStore) Close() {
	_ = s.store.Close()
}

// ── Helpers ──

func aligned(x, res float64) bool {
	return math.Abs(x-res*math.Round(x/res)) <= alignTolerance
}

func interior(c storeCell, m storeMeta) bool {
	return c.easting-m.resolution >= m.minEasting && c.easting+m.resolution <= m.maxEasting &&
		c.northing-m.resolution >= m.minNorthing && c.northing+m.resolution <= m.maxNorthing
}
