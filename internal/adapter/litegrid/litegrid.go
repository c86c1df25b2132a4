// Package litegrid stores flow-accumulation grids in SQLite for
// single-node deployments and local development.
//
// The store follows the same sparse contract as pggrid: only
// channel-bearing cells have rows, a missing row inside the raster bounds
// reads as the NoData raw, and a query outside the bounds is an error.
package litegrid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/glenfinch/river-snap-service/internal/snap"
)

// ErrNoMeta is returned when the grid database has no metadata row,
// meaning it was never seeded.
var ErrNoMeta = errors.New("litegrid: grid metadata not present")

// Meta describes the raster a grid database stores.
type Meta struct {
	Resolution  float64
	NoDataRaw   float64
	MinEasting  float64
	MinNorthing float64
	MaxEasting  float64
	MaxNorthing float64
}

// Contains reports whether p lies inside the raster bounds.
func (m Meta) Contains(p snap.GridPoint) bool {
	return p.Easting >= m.MinEasting && p.Easting <= m.MaxEasting &&
		p.Northing >= m.MinNorthing && p.Northing <= m.MaxNorthing
}

// Cell is one stored channel cell.
type Cell struct {
	Easting  float64
	Northing float64
	Value    float64
}

// Store is a SQLite-backed grid store.
type Store struct {
	db *sql.DB
}

// Open opens the grid database at path, creating the file if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open grid database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify grid database %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the grid tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init grid schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS grid_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			resolution REAL NOT NULL,
			nodata_raw REAL NOT NULL,
			min_easting REAL NOT NULL,
			min_northing REAL NOT NULL,
			max_easting REAL NOT NULL,
			max_northing REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS grid_cells (
			easting REAL NOT NULL,
			northing REAL NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (easting, northing)
		);`,
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init grid schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init grid schema: commit tx: %w", err)
	}
	return nil
}

// WriteMeta inserts or replaces the raster description row.
func (s *Store) WriteMeta(ctx context.Context, meta Meta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO grid_meta
			(id, resolution, nodata_raw, min_easting, min_northing, max_easting, max_northing)
		VALUES (1, ?, ?, ?, ?, ?, ?);`,
		meta.Resolution, meta.NoDataRaw,
		meta.MinEasting, meta.MinNorthing, meta.MaxEasting, meta.MaxNorthing)
	if err != nil {
		return fmt.Errorf("write grid meta: %w", err)
	}
	return nil
}

// ReadMeta loads the raster description, or ErrNoMeta when the store was
// never seeded.
func (s *Store) ReadMeta(ctx context.Context) (Meta, error) {
	var m Meta
	err := s.db.QueryRowContext(ctx, `
		SELECT resolution, nodata_raw, min_easting, min_northing, max_easting, max_northing
		FROM grid_meta WHERE id = 1;`).
		Scan(&m.Resolution, &m.NoDataRaw, &m.MinEasting, &m.MinNorthing, &m.MaxEasting, &m.MaxNorthing)
	if errors.Is(err, sql.ErrNoRows) {
		return Meta{}, ErrNoMeta
	}
	if err != nil {
		return Meta{}, fmt.Errorf("read grid meta: %w", err)
	}
	return m, nil
}

// SeedCells inserts cells with a prepared statement inside one
// transaction. Existing cells at the same coordinates are replaced.
func (s *Store) SeedCells(ctx context.Context, cells []Cell) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed grid cells: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO grid_cells (easting, northing, value)
		VALUES (?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("seed grid cells: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cells {
		if _, err := stmt.ExecContext(ctx, c.Easting, c.Northing, c.Value); err != nil {
			return fmt.Errorf("seed grid cells: insert (%g, %g): %w", c.Easting, c.Northing, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed grid cells: commit tx: %w", err)
	}
	return nil
}

// CountCells returns the number of stored channel cells.
func (s *Store) CountCells(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM grid_cells;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count grid cells: %w", err)
	}
	return n, nil
}

// ForEachCell streams every stored cell to fn, stopping at the first error.
func (s *Store) ForEachCell(ctx context.Context, fn func(Cell) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT easting, northing, value FROM grid_cells;`)
	if err != nil {
		return fmt.Errorf("iterate grid cells: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Cell
		if err := rows.Scan(&c.Easting, &c.Northing, &c.Value); err != nil {
			return fmt.Errorf("iterate grid cells: scan row: %w", err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate grid cells: row iteration: %w", err)
	}
	return nil
}

// Sampler returns a long-lived sampler over the stored raster, reading the
// metadata row once. *sql.DB pools connections itself, so one sampler
// serves concurrent searches; wrap it with snap.SamplerSource.
func (s *Store) Sampler(ctx context.Context) (snap.Sampler, error) {
	meta, err := s.ReadMeta(ctx)
	if err != nil {
		return nil, err
	}
	return &storeSampler{db: s.db, meta: meta}, nil
}

type storeSampler struct {
	db   *sql.DB
	meta Meta
}

func (ss *storeSampler) Sample(ctx context.Context, p snap.GridPoint) (float64, error) {
	if !ss.meta.Contains(p) {
		return 0, fmt.Errorf("point %v outside grid bounds", p)
	}
	var v float64
	err := ss.db.QueryRowContext(ctx,
		`SELECT value FROM grid_cells WHERE easting = ? AND northing = ?;`,
		p.Easting, p.Northing).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return ss.meta.NoDataRaw, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sample grid cell: %w", err)
	}
	return v, nil
}
