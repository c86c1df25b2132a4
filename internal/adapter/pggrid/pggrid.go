// Package pggrid serves flow-accumulation grids from PostgreSQL.
//
// The store is sparse: only channel-bearing cells get a row, and the
// single-row grid_meta table describes the raster they came from. A query
// for a missing cell inside the raster bounds reads as the NoData raw; a
// query outside the bounds is an error, since it means the search wandered
// off the raster entirely. Queries are expected to be grid-aligned; the
// search core rounds coordinates before sampling.
package pggrid

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glenfinch/river-snap-service/internal/snap"
)

// ErrNoMeta is returned when the grid database has no metadata row,
// meaning it was never seeded.
var ErrNoMeta = errors.New("pggrid: grid metadata not present")

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS grid_meta (
		id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		resolution DOUBLE PRECISION NOT NULL,
		nodata_raw DOUBLE PRECISION NOT NULL,
		min_easting DOUBLE PRECISION NOT NULL,
		min_northing DOUBLE PRECISION NOT NULL,
		max_easting DOUBLE PRECISION NOT NULL,
		max_northing DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grid_cells (
		easting DOUBLE PRECISION NOT NULL,
		northing DOUBLE PRECISION NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (easting, northing)
	)`,
}

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

// InitSchema creates the grid tables if they do not exist.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init grid schema: %w", err)
		}
	}
	return nil
}

// WriteMeta inserts or replaces the raster description row.
func WriteMeta(ctx context.Context, pool *pgxpool.Pool, meta Meta) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO grid_meta (id, resolution, nodata_raw, min_easting, min_northing, max_easting, max_northing)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			resolution = EXCLUDED.resolution,
			nodata_raw = EXCLUDED.nodata_raw,
			min_easting = EXCLUDED.min_easting,
			min_northing = EXCLUDED.min_northing,
			max_easting = EXCLUDED.max_easting,
			max_northing = EXCLUDED.max_northing`,
		meta.Resolution, meta.NoDataRaw,
		meta.MinEasting, meta.MinNorthing, meta.MaxEasting, meta.MaxNorthing,
	)
	if err != nil {
		return fmt.Errorf("write grid meta: %w", err)
	}
	return nil
}

// ReadMeta loads the raster description, or ErrNoMeta when the store was
// never seeded.
func ReadMeta(ctx context.Context, pool *pgxpool.Pool) (Meta, error) {
	var m Meta
	err := pool.QueryRow(ctx, `
		SELECT resolution, nodata_raw, min_easting, min_northing, max_easting, max_northing
		FROM grid_meta WHERE id = 1`).
		Scan(&m.Resolution, &m.NoDataRaw, &m.MinEasting, &m.MinNorthing, &m.MaxEasting, &m.MaxNorthing)
	if errors.Is(err, pgx.ErrNoRows) {
		return Meta{}, ErrNoMeta
	}
	if err != nil {
		return Meta{}, fmt.Errorf("read grid meta: %w", err)
	}
	return m, nil
}

// CopyCells bulk-loads cells over the COPY protocol and reports how many
// rows were written.
func CopyCells(ctx context.Context, pool *pgxpool.Pool, cells []Cell) (int64, error) {
	rows := make([][]any, len(cells))
	for i, c := range cells {
		rows[i] = []any{c.Easting, c.Northing, c.Value}
	}
	n, err := pool.CopyFrom(ctx, pgx.Identifier{"grid_cells"},
		[]string{"easting", "northing", "value"}, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy grid cells: %w", err)
	}
	return n, nil
}

// CountCells returns the number of stored channel cells.
func CountCells(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	var n int64
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM grid_cells`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count grid cells: %w", err)
	}
	return n, nil
}

// ForEachCell streams every stored cell to fn, stopping at the first error.
func ForEachCell(ctx context.Context, pool *pgxpool.Pool, fn func(Cell) error) error {
	rows, err := pool.Query(ctx, `SELECT easting, northing, value FROM grid_cells`)
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

// PoolSource serves samples from a PostgreSQL pool. Each search checks one
// connection out for its lifetime, so concurrent searches never share a
// connection.
type PoolSource struct {
	pool *pgxpool.Pool
	meta Meta
}

// NewPoolSource binds a pool to the stored raster, reading the metadata row
// once up front.
func NewPoolSource(ctx context.Context, pool *pgxpool.Pool) (*PoolSource, error) {
	meta, err := ReadMeta(ctx, pool)
	if err != nil {
		return nil, err
	}
	return &PoolSource{pool: pool, meta: meta}, nil
}

// Meta returns the raster description read at bind time.
func (s *PoolSource) Meta() Meta { return s.meta }

// Acquire checks a connection out of the pool and wraps it as a Sampler;
// the release func returns it to the pool.
func (s *PoolSource) Acquire(ctx context.Context) (snap.Sampler, func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire grid connection: %w", err)
	}
	return &connSampler{conn: conn, meta: s.meta}, conn.Release, nil
}

type connSampler struct {
	conn *pgxpool.Conn
	meta Meta
}

func (cs *connSampler) Sample(ctx context.Context, p snap.GridPoint) (float64, error) {
	if !cs.meta.Contains(p) {
		return 0, fmt.Errorf("point %v outside grid bounds", p)
	}
	var v float64
	err := cs.conn.QueryRow(ctx,
		`SELECT value FROM grid_cells WHERE easting = $1 AND northing = $2`,
		p.Easting, p.Northing).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return cs.meta.NoDataRaw, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sample grid cell: %w", err)
	}
	return v, nil
}
