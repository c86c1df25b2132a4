// Package memgrid provides an in-memory flow-accumulation grid for tests,
// development, and the integration harness.
package memgrid

import (
	"context"
	"fmt"
	"sync"

	"github.com/glenfinch/river-snap-service/internal/snap"
)

// Grid is a map-backed raster with explicit bounds. It implements
// snap.Sampler; wrap it with snap.SamplerSource to use it as a search
// source. Unset cells inside the bounds read as the NoData sentinel.
type Grid struct {
	mu      sync.Mutex
	cells   map[snap.GridPoint]float64
	samples int

	minEasting  float64
	minNorthing float64
	maxEasting  float64
	maxNorthing float64
	noDataRaw   float64
	strict      bool
}

// Option configures a Grid.
type Option func(*Grid)

// WithNoDataRaw overrides the raw sentinel served for empty cells.
func WithNoDataRaw(raw float64) Option {
	return func(g *Grid) { g.noDataRaw = raw }
}

// WithStrictBounds makes sampling outside the bounds fail instead of
// reading as missing data, matching the database-backed sources.
func WithStrictBounds() Option {
	return func(g *Grid) { g.strict = true }
}

// New creates an empty grid covering the inclusive rectangle
// [minEasting, maxEasting] x [minNorthing, maxNorthing].
func New(minEasting, minNorthing, maxEasting, maxNorthing float64, opts ...Option) *Grid {
	g := &Grid{
		cells:       make(map[snap.GridPoint]float64),
		minEasting:  minEasting,
		minNorthing: minNorthing,
		maxEasting:  maxEasting,
		maxNorthing: maxNorthing,
		noDataRaw:   snap.DefaultNoDataRaw,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Set stores a flow reading at the given cell. Coordinates are taken as
// delivered; callers align them to the grid themselves.
func (g *Grid) Set(easting, northing, value float64) {
	g.SetRaw(easting, northing, value)
}

// SetRaw stores a raw reading, including sentinel values, at the given cell.
func (g *Grid) SetRaw(easting, northing, raw float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cells[snap.GridPoint{Easting: easting, Northing: northing}] = raw
}

// Fill stores value at every cell of the step lattice inside the given
// rectangle, inclusive of both edges.
func (g *Grid) Fill(minEasting, minNorthing, maxEasting, maxNorthing, step, value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for e := minEasting; e <= maxEasting; e += step {
		for n := minNorthing; n <= maxNorthing; n += step {
			g.cells[snap.GridPoint{Easting: e, Northing: n}] = value
		}
	}
}

// Sample serves the stored reading, the NoData sentinel for unset cells in
// bounds, and either the sentinel or an error outside the bounds depending
// on the bounds policy.
func (g *Grid) Sample(_ context.Context, p snap.GridPoint) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples++

	if p.Easting < g.minEasting || p.Easting > g.maxEasting ||
		p.Northing < g.minNorthing || p.Northing > g.maxNorthing {
		if g.strict {
			return 0, fmt.Errorf("memgrid: point %v outside grid bounds", p)
		}
		return g.noDataRaw, nil
	}
	if v, ok := g.cells[p]; ok {
		return v, nil
	}
	return g.noDataRaw, nil
}

// SampleCount reports how many samples have been served, for over-scan
// assertions in tests.
func (g *Grid) SampleCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.samples
}

// ResetSampleCount zeroes the sample counter.
func (g *Grid) ResetSampleCount() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples = 0
}

// Source wraps the grid as a search source.
func (g *Grid) Source() snap.Source {
	return snap.SamplerSource(g)
}
