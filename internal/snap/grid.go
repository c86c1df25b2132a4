package snap

import (
	"fmt"
	"math"
)

// GridPoint is a location on the grid, in projected coordinates (for UK
// grids, British National Grid eastings and northings in metres).
type GridPoint struct {
	Easting  float64
	Northing float64
}

func (p GridPoint) String() string {
	return fmt.Sprintf("(%g, %g)", p.Easting, p.Northing)
}

// Cell is a sampled grid cell. Distance is the Euclidean distance from the
// rounded search center, in coordinate units.
type Cell struct {
	Point    GridPoint
	Value    Value
	Distance float64
}

// Result is the outcome of a search. Found is false when no cell
// qualified; the Cell is then the zero value. Absence of a result is not
// an error.
type Result struct {
	Cell  Cell
	Found bool
}

// Grid runs channel searches over a raster reached through a Source.
// Methods are safe for concurrent use when the Source is.
type Grid struct {
	src       Source
	res       float64
	noDataRaw float64
	policy    ExtensionPolicy
}

// Option configures a Grid.
type Option func(*Grid)

// WithResolution sets the cell size in coordinate units. Default 50.
func WithResolution(res float64) Option {
	return func(g *Grid) { g.res = res }
}

// WithNoDataRaw sets the raw reading treated as missing data. Default
// DefaultNoDataRaw.
func WithNoDataRaw(raw float64) Option {
	return func(g *Grid) { g.noDataRaw = raw }
}

// WithExtensionPolicy sets the over-scan policy Nearest applies after a
// ring produces a new best cell. Default TablePolicy.
func WithExtensionPolicy(p ExtensionPolicy) Option {
	return func(g *Grid) { g.policy = p }
}

// New builds a Grid over src. Configuration errors surface here, before
// any sampling: ErrNilSource for a nil source, ErrResolution for a
// resolution that is not a positive finite number.
func New(src Source, opts ...Option) (*Grid, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	g := &Grid{
		src:       src,
		res:       DefaultResolution,
		noDataRaw: DefaultNoDataRaw,
		policy:    TablePolicy{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.res <= 0 || math.IsNaN(g.res) || math.IsInf(g.res, 0) {
		return nil, ErrResolution
	}
	if g.policy == nil {
		g.policy = TablePolicy{}
	}
	return g, nil
}

// Resolution returns the cell size.
func (g *Grid) Resolution() float64 { return g.res }

// RoundToGrid rounds a coordinate to the nearest grid alignment. Exact
// half-steps round to the even multiple (banker's rounding): at resolution
// 50, 75 rounds to 100 and 25 rounds to 0. Aligned values round to
// themselves.
func (g *Grid) RoundToGrid(x float64) float64 {
	return g.res * math.RoundToEven(x/g.res)
}

func (g *Grid) roundPoint(easting, northing float64) GridPoint {
	return GridPoint{Easting: g.RoundToGrid(easting), Northing: g.RoundToGrid(northing)}
}

// normalize maps a raw reading to a Value, folding the sentinel to NoData.
func (g *Grid) normalize(raw float64) Value {
	if raw == g.noDataRaw {
		return Value{}
	}
	return NewValue(raw)
}
