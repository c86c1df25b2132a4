package snap

import "context"

// ValueAt samples the single cell nearest the given location. The location
// is rounded to the grid first; Distance on the returned cell is zero.
func (g *Grid) ValueAt(ctx context.Context, easting, northing float64) (Cell, error) {
	center := g.roundPoint(easting, northing)
	smp, release, err := g.src.Acquire(ctx)
	if err != nil {
		return Cell{}, err
	}
	defer release()
	return g.sampleCell(ctx, smp, ringCell{point: center})
}

// Square samples the full (2*depth+1)-sided square around the rounded
// center and returns the cells in enumeration order. Depth 0 returns the
// center cell alone; negative depth is ErrDepth. NoData cells are
// included.
func (g *Grid) Square(ctx context.Context, easting, northing float64, depth int) ([]Cell, error) {
	if depth < 0 {
		return nil, ErrDepth
	}
	center := g.roundPoint(easting, northing)
	smp, release, err := g.src.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return g.sampleRing(ctx, smp, center, depth, false)
}

// Largest returns the best cell of the full square around the rounded
// center: the largest value wins, ties go to the cell closer to the
// center, remaining ties to enumeration order. The square always contains
// the center cell, so on success Found is true even when every cell is
// NoData. Depth must be at least 1.
func (g *Grid) Largest(ctx context.Context, easting, northing float64, depth int) (Result, error) {
	if depth < 1 {
		return Result{}, ErrDepth
	}
	center := g.roundPoint(easting, northing)
	smp, release, err := g.src.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	cells, err := g.sampleRing(ctx, smp, center, depth, false)
	if err != nil {
		return Result{}, err
	}

	best := cells[0]
	for _, c := range cells[1:] {
		switch c.Value.Compare(best.Value) {
		case 1:
			best = c
		case 0:
			if c.Distance < best.Distance {
				best = c
			}
		}
	}
	return Result{Cell: best, Found: true}, nil
}

// Nearest finds the closest cell whose value is at least minValue,
// scanning square rings outward from the rounded center up to maxDepth
// rings away. A candidate replaces the incumbent only on strictly smaller
// distance, or on equal distance with strictly larger value, so the first
// qualifying cell in enumeration order wins among exact ties.
//
// Because ring order is not Euclidean order, the scan does not stop at the
// first hit: each ring that yields a new best extends the scan by the
// rings the extension policy allows, and the allowance is only ever
// raised, never cut short by a later smaller one. When nothing qualifies
// within maxDepth the result has Found false and the error is nil.
// maxDepth must be at least 1.
func (g *Grid) Nearest(ctx context.Context, easting, northing, minValue float64, maxDepth int) (Result, error) {
	if maxDepth < 1 {
		return Result{}, ErrDepth
	}
	center := g.roundPoint(easting, northing)
	smp, release, err := g.src.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	var (
		best      Cell
		found     bool
		remaining int
	)
	for depth := 0; depth <= maxDepth; depth++ {
		if found {
			if remaining == 0 {
				break
			}
			remaining--
		}

		cells, err := g.sampleRing(ctx, smp, center, depth, true)
		if err != nil {
			return Result{}, err
		}

		improved := false
		for _, c := range cells {
			if !c.Value.AtLeast(minValue) {
				continue
			}
			if !found || c.Distance < best.Distance ||
				(c.Distance == best.Distance && c.Value.Compare(best.Value) > 0) {
				best = c
				found = true
				improved = true
			}
		}

		if improved {
			if extra := g.policy.Extra(depth, best.Distance, g.res); extra > remaining {
				remaining = extra
			}
		}
	}

	if !found {
		return Result{}, nil
	}
	return Result{Cell: best, Found: true}, nil
}

func (g *Grid) sampleRing(ctx context.Context, smp Sampler, center GridPoint, depth int, perimeterOnly bool) ([]Cell, error) {
	ring := ringCells(center, depth, perimeterOnly, g.res)
	cells := make([]Cell, 0, len(ring))
	for _, rc := range ring {
		c, err := g.sampleCell(ctx, smp, rc)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, nil
}

func (g *Grid) sampleCell(ctx context.Context, smp Sampler, rc ringCell) (Cell, error) {
	raw, err := smp.Sample(ctx, rc.point)
	if err != nil {
		return Cell{}, &SampleError{Point: rc.point, Err: err}
	}
	return Cell{Point: rc.point, Value: g.normalize(raw), Distance: rc.dist}, nil
}
