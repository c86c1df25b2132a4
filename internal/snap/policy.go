package snap

import "math"

// ExtensionPolicy decides how many rings past the current one Nearest
// keeps scanning after a ring produced a new best cell. Rings order cells
// by Chebyshev distance while the search wants Euclidean distance: the
// corner of ring d lies farther out than the edge of every ring up to
// floor(d*sqrt(2)), so a nearer qualifying cell can still appear on a
// later ring.
type ExtensionPolicy interface {
	// Extra returns the number of additional rings to scan, given the
	// depth of the ring that produced the new best, that cell's distance
	// from the center, and the grid resolution.
	Extra(depth int, bestDistance, resolution float64) int
}

// DepthCheckTable holds the per-depth over-scan allowance used by
// TablePolicy: floor(depth*sqrt(2)) - depth, clamped so depth plus the
// allowance never exceeds 20, the historical default search horizon.
var DepthCheckTable = map[int]int{
	0: 0, 1: 0, 2: 0, 3: 1, 4: 1, 5: 2, 6: 2, 7: 2, 8: 3, 9: 3,
	10: 4, 11: 4, 12: 4, 13: 5, 14: 5, 15: 5, 16: 4, 17: 3, 18: 2,
	19: 1, 20: 0,
}

// TablePolicy extends the scan by the precomputed DepthCheckTable
// allowance. Past the end of the table it uses the unclamped
// floor(depth*sqrt(2)) - depth bound: the table's taper above depth 15
// encodes the historical horizon, not ring geometry.
type TablePolicy struct{}

func (TablePolicy) Extra(depth int, bestDistance, resolution float64) int {
	if extra, ok := DepthCheckTable[depth]; ok {
		return extra
	}
	if depth < 0 {
		return 0
	}
	return int(math.Floor(float64(depth)*math.Sqrt2)) - depth
}

// DistanceBoundPolicy derives the allowance from the best distance found
// so far. The nearest cell of ring r sits at r*resolution from the center,
// so rings beyond bestDistance/resolution can neither beat the best nor
// tie it, and the scan stops there.
type DistanceBoundPolicy struct{}

func (DistanceBoundPolicy) Extra(depth int, bestDistance, resolution float64) int {
	if resolution <= 0 {
		return 0
	}
	extra := int(math.Floor(bestDistance/resolution)) - depth
	if extra < 0 {
		return 0
	}
	return extra
}
