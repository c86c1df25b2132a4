package snap

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zeroPolicy never extends the scan past the ring that produced a hit.
type zeroPolicy struct{}

func (zeroPolicy) Extra(int, float64, float64) int { return 0 }

func TestNearestCenterQualifies(t *testing.T) {
	f := newFakeSampler(0)
	f.set(0, 0, 500)
	g := newTestGrid(t, f)

	res, err := g.Nearest(context.Background(), 0, 0, 200, 20)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, GridPoint{}, res.Cell.Point)
	assert.Equal(t, 500.0, res.Cell.Value.Float64())
	assert.Zero(t, res.Cell.Distance)
	assert.Equal(t, 1, f.samples, "a qualifying center ends the scan")
}

func TestNearestFirstHitNotWinner(t *testing.T) {
	// The ring 3 corner sits at distance 150*sqrt(2) ~ 212, farther than
	// the ring 4 cell straight east at 200. Chebyshev order finds the
	// corner first; the extension keeps scanning and the axis cell wins.
	build := func() *fakeSampler {
		f := newFakeSampler(0)
		f.set(150, 150, 250)
		f.set(200, 0, 220)
		return f
	}

	t.Run("extension finds the closer cell", func(t *testing.T) {
		g := newTestGrid(t, build())

		res, err := g.Nearest(context.Background(), 0, 0, 200, 20)
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.Equal(t, GridPoint{Easting: 200, Northing: 0}, res.Cell.Point)
		assert.Equal(t, 200.0, res.Cell.Distance)
		assert.Equal(t, 220.0, res.Cell.Value.Float64())
	})

	t.Run("without extension the corner wins", func(t *testing.T) {
		g := newTestGrid(t, build(), WithExtensionPolicy(zeroPolicy{}))

		res, err := g.Nearest(context.Background(), 0, 0, 200, 20)
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.Equal(t, GridPoint{Easting: 150, Northing: 150}, res.Cell.Point)
	})
}

func TestNearestDistanceTies(t *testing.T) {
	// (-50, 0) enumerates before (0, -50) on ring 1; both are 50 away.
	tests := []struct {
		name       string
		westValue  float64
		southValue float64
		wantPoint  GridPoint
		wantValue  float64
	}{
		{
			name: "later larger value wins", westValue: 250, southValue: 400,
			wantPoint: GridPoint{Easting: 0, Northing: -50}, wantValue: 400,
		},
		{
			name: "earlier larger value wins", westValue: 400, southValue: 250,
			wantPoint: GridPoint{Easting: -50, Northing: 0}, wantValue: 400,
		},
		{
			name: "equal values keep the first", westValue: 300, southValue: 300,
			wantPoint: GridPoint{Easting: -50, Northing: 0}, wantValue: 300,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSampler(0)
			f.set(-50, 0, tt.westValue)
			f.set(0, -50, tt.southValue)
			g := newTestGrid(t, f)

			res, err := g.Nearest(context.Background(), 0, 0, 200, 20)
			require.NoError(t, err)
			require.True(t, res.Found)
			assert.Equal(t, tt.wantPoint, res.Cell.Point)
			assert.Equal(t, tt.wantValue, res.Cell.Value.Float64())
			assert.Equal(t, 50.0, res.Cell.Distance)
		})
	}
}

func TestNearestDeterministic(t *testing.T) {
	f := newFakeSampler(0)
	f.set(-100, 150, 320)
	f.set(150, -100, 320)
	f.set(250, 0, 500)
	g := newTestGrid(t, f)

	first, err := g.Nearest(context.Background(), 12, -9, 300, 20)
	require.NoError(t, err)
	second, err := g.Nearest(context.Background(), 12, -9, 300, 20)
	require.NoError(t, err)

	require.True(t, first.Found)
	assert.Equal(t, first, second)
}

func TestNearestNoDataNeverQualifies(t *testing.T) {
	f := newFakeSampler(DefaultNoDataRaw)
	g := newTestGrid(t, f)

	res, err := g.Nearest(context.Background(), 0, 0, -1e6, 5)
	require.NoError(t, err)
	assert.False(t, res.Found, "missing data must not satisfy any threshold")

	// A valid reading qualifies against the same threshold.
	f.set(50, 0, -5)
	res, err = g.Nearest(context.Background(), 0, 0, -10, 5)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, GridPoint{Easting: 50, Northing: 0}, res.Cell.Point)
	assert.Equal(t, -5.0, res.Cell.Value.Float64())
}

func TestNearestNothingWithinHorizon(t *testing.T) {
	f := newFakeSampler(0)
	f.set(300, 0, 500)
	g := newTestGrid(t, f)

	res, err := g.Nearest(context.Background(), 0, 0, 200, 3)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, Cell{}, res.Cell)

	res, err = g.Nearest(context.Background(), 0, 0, 200, 6)
	require.NoError(t, err)
	assert.True(t, res.Found)
}

func TestNearestHorizonTruncatesExtension(t *testing.T) {
	// The extension wants ring 4, where a closer cell waits, but the
	// horizon ends at ring 3. The corner hit stands.
	f := newFakeSampler(0)
	f.set(150, 150, 250)
	f.set(200, 0, 300)
	g := newTestGrid(t, f)

	res, err := g.Nearest(context.Background(), 0, 0, 200, 3)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, GridPoint{Easting: 150, Northing: 150}, res.Cell.Point)
}

func TestNearestSampleCounts(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*fakeSampler)
		wantSamples int
	}{
		{
			name:        "center hit",
			setup:       func(f *fakeSampler) { f.set(0, 0, 500) },
			wantSamples: 1,
		},
		{
			name:        "ring one hit scans no further",
			setup:       func(f *fakeSampler) { f.set(50, 0, 500) },
			wantSamples: 1 + 8,
		},
		{
			name: "ring three hit extends exactly one ring",
			setup: func(f *fakeSampler) {
				f.set(150, 150, 500)
			},
			wantSamples: 1 + 8 + 16 + 24 + 32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSampler(0)
			tt.setup(f)
			g := newTestGrid(t, f)

			res, err := g.Nearest(context.Background(), 0, 0, 200, 20)
			require.NoError(t, err)
			require.True(t, res.Found)
			assert.Equal(t, tt.wantSamples, f.samples)
		})
	}
}

func TestNearestInvalidDepth(t *testing.T) {
	f := newFakeSampler(0)
	g := newTestGrid(t, f)

	for _, depth := range []int{0, -2} {
		res, err := g.Nearest(context.Background(), 0, 0, 200, depth)
		assert.ErrorIs(t, err, ErrDepth)
		assert.False(t, res.Found)
	}
	assert.Zero(t, f.samples, "invalid depth must be rejected before sampling")
}

func TestNearestSamplerFailure(t *testing.T) {
	cause := errors.New("raster store offline")
	f := newFakeSampler(0)
	f.failPoint = GridPoint{Easting: 100, Northing: 0}
	f.failErr = cause
	g := newTestGrid(t, f)

	res, err := g.Nearest(context.Background(), 0, 0, 200, 20)
	require.Error(t, err)
	assert.False(t, res.Found)

	var se *SampleError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, GridPoint{Easting: 100, Northing: 0}, se.Point)
	assert.ErrorIs(t, err, cause)
}

func TestSearchesScopeOneSamplerEach(t *testing.T) {
	f := newFakeSampler(0)
	f.set(0, 0, 500)
	cs := &countingSource{sampler: f}
	g, err := New(cs)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = g.Nearest(ctx, 0, 0, 200, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, cs.acquires)
	assert.Equal(t, 1, cs.releases)

	_, err = g.Largest(ctx, 0, 0, 1)
	require.NoError(t, err)
	_, err = g.Square(ctx, 0, 0, 1)
	require.NoError(t, err)
	_, err = g.ValueAt(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, cs.acquires)
	assert.Equal(t, 4, cs.releases)

	// Validation failures never acquire; sampler failures still release.
	_, err = g.Nearest(ctx, 0, 0, 200, 0)
	require.ErrorIs(t, err, ErrDepth)
	assert.Equal(t, 4, cs.acquires)

	f.failPoint = GridPoint{Easting: 50, Northing: 50}
	f.failErr = errors.New("boom")
	f.cells = map[GridPoint]float64{}
	_, err = g.Nearest(ctx, 0, 0, 200, 5)
	require.Error(t, err)
	assert.Equal(t, 5, cs.acquires)
	assert.Equal(t, 5, cs.releases)
}

func TestNearestRiverSnapScenario(t *testing.T) {
	// A monitoring site at (1000, 2000) with two channel cells nearby:
	// 250 on the ring 1 corner at ~70.7 and 300 due south at exactly 50.
	// Both land on ring 1; the corner enumerates first but the south cell
	// is closer.
	f := newFakeSampler(0)
	f.set(1050, 2050, 250)
	f.set(1000, 1950, 300)
	g := newTestGrid(t, f)

	res, err := g.Nearest(context.Background(), 1000, 2000, 200, 20)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, GridPoint{Easting: 1000, Northing: 1950}, res.Cell.Point)
	assert.Equal(t, 300.0, res.Cell.Value.Float64())
	assert.Equal(t, 50.0, res.Cell.Distance)
	assert.Equal(t, 9, f.samples, "both candidates resolve within ring 1")
}

func TestNearestRoundsCenterFirst(t *testing.T) {
	f := newFakeSampler(0)
	f.set(1050, 2000, 500)
	g := newTestGrid(t, f)

	res, err := g.Nearest(context.Background(), 1024.9, 1975.1, 200, 5)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, GridPoint{Easting: 1050, Northing: 2000}, res.Cell.Point)
	assert.Equal(t, 50.0, res.Cell.Distance, "distance is measured from the rounded center")
}

func TestLargestPicksBestValue(t *testing.T) {
	f := newFakeSampler(0)
	f.set(0, 0, 100)
	f.set(50, 50, 500)
	g := newTestGrid(t, f)

	res, err := g.Largest(context.Background(), 0, 0, 1)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, GridPoint{Easting: 50, Northing: 50}, res.Cell.Point)
	assert.Equal(t, 500.0, res.Cell.Value.Float64())
	assert.InDelta(t, 50*math.Sqrt2, res.Cell.Distance, 1e-9)
}

func TestLargestValueTies(t *testing.T) {
	t.Run("closer cell wins the tie", func(t *testing.T) {
		f := newFakeSampler(0)
		f.set(-50, -50, 400)
		f.set(50, 0, 400)
		g := newTestGrid(t, f)

		res, err := g.Largest(context.Background(), 0, 0, 1)
		require.NoError(t, err)
		assert.Equal(t, GridPoint{Easting: 50, Northing: 0}, res.Cell.Point)
	})

	t.Run("equal distance keeps the first enumerated", func(t *testing.T) {
		f := newFakeSampler(0)
		f.set(-50, 0, 400)
		f.set(50, 0, 400)
		g := newTestGrid(t, f)

		res, err := g.Largest(context.Background(), 0, 0, 1)
		require.NoError(t, err)
		assert.Equal(t, GridPoint{Easting: -50, Northing: 0}, res.Cell.Point)
	})

	t.Run("center beats equal neighbors", func(t *testing.T) {
		f := newFakeSampler(0)
		f.set(0, 0, 400)
		f.set(0, 50, 400)
		g := newTestGrid(t, f)

		res, err := g.Largest(context.Background(), 0, 0, 1)
		require.NoError(t, err)
		assert.Equal(t, GridPoint{}, res.Cell.Point)
		assert.Zero(t, res.Cell.Distance)
	})
}

func TestLargestAllNoData(t *testing.T) {
	f := newFakeSampler(DefaultNoDataRaw)
	g := newTestGrid(t, f)

	res, err := g.Largest(context.Background(), 0, 0, 2)
	require.NoError(t, err)
	require.True(t, res.Found, "a square always holds at least the center")
	assert.Equal(t, GridPoint{}, res.Cell.Point)
	assert.True(t, res.Cell.Value.IsNoData())
}

func TestLargestSingleValidCell(t *testing.T) {
	f := newFakeSampler(DefaultNoDataRaw)
	f.set(-100, 50, 1)
	g := newTestGrid(t, f)

	res, err := g.Largest(context.Background(), 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, GridPoint{Easting: -100, Northing: 50}, res.Cell.Point)
	assert.Equal(t, 1.0, res.Cell.Value.Float64())
}

func TestLargestInvalidDepth(t *testing.T) {
	g := newTestGrid(t, newFakeSampler(0))

	for _, depth := range []int{0, -1} {
		_, err := g.Largest(context.Background(), 0, 0, depth)
		assert.ErrorIs(t, err, ErrDepth)
	}
}

func TestSquare(t *testing.T) {
	f := newFakeSampler(DefaultNoDataRaw)
	f.set(0, 0, 120)
	f.set(50, 50, 340)
	g := newTestGrid(t, f)

	cells, err := g.Square(context.Background(), 0, 0, 1)
	require.NoError(t, err)
	require.Len(t, cells, 9)

	wantPoints := []GridPoint{
		{-50, -50}, {-50, 0}, {-50, 50},
		{0, -50}, {0, 0}, {0, 50},
		{50, -50}, {50, 0}, {50, 50},
	}
	for i, c := range cells {
		assert.Equal(t, wantPoints[i], c.Point, "position %d", i)
	}

	assert.Equal(t, 120.0, cells[4].Value.Float64())
	assert.Equal(t, 340.0, cells[8].Value.Float64())
	assert.True(t, cells[0].Value.IsNoData(), "missing cells are included, not skipped")
}

func TestSquareDepthZero(t *testing.T) {
	f := newFakeSampler(0)
	f.set(0, 0, 75)
	g := newTestGrid(t, f)

	cells, err := g.Square(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, 75.0, cells[0].Value.Float64())

	_, err = g.Square(context.Background(), 0, 0, -1)
	assert.ErrorIs(t, err, ErrDepth)
}
