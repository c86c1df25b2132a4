package snap

const (
	// DefaultResolution is the cell size of the UK flow-accumulation grids
	// this package was built for, in coordinate units (metres).
	DefaultResolution = 50.0

	// DefaultNoDataRaw is the raw reading that marks a missing cell in the
	// source rasters (the largest signed 32-bit integer).
	DefaultNoDataRaw = 2147483647

	// NoDataFloat is the legacy placeholder for missing data in downstream
	// records and wire formats.
	NoDataFloat = -999.0
)

// Value is a flow-accumulation reading. The zero Value marks a cell with no
// data (sea, out-of-catchment, or masked). Missing data never satisfies a
// threshold and sorts strictly below every valid reading.
type Value struct {
	f     float64
	valid bool
}

// NewValue returns a valid Value holding f.
func NewValue(f float64) Value { return Value{f: f, valid: true} }

// IsNoData reports whether v marks a missing cell.
func (v Value) IsNoData() bool { return !v.valid }

// Float64 returns the reading, or NoDataFloat when v is missing.
func (v Value) Float64() float64 {
	if !v.valid {
		return NoDataFloat
	}
	return v.f
}

// AtLeast reports whether v is a valid reading of at least min. Missing
// data fails every threshold, including thresholds below NoDataFloat.
func (v Value) AtLeast(min float64) bool { return v.valid && v.f >= min }

// Compare orders two values: -1 when v sorts below o, 0 when they are
// equal, +1 when v sorts above o. Missing data sorts below every valid
// reading; two missing values are equal.
func (v Value) Compare(o Value) int {
	switch {
	case v.valid && o.valid:
		switch {
		case v.f < o.f:
			return -1
		case v.f > o.f:
			return 1
		default:
			return 0
		}
	case v.valid:
		return 1
	case o.valid:
		return -1
	default:
		return 0
	}
}
