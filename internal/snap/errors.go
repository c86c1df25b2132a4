package snap

import (
	"errors"
	"fmt"
)

// Configuration errors, reported before any cell is sampled.
var (
	// ErrNilSource is returned by New when no sampler source is given.
	ErrNilSource = errors.New("snap: nil sampler source")

	// ErrResolution is returned by New when the resolution is not a
	// positive finite number.
	ErrResolution = errors.New("snap: resolution must be a positive number")

	// ErrDepth is returned by searches called with an invalid depth.
	ErrDepth = errors.New("snap: invalid search depth")
)

// SampleError wraps a sampler failure with the grid point that was being
// read. Searches abort on the first sampler failure; use errors.As to
// recover the failing point.
type SampleError struct {
	Point GridPoint
	Err   error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("snap: sample %v: %v", e.Point, e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }
