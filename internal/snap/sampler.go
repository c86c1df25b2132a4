package snap

import "context"

// Sampler reads raw cell values from a flow-accumulation grid. Readings are
// raw: Grid normalizes the missing-data sentinel, not the sampler. A
// sampler only needs to be safe for the goroutine that acquired it.
type Sampler interface {
	Sample(ctx context.Context, p GridPoint) (float64, error)
}

// Source hands out samplers scoped to a single search. Acquire returns a
// sampler together with a release function; the search calls release
// exactly once, on every return path. Pooled backends check a handle out
// here and return it to the pool on release.
type Source interface {
	Acquire(ctx context.Context) (Sampler, func(), error)
}

type staticSource struct{ s Sampler }

func (s staticSource) Acquire(ctx context.Context) (Sampler, func(), error) {
	return s.s, func() {}, nil
}

// SamplerSource adapts a long-lived sampler, such as an in-memory grid or
// an open store, to the Source interface with a no-op release.
func SamplerSource(s Sampler) Source { return staticSource{s: s} }
