// Package snap finds river-channel cells on flow-accumulation raster
// grids.
//
// # Grids
//
// A grid is a regular raster in a projected coordinate system, with cell
// centers aligned to multiples of the resolution (50 m for the UK CCAR
// grids this package was built against). Cell values are CCAR readings,
// the count of contributing upstream cells, which serves as a proxy for
// channel presence: a monitoring site sits on a river when its cell's
// CCAR clears a threshold. Raw readings equal to the missing-data
// sentinel (2147483647 in the source rasters) normalize to NoData.
//
// Coordinates are rounded to the grid before any search with banker's
// rounding, so repeated snapping of already-aligned coordinates is a
// no-op and half-step inputs do not drift in one direction.
//
// Storage sits behind Sampler and Source. A search acquires one sampler
// for its whole scan and releases it before returning, so pooled backends
// hold one connection per search rather than one per cell.
//
// # Searches
//
// Nearest scans square rings outward from the center, looking for the
// closest cell at or above a threshold. Rings enumerate cells in
// Chebyshev order while the search wants the Euclidean nearest, so the
// first hit is not necessarily the winner; the scan runs on past the
// first hit for as many rings as the grid's ExtensionPolicy allows.
// Largest picks the best-valued cell of a full square, for moving a
// point already near the network onto the strongest nearby channel.
//
// Ties are deterministic. Nearest prefers smaller distance, then larger
// value, then earlier enumeration. Largest prefers larger value, then
// smaller distance, then earlier enumeration.
//
// # Failure taxonomy
//
// Not finding a qualifying cell is a normal outcome: Result.Found is
// false and the error is nil. A sampler failure aborts the search with a
// *SampleError wrapping the failing point. Invalid configuration is
// rejected before any sampling with ErrNilSource, ErrResolution or
// ErrDepth.
package snap
