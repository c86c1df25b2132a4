package domain

import (
	"context"

	"github.com/glenfinch/river-snap-service/internal/snap"
)

// ChannelSnapper moves site coordinates onto the river network.
type ChannelSnapper interface {
	// Snap finds the nearest channel cell for the given coordinates.
	// Result.Found is false when no channel lies within the search
	// horizon; that is not an error.
	Snap(ctx context.Context, easting, northing float64) (snap.Result, error)
}
