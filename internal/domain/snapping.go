package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoChannel reports that no channel cell lies within the search horizon
// and falling back to the original coordinates is disabled.
var ErrNoChannel = errors.New("domain: no channel within search horizon")

// EnrichWithSnapping moves a site's coordinates onto the river network.
// A nil snapper disables snapping and returns the site unchanged.
//
// Grid failures propagate as errors: a broken store must surface instead of
// degrading into silently unsnapped records. When the search finds no
// channel, fallback decides the outcome: keep the original coordinates with
// SnapSource "original", or reject the record with ErrNoChannel.
func EnrichWithSnapping(ctx context.Context, site Site, snapper ChannelSnapper, fallback bool, logger *slog.Logger) (Site, error) {
	if snapper == nil {
		return site, nil
	}

	result, err := snapper.Snap(ctx, site.Easting, site.Northing)
	if err != nil {
		return Site{}, fmt.Errorf("snap site %s: %w", site.ID, err)
	}

	if !result.Found {
		if !fallback {
			return Site{}, fmt.Errorf("snap site %s: %w", site.ID, ErrNoChannel)
		}
		logger.Info("no channel within horizon, keeping original coordinates",
			"site_id", site.ID,
			"easting", site.Easting,
			"northing", site.Northing,
		)
		site.SnapSource = SnapSourceOriginal
		return site, nil
	}

	cell := result.Cell
	logger.Debug("coordinates snapped to river",
		"site_id", site.ID,
		"from_easting", site.Easting,
		"from_northing", site.Northing,
		"to_easting", cell.Point.Easting,
		"to_northing", cell.Point.Northing,
		"distance", cell.Distance,
	)
	site.SnappedEasting = cell.Point.Easting
	site.SnappedNorthing = cell.Point.Northing
	site.FlowAccumulation = cell.Value.Float64()
	site.SnapDistance = cell.Distance
	site.SnapSource = SnapSourceSnapped
	return site, nil
}
