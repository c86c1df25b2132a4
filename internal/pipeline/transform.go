package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/glenfinch/river-snap-service/internal/domain"
	"github.com/glenfinch/river-snap-service/internal/observability"
	"github.com/glenfinch/river-snap-service/internal/snap"
)

// SiteTransformer implements Transformer using domain transform functions
// with optional channel snapping enrichment.
type SiteTransformer struct {
	snapper  domain.ChannelSnapper
	fallback bool
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewTransformer creates a SiteTransformer. Pass a nil snapper to disable
// snapping enrichment; fallback controls whether sites with no channel in
// reach keep their reported coordinates or fail the transform.
func NewTransformer(snapper domain.ChannelSnapper, fallback bool, logger *slog.Logger, metrics *observability.Metrics) *SiteTransformer {
	return &SiteTransformer{
		snapper:  snapper,
		fallback: fallback,
		logger:   logger,
		metrics:  metrics,
	}
}

func (t *SiteTransformer) Transform(ctx context.Context, raw domain.RawRecord) (domain.Site, error) {
	site, err := domain.ParseRawRecord(raw)
	if err != nil {
		return domain.Site{}, err
	}

	site = domain.EnrichSite(site)

	if t.snapper == nil {
		return site, nil
	}

	start := time.Now()
	site, err = domain.EnrichWithSnapping(ctx, site, t.snapper, t.fallback, t.logger)
	t.metrics.SnapDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, domain.ErrNoChannel) {
			t.metrics.SnapOutcomes.WithLabelValues("no_channel").Inc()
		} else {
			t.metrics.SnapOutcomes.WithLabelValues("error").Inc()
		}
		return domain.Site{}, err
	}

	switch site.SnapSource {
	case domain.SnapSourceSnapped:
		t.metrics.SnapOutcomes.WithLabelValues("snapped").Inc()
		t.metrics.SnapDistance.Observe(site.SnapDistance)
	case domain.SnapSourceOriginal:
		t.metrics.SnapOutcomes.WithLabelValues("original").Inc()
	}

	return site, nil
}

// gridSnapper adapts a snap.Grid to the ChannelSnapper port, binding the
// qualification threshold and search horizon.
type gridSnapper struct {
	grid     *snap.Grid
	minFlow  float64
	maxDepth int
}

// NewSnapper wraps grid as a ChannelSnapper that searches up to maxDepth
// rings for a cell with accumulation of at least minFlow.
func NewSnapper(grid *snap.Grid, minFlow float64, maxDepth int) domain.ChannelSnapper {
	return &gridSnapper{grid: grid, minFlow: minFlow, maxDepth: maxDepth}
}

func (s *gridSnapper) Snap(ctx context.Context, easting, northing float64) (snap.Result, error) {
	return s.grid.Nearest(ctx, easting, northing, s.minFlow, s.maxDepth)
}
