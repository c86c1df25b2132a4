package domain

import (
	"context"
	"time"
)

// Snap outcomes recorded on Site.SnapSource.
const (
	// SnapSourceSnapped marks coordinates moved onto a channel cell.
	SnapSourceSnapped = "snapped"
	// SnapSourceOriginal marks coordinates kept as delivered because no
	// channel was found and fallback is enabled.
	SnapSourceOriginal = "original"
)

// RawSiteRecord is the flat JSON produced by the site-register harvester.
// Coordinates are pointers because zero is a valid Irish Grid easting and
// absence must be detectable.
type RawSiteRecord struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Network  string   `json:"network"`
	Easting  *float64 `json:"easting"`
	Northing *float64 `json:"northing"`
}

// RawRecord represents an unprocessed message from the source topic.
type RawRecord struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Site is the domain-rich representation after parsing and enrichment.
type Site struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Network  string  `json:"network"`
	Region   string  `json:"region,omitempty"`
	Easting  float64 `json:"easting"`
	Northing float64 `json:"northing"`

	// Channel snap enrichment fields.
	SnappedEasting   float64 `json:"snapped_easting,omitempty"`
	SnappedNorthing  float64 `json:"snapped_northing,omitempty"`
	FlowAccumulation float64 `json:"flow_accumulation,omitempty"`
	SnapDistance     float64 `json:"snap_distance,omitempty"`
	SnapSource       string  `json:"snap_source,omitempty"` // "snapped", "original", or "" when snapping is disabled

	RawPayload  []byte    `json:"-"`
	ProcessedAt time.Time `json:"processed_at"`
}
