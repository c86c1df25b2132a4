package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Bounding boxes covering Northern Ireland sites, [minE, minN, maxE, maxN].
// NI registers deliver Irish Grid coordinates, which occupy a low easting
// range no British National Grid site reaches, so containment in either box
// identifies the region.
var niBoxes = [2][4]float64{
	{0, 469190, 143723, 614827},
	{143723, 469190, 185797, 597050},
}

// ParseRawRecord deserializes a RawRecord's value into a Site.
// It expects the flat JSON produced by the site-register harvester.
func ParseRawRecord(raw RawRecord) (Site, error) {
	if len(raw.Value) == 0 {
		return Site{}, errors.New("parse raw record: empty payload")
	}

	var rec RawSiteRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return Site{}, fmt.Errorf("parse raw record: %w", err)
	}
	if rec.Easting == nil || rec.Northing == nil {
		return Site{}, fmt.Errorf("parse raw record: site %q has no coordinates", rec.ID)
	}

	return Site{
		ID:       strings.TrimSpace(rec.ID),
		Name:     strings.TrimSpace(rec.Name),
		Network:  rec.Network,
		Easting:  *rec.Easting,
		Northing: *rec.Northing,

		RawPayload: raw.Value,
	}, nil
}

// EnrichSite normalizes and classifies a parsed site. It validates the
// network label, classifies the coordinate region, fills a deterministic ID
// when the register delivered none, and stamps the processing time.
func EnrichSite(site Site) Site {
	site.Network = normalizeNetwork(site.Network)
	site.Region = Region(site.Easting, site.Northing)
	if site.ID == "" {
		site.ID = generateID(site.Network, site.Name, site.Easting, site.Northing)
	}
	site.ProcessedAt = clock.Now()
	return site
}

// normalizeNetwork validates the monitoring network label. The harvester is
// inconsistent about case ("EA_fish", "EA_WQ"), so matching folds case.
// Accepts: EA_WQ (water quality), EA_BIO (biosys ecology), EA_FISH (fish
// counts). Unknown networks normalize to "".
func normalizeNetwork(value string) string {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "EA_WQ":
		return "EA_WQ"
	case "EA_BIO":
		return "EA_BIO"
	case "EA_FISH":
		return "EA_FISH"
	default:
		return ""
	}
}

// Region classifies site coordinates as "gb" or "ni". Descriptor grids are
// published per region, so downstream consumers partition on this label.
func Region(easting, northing float64) string {
	for _, b := range niBoxes {
		if easting >= b[0] && easting <= b[2] && northing >= b[1] && northing <= b[3] {
			return "ni"
		}
	}
	return "gb"
}

// generateID produces a deterministic ID from the site's key fields.
// Deterministic IDs enable idempotent upserts downstream and replay safety;
// reprocessing the same raw record produces the same ID.
func generateID(network, name string, easting, northing float64) string {
	input := fmt.Sprintf("%s|%s|%.1f|%.1f", network, name, easting, northing)
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	if network == "" {
		return short
	}
	return strings.ToLower(network) + "-" + short
}
