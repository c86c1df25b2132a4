// Package domain models UK environmental monitoring sites and their
// placement on the digital river network.
//
// # Data Source
//
// Site records originate from the Environment Agency monitoring registers
// (water quality, biosys ecology, fish counts). The upstream harvester
// service pages through the register APIs on a cron schedule, flattens each
// station into JSON with an injected "network" field, and publishes it to
// the Kafka source topic.
//
// # Coordinate Conventions
//
// Great Britain sites carry British National Grid (OSGB36) eastings and
// northings in metres. Northern Ireland sites carry Irish Grid coordinates,
// which occupy a low easting range no GB site reaches; [Region] classifies
// records by containment in two NI bounding boxes. Both grids are metric
// and axis-aligned, so the same snapping arithmetic applies.
//
// Register coordinates locate the sampling cabinet or access point, not
// the channel itself, and routinely sit one or two cells off the river as
// digitized. Snapping moves them onto the nearest cell of the CCAR
// flow-accumulation grid whose value clears the channel threshold, so that
// catchment descriptors extracted downstream describe the river and not a
// hillslope.
//
// # Network Labels
//
//	EA_WQ    water quality sampling points
//	EA_BIO   biosys ecology survey sites
//	EA_FISH  fish count stations
//
// The harvester is inconsistent about case, so labels fold case during
// normalization; unknown labels normalize to the empty string rather than
// dropping the record.
//
// # ID Generation
//
// Sites missing a register ID get a deterministic SHA-256 hash of
// network|name|easting|northing. This enables idempotent upserts
// downstream (ON CONFLICT DO NOTHING) and replay safety without
// distributed coordination. See [generateID].
package domain
