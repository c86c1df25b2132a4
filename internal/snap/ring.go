package snap

import "math"

// ringCell is an enumeration entry: a grid point and its distance from the
// ring center.
type ringCell struct {
	point GridPoint
	dist  float64
}

// offsetDistance is the Euclidean distance for integer cell offsets,
// scaled by the resolution. Computed from the offsets so equal offset
// pairs produce bit-identical distances, which tie-breaking relies on.
func offsetDistance(de, dn int, res float64) float64 {
	return res * math.Sqrt(float64(de*de+dn*dn))
}

// ringCells enumerates the cells at the given depth around center, in the
// fixed order searches depend on for deterministic tie-breaking.
//
// Depth 0 is the center cell alone in both modes. A full square walks
// columns west to east, each column south to north, (2d+1)^2 cells. A
// perimeter walks the west column south to north, then the east column,
// then the south and north rows with the corner cells excluded, 8d cells
// with no duplicates.
func ringCells(center GridPoint, depth int, perimeterOnly bool, res float64) []ringCell {
	if depth == 0 {
		return []ringCell{{point: center}}
	}

	at := func(de, dn int) ringCell {
		return ringCell{
			point: GridPoint{
				Easting:  center.Easting + float64(de)*res,
				Northing: center.Northing + float64(dn)*res,
			},
			dist: offsetDistance(de, dn, res),
		}
	}

	if !perimeterOnly {
		cells := make([]ringCell, 0, (2*depth+1)*(2*depth+1))
		for de := -depth; de <= depth; de++ {
			for dn := -depth; dn <= depth; dn++ {
				cells = append(cells, at(de, dn))
			}
		}
		return cells
	}

	cells := make([]ringCell, 0, 8*depth)
	for _, de := range [2]int{-depth, depth} {
		for dn := -depth; dn <= depth; dn++ {
			cells = append(cells, at(de, dn))
		}
	}
	for _, dn := range [2]int{-depth, depth} {
		for de := -depth + 1; de <= depth-1; de++ {
			cells = append(cells, at(de, dn))
		}
	}
	return cells
}
