// Package geo holds the spatial side of the presence service: distance math,
// geohash cell covering, and the Index implementations that store live
// driver presences and answer radius queries.
//
// Go Learning Note: Geohash
// A geohash interleaves the bits of latitude and longitude and encodes them
// in base32. Nearby points usually share a prefix, and every precision level
// splits the world into a regular grid of cells:
//
//	Precision 4: ~39 km x 19.5 km
//	Precision 5: ~4.9 km x 4.9 km
//	Precision 6: ~1.2 km x 0.61 km
//	Precision 7: ~153 m x 153 m
//
// The grid backend buckets drivers by their cell at a fixed precision, so a
// radius query only has to look at the cells that overlap the query circle.
package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"
)

// DefaultPrecision is used when a caller passes a precision outside 1..12.
const DefaultPrecision = 6

// Latitude 90 and longitude 180 quantize to 2^32, which wraps to cell 0 at the
// opposite edge of the grid. Clamping them 1e-9 degrees inside keeps them in
// the last row and column; the next representable float below 90 is not
// enough because it still rounds up to 2^32.
const (
	maxEncodableLat = 90 - 1e-9
	maxEncodableLon = 180 - 1e-9
)

func normalizePrecision(precision int) uint {
	if precision < 1 || precision > 12 {
		return DefaultPrecision
	}
	return uint(precision)
}

// Encode returns the geohash cell containing (lat, lon) at the given precision.
func Encode(lat, lon float64, precision int) string {
	return geohash.EncodeWithPrecision(
		math.Min(lat, maxEncodableLat),
		math.Min(lon, maxEncodableLon),
		normalizePrecision(precision),
	)
}

// CellBox returns the bounds of a geohash cell.
func CellBox(hash string) Box {
	b := geohash.BoundingBox(hash)
	return Box{MinLat: b.MinLat, MaxLat: b.MaxLat, MinLon: b.MinLng, MaxLon: b.MaxLng}
}

// CoverCells returns every cell at the given precision that overlaps any of
// boxes. It gives up and returns ok=false once more than maxCells cells would
// be needed, which tells the caller a full scan is cheaper.
//
// Cells at one precision form a regular grid, so sampling the box at steps no
// larger than one cell (plus both edges) hits every overlapping cell.
func CoverCells(boxes []Box, precision int, maxCells int) (cells []string, ok bool) {
	p := normalizePrecision(precision)
	seen := make(map[string]struct{})

	for _, box := range boxes {
		corner := CellBox(Encode(box.MinLat, box.MinLon, int(p)))
		dLat := corner.MaxLat - corner.MinLat
		dLon := corner.MaxLon - corner.MinLon

		rows := int(math.Ceil((box.MaxLat-box.MinLat)/dLat)) + 1
		cols := int(math.Ceil((box.MaxLon-box.MinLon)/dLon)) + 1
		if rows*cols > maxCells {
			return nil, false
		}

		for i := 0; i < rows; i++ {
			lat := math.Min(box.MinLat+float64(i)*dLat, box.MaxLat)
			for j := 0; j < cols; j++ {
				lon := math.Min(box.MinLon+float64(j)*dLon, box.MaxLon)
				h := Encode(lat, lon, int(p))
				if _, dup := seen[h]; dup {
					continue
				}
				seen[h] = struct{}{}
				cells = append(cells, h)
				if len(cells) > maxCells {
					return nil, false
				}
			}
		}
	}
	return cells, true
}
