// Package entities defines the domain records of the presence service: driver
// presences, the routes drivers broadcast under, and coordinates. They carry no
// dependency on storage, HTTP or the index implementation.
//
// Go Learning Note: "internal/" directory
// Packages under internal/ cannot be imported by code outside this module. The
// compiler enforces it, which keeps these types an implementation detail.
package entities

import "math"

// Location is a WGS84 coordinate pair in degrees.
//
// Go Learning Note: Value Types vs Reference Types
// Location is a small immutable holder (two float64s), so it is passed and
// returned by value. Bigger records that are shared between goroutines, like
// DriverPresence, are handed around as pointers to values that are never
// mutated after construction.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewLocation creates a Location value from latitude and longitude.
func NewLocation(lat, long float64) Location {
	return Location{
		Latitude:  lat,
		Longitude: long,
	}
}

// ValidLatitude reports whether lat is finite and within [-90, 90].
func ValidLatitude(lat float64) bool {
	return !math.IsNaN(lat) && lat >= -90 && lat <= 90
}

// ValidLongitude reports whether lon is finite and within [-180, 180].
func ValidLongitude(lon float64) bool {
	return !math.IsNaN(lon) && lon >= -180 && lon <= 180
}
