package geo

import "math"

// EarthRadiusMeters is the mean earth radius used for every distance in the
// service. Using a single constant keeps the radius predicate identical across
// index backends.
const EarthRadiusMeters = 6371008.8

// boxPadDegrees widens bounding boxes so floating point rounding never drops a
// point that lies exactly on the radius.
const boxPadDegrees = 1e-9

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// HaversineMeters returns the great-circle distance between two points.
//
// Go Learning Note: The Haversine Formula
// Haversine stays numerically stable for the short distances this service
// deals with (meters to tens of kilometers), where the spherical law of
// cosines loses precision to float64 rounding.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*sinLon*sinLon
	if a > 1 {
		a = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(a))
}

// Destination returns the point reached by travelling distanceMeters from
// (lat, lon) along the initial bearing (degrees clockwise from north).
func Destination(lat, lon, bearingDeg, distanceMeters float64) (float64, float64) {
	delta := distanceMeters / EarthRadiusMeters
	theta := toRadians(bearingDeg)
	phi1 := toRadians(lat)
	lambda1 := toRadians(lon)

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	lon2 := math.Mod(toDegrees(lambda2)+540, 360) - 180
	return toDegrees(phi2), lon2
}

// Box is a latitude/longitude rectangle that never crosses the antimeridian.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains reports whether the point lies inside the box, edges included.
func (b Box) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// RadiusBounds returns the boxes that together enclose every point within
// radiusMeters of (lat, lon). It returns two boxes when the circle crosses the
// antimeridian and a full longitude band when the circle reaches a pole.
func RadiusBounds(lat, lon, radiusMeters float64) []Box {
	delta := radiusMeters / EarthRadiusMeters
	latDelta := toDegrees(delta) + boxPadDegrees

	minLat := lat - latDelta
	maxLat := lat + latDelta
	if minLat <= -90 || maxLat >= 90 {
		return []Box{{
			MinLat: math.Max(minLat, -90),
			MaxLat: math.Min(maxLat, 90),
			MinLon: -180,
			MaxLon: 180,
		}}
	}

	cosLat := math.Cos(toRadians(lat))
	ratio := math.Sin(delta) / cosLat
	if math.Abs(cosLat) < 1e-6 || ratio >= 1 {
		return []Box{{MinLat: minLat, MaxLat: maxLat, MinLon: -180, MaxLon: 180}}
	}
	lonDelta := toDegrees(math.Asin(ratio)) + boxPadDegrees

	minLon := lon - lonDelta
	maxLon := lon + lonDelta
	switch {
	case minLon < -180:
		return []Box{
			{MinLat: minLat, MaxLat: maxLat, MinLon: -180, MaxLon: maxLon},
			{MinLat: minLat, MaxLat: maxLat, MinLon: minLon + 360, MaxLon: 180},
		}
	case maxLon > 180:
		return []Box{
			{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: 180},
			{MinLat: minLat, MaxLat: maxLat, MinLon: -180, MaxLon: maxLon - 360},
		}
	}
	return []Box{{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon}}
}

// inAnyBox reports whether any of boxes contains the point.
func inAnyBox(boxes []Box, lat, lon float64) bool {
	for _, b := range boxes {
		if b.Contains(lat, lon) {
			return true
		}
	}
	return false
}

// withinRadius is the single radius predicate shared by all backends. It
// returns the distance and whether it is inside the (inclusive) radius.
func withinRadius(lat, lon, radiusMeters float64, pLat, pLon float64) (float64, bool) {
	d := HaversineMeters(lat, lon, pLat, pLon)
	return d, d <= radiusMeters
}
