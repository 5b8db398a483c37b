// Package geo holds great-circle math for ATM and engineer coordinates.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the haversine distance in kilometers between two points
// given in degrees.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push a just past 1 for near-antipodal points.
	return EarthRadiusKm * 2 * math.Asin(math.Sqrt(math.Min(1, a)))
}
