package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distances
const EarthRadiusKm = 6371.0

// DistanceKm returns the haversine great-circle distance between two points
// given in signed decimal degrees. Inputs are not validated; NaN propagates.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := ToRadians(lat2 - lat1)
	dLon := ToRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(ToRadians(lat1))*math.Cos(ToRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Asin(math.Sqrt(a))
	return EarthRadiusKm * c
}

// ToRadians converts degrees to radians
func ToRadians(deg float64) float64 {
	return deg * (math.Pi / 180)
}
