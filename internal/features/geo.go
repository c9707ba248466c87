package features

import "math"

// WGS-84 mean earth radius in kilometers.
const earthRadiusKm = 6371.0088

// Haversine returns the great-circle distance in kilometers between two
// points given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// ImpliedSpeedKmh returns the speed needed to cover distanceKm in the given
// number of hours. Non-positive elapsed time yields +Inf.
func ImpliedSpeedKmh(distanceKm, elapsedHours float64) float64 {
	if elapsedHours <= 0 {
		return math.Inf(1)
	}
	return distanceKm / elapsedHours
}
