package pt

import "math"

// earthRadiusMeters is the WGS-84 mean sphere radius spec.md §4.3 specifies.
const earthRadiusMeters = 6371000

// HaversineMeters returns the great-circle distance in meters between two
// WGS-84 lat/lon points, exported for callers outside pt (TED's group
// compactness facts, in particular) that need the same distance formula
// PT uses internally for group/gap derivation.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return haversineMeters(lat1, lon1, lat2, lon2)
}

// haversineMeters returns the great-circle distance between two lat/lon
// points in meters.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }

	phi1, phi2 := rad(lat1), rad(lat2)
	dPhi := rad(lat2 - lat1)
	dLambda := rad(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
