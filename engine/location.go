/*
location.go - EVV location-verification contract

PURPOSE:
  Electronic Visit Verification: when a team member starts or completes a
  visit, the mobile client captures GPS coordinates and the caller
  computes how far the capture is from the client's geocoded address.
  The geocoding provider call itself lives outside this engine - only the
  distance math and the verification record are specified here, because
  the outcome is attached to start/complete ledger entries.
*/
package engine

import "math"

// VerificationRadiusMeters is the default pass threshold for EVV checks.
const VerificationRadiusMeters = 250.0

const earthRadiusMeters = 6371000.0

// LocationCheck is the verification outcome attached to a ledger entry.
type LocationCheck struct {
	Verified       bool    `json:"verified"`
	DistanceMeters float64 `json:"distance_meters"`
}

func radians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// HaversineMeters returns the great-circle distance between two coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	lat1R := radians(lat1)
	lat2R := radians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1R)*math.Cos(lat2R)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// VerifyLocation builds a LocationCheck from a GPS capture against the
// client's geocoded address, using the given radius (<=0 uses the default).
func VerifyLocation(capturedLat, capturedLon, addressLat, addressLon, radiusMeters float64) LocationCheck {
	if radiusMeters <= 0 {
		radiusMeters = VerificationRadiusMeters
	}
	d := HaversineMeters(capturedLat, capturedLon, addressLat, addressLon)
	return LocationCheck{Verified: d <= radiusMeters, DistanceMeters: d}
}
