// Package geo evaluates whether the device is close enough to a meeting
// destination to check in, and supplies the device's own position.
package geo

import (
	"math"

	"ontime/internal/meeting"
)

// EarthRadiusMeters is the IUGG mean earth radius.
const EarthRadiusMeters = 6371008.8

// DefaultArrivalRadius is the check-in radius around the destination.
const DefaultArrivalRadius = 100.0

// Distance returns the haversine great-circle distance in meters.
func Distance(a, b meeting.Coordinates) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Offset returns the point reached by travelling meters along bearing
// (degrees clockwise from north) from origin.
func Offset(origin meeting.Coordinates, bearing, meters float64) meeting.Coordinates {
	lat1 := radians(origin.Latitude)
	lon1 := radians(origin.Longitude)
	brg := radians(bearing)
	d := meters / EarthRadiusMeters

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return meeting.Coordinates{Latitude: degrees(lat2), Longitude: degrees(lon2)}
}

// WithinRange reports whether current is at most threshold meters from target.
// The boundary is inclusive.
func WithinRange(current, target meeting.Coordinates, threshold float64) bool {
	return Distance(current, target) <= threshold
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
