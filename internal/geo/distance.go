// README: Great-circle distance between coordinates.
package geo

import (
	"math"

	"foodhub/internal/types"
)

const earthRadiusKm = 6371.0

type Result struct {
	Kilometers float64
	Meters     int64
}

// Distance returns the haversine distance between a and b. A nil input yields a
// zero result, which callers must read as unknown rather than colocated.
func Distance(a, b *types.Point) Result {
	if a == nil || b == nil {
		return Result{}
	}
	km := haversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
	return Result{
		Kilometers: math.Round(km*1e6) / 1e6,
		Meters:     int64(math.Round(km * 1000)),
	}
}

// ValidCoordinates reports whether lat/lng fall within WGS84 ranges.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
