// Package geo computes straight-line distances between geographic points.
package geo

import (
	"fmt"
	"math"

	"github.com/kjstillabower/cab-fare-service/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// Distance returns the great-circle distance between a and b in kilometres.
// Out-of-range coordinates are rejected with a validation error.
func Distance(a, b models.GeoPoint) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, fmt.Errorf("distance: %w", err)
	}
	if err := b.Validate(); err != nil {
		return 0, fmt.Errorf("distance: %w", err)
	}
	return haversineKm(a.Lat, a.Lon, b.Lat, b.Lon), nil
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)
	dLat := rLat2 - rLat1
	dLon := degreesToRadians(lon2) - degreesToRadians(lon1)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
