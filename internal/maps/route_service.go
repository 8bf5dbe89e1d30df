// README: Travel estimates between two points, via Google Maps when a key is configured.
package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"foodhub/internal/geo"
	"foodhub/internal/types"
)

var ErrNoRoute = errors.New("no route found")

type ETA struct {
	Duration       time.Duration `json:"duration"`
	DistanceMeters int           `json:"distanceMeters"`
}

// RouteService handles interactions with the Google Maps Directions API.
type RouteService struct {
	client *maps.Client
}

func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// Estimate returns the two-wheeler travel estimate from origin to destination.
func (s *RouteService) Estimate(ctx context.Context, origin, destination types.Point) (ETA, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
		Avoid:       []maps.Avoid{maps.AvoidHighways},
	}
	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return ETA{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return ETA{}, ErrNoRoute
	}
	leg := routes[0].Legs[0]
	return ETA{Duration: leg.Duration, DistanceMeters: leg.Distance.Meters}, nil
}

// Geocode resolves a free-form address to a coordinate.
func (s *RouteService) Geocode(ctx context.Context, a types.Address) (types.Point, error) {
	res, err := s.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: fmt.Sprintf("%s %s, %s %s", a.Line1, a.Line2, a.PostalCode, a.City),
	})
	if err != nil {
		return types.Point{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(res) == 0 {
		return types.Point{}, ErrNoRoute
	}
	loc := res[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// StraightLine estimates travel time from the great-circle distance at a
// fixed average speed. Used when no maps key is configured.
type StraightLine struct {
	SpeedKmh float64
}

func (s StraightLine) Estimate(_ context.Context, origin, destination types.Point) (ETA, error) {
	d := geo.Distance(&origin, &destination)
	speed := s.SpeedKmh
	if speed <= 0 {
		speed = 20
	}
	hours := d.Kilometers / speed
	return ETA{
		Duration:       time.Duration(hours * float64(time.Hour)).Round(time.Second),
		DistanceMeters: int(d.Meters),
	}, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
