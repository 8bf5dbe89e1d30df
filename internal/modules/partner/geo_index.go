// README: Redis GEO index of dispatchable partner positions.
package partner

import (
	"context"

	"github.com/redis/go-redis/v9"

	"foodhub/internal/types"
)

const partnerGeoKey = "dispatch:partners"

type RedisIndex struct {
	redis *redis.Client
	key   string
}

func NewRedisIndex(client *redis.Client) *RedisIndex {
	return &RedisIndex{redis: client, key: partnerGeoKey}
}

func (s *RedisIndex) Add(ctx context.Context, userID types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, s.key, &redis.GeoLocation{
		Name:      string(userID),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *RedisIndex) Remove(ctx context.Context, userID types.ID) error {
	return s.redis.ZRem(ctx, s.key, string(userID)).Err()
}

// Search returns up to limit members within radiusMeters of p, nearest first.
func (s *RedisIndex) Search(ctx context.Context, p types.Point, radiusMeters float64, limit int) ([]Candidate, error) {
	results, err := s.redis.GeoSearchLocation(ctx, s.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{
			UserID:         types.ID(r.Name),
			Location:       types.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceMeters: r.Dist,
		}
	}
	return out, nil
}
