// README: Dispatch bookkeeping backed by Redis sets: who was offered an order and who declined it.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"foodhub/internal/types"
)

// Orders resolve well within a week; keys outlive them by that much.
const keyTTL = 7 * 24 * time.Hour

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// RecordOffer stores the pool of one dispatch entry and the first dispatch time.
func (s *RedisStore) RecordOffer(ctx context.Context, orderID types.ID, partners []types.ID, at time.Time) error {
	pipe := s.redis.Pipeline()
	pipe.SetNX(ctx, firstDispatchKey(orderID), at.UTC().Format(time.RFC3339), keyTTL)
	if len(partners) > 0 {
		members := make([]interface{}, len(partners))
		for i, p := range partners {
			members[i] = string(p)
		}
		pipe.SAdd(ctx, offeredKey(orderID), members...)
		pipe.Expire(ctx, offeredKey(orderID), keyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RecordDecline(ctx context.Context, orderID, partnerID types.ID) error {
	pipe := s.redis.Pipeline()
	pipe.SAdd(ctx, declinedKey(orderID), string(partnerID))
	pipe.Expire(ctx, declinedKey(orderID), keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Declined(ctx context.Context, orderID types.ID) (map[types.ID]bool, error) {
	members, err := s.redis.SMembers(ctx, declinedKey(orderID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[types.ID]bool, len(members))
	for _, m := range members {
		out[types.ID(m)] = true
	}
	return out, nil
}

// FirstDispatchedAt reports when the order first entered dispatch.
func (s *RedisStore) FirstDispatchedAt(ctx context.Context, orderID types.ID) (time.Time, bool, error) {
	val, err := s.redis.Get(ctx, firstDispatchKey(orderID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func offeredKey(orderID types.ID) string {
	return fmt.Sprintf("dispatch:order:%s:offered", orderID)
}

func declinedKey(orderID types.ID) string {
	return fmt.Sprintf("dispatch:order:%s:declined", orderID)
}

func firstDispatchKey(orderID types.ID) string {
	return fmt.Sprintf("dispatch:order:%s:first_dispatched_at", orderID)
}
