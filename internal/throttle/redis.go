package throttle

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares the throttle window across instances with SET NX PX.
type Redis struct {
	client   *redis.Client
	prefix   string
	interval time.Duration
	onError  func(key string, err error)
}

func NewRedis(client *redis.Client, prefix string, interval time.Duration, onError func(key string, err error)) *Redis {
	return &Redis{client: client, prefix: prefix, interval: interval, onError: onError}
}

// ShouldPersist fails open: a Redis error lets the write through.
func (r *Redis) ShouldPersist(ctx context.Context, key string) bool {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, r.interval).Result()
	if err != nil {
		if r.onError != nil {
			r.onError(key, err)
		}
		return true
	}
	return ok
}
