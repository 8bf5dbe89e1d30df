// README: Live session locations; Redis hash per user with a TTL, or process memory.
package location

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"foodhub/internal/types"
)

type RedisSessions struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{redis: client, ttl: ttl}
}

func (s *RedisSessions) Set(ctx context.Context, userID types.ID, sess Session) error {
	key := sessionKey(userID)
	fields := map[string]interface{}{
		"lat":        strconv.FormatFloat(sess.Point.Lat, 'f', -1, 64),
		"lng":        strconv.FormatFloat(sess.Point.Lng, 'f', -1, 64),
		"updated_at": sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if sess.Accuracy != nil {
		fields["accuracy"] = strconv.FormatFloat(*sess.Accuracy, 'f', -1, 64)
	}
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns ErrNoSession when nothing fresh is stored.
func (s *RedisSessions) Get(ctx context.Context, userID types.ID) (Session, error) {
	vals, err := s.redis.HGetAll(ctx, sessionKey(userID)).Result()
	if err != nil {
		return Session{}, err
	}
	if len(vals) == 0 {
		return Session{}, ErrNoSession
	}
	var sess Session
	if sess.Point.Lat, err = strconv.ParseFloat(vals["lat"], 64); err != nil {
		return Session{}, ErrNoSession
	}
	if sess.Point.Lng, err = strconv.ParseFloat(vals["lng"], 64); err != nil {
		return Session{}, ErrNoSession
	}
	if raw, ok := vals["accuracy"]; ok {
		if acc, err := strconv.ParseFloat(raw, 64); err == nil {
			sess.Accuracy = &acc
		}
	}
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, vals["updated_at"])
	return sess, nil
}

func sessionKey(userID types.ID) string {
	return "session:location:" + string(userID)
}

// MemorySessions keeps sessions in process. Entries older than ttl read as missing.
type MemorySessions struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[types.ID]Session
}

func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{ttl: ttl, now: time.Now, items: make(map[types.ID]Session)}
}

func (m *MemorySessions) Set(_ context.Context, userID types.ID, sess Session) error {
	m.mu.Lock()
	m.items[userID] = sess
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) Get(_ context.Context, userID types.ID) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.items[userID]
	if !ok || (m.ttl > 0 && m.now().Sub(sess.UpdatedAt) > m.ttl) {
		return Session{}, ErrNoSession
	}
	return sess, nil
}
