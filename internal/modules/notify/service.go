// README: User notifications: realtime copy to the user room plus push to every registered device.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"foodhub/internal/logger"
	"foodhub/internal/realtime"
	"foodhub/internal/types"
)

type Store interface {
	Register(ctx context.Context, t DeviceToken) error
	Remove(ctx context.Context, token string) error
	TokensFor(ctx context.Context, userID types.ID) ([]string, error)
}

type Pusher interface {
	Push(ctx context.Context, token, title, body string, data map[string]string) (string, error)
}

type Service struct {
	store  Store
	pusher Pusher
	rooms  realtime.Broadcaster
	log    logger.Logger
	now    func() time.Time
}

// NewService accepts a nil pusher; notifications are then realtime only.
func NewService(store Store, pusher Pusher, rooms realtime.Broadcaster, log logger.Logger) *Service {
	return &Service{store: store, pusher: pusher, rooms: rooms, log: log, now: time.Now}
}

func (s *Service) RegisterDevice(ctx context.Context, userID types.ID, token string, platform Platform) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrBadRequest
	}
	switch platform {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
	case "":
		platform = PlatformAndroid
	default:
		return ErrBadRequest
	}
	return s.store.Register(ctx, DeviceToken{UserID: userID, Token: token, Platform: platform, UpdatedAt: s.now()})
}

func (s *Service) UnregisterDevice(ctx context.Context, token string) error {
	return s.store.Remove(ctx, token)
}

// SendUserNotification emits to the user's room and pushes to each device.
// It fails only when no channel could be attempted, so the outbox retries
// storage errors but not individual dead devices.
func (s *Service) SendUserNotification(ctx context.Context, userID types.ID, title, body string, data map[string]string) error {
	event := data["event"]
	if event == "" {
		event = EventNotification
	}
	s.rooms.EmitToRoom(realtime.UserRoom(userID), event, map[string]any{
		"title": title,
		"body":  body,
		"data":  data,
	})
	if s.pusher == nil {
		return nil
	}
	tokens, err := s.store.TokensFor(ctx, userID)
	if err != nil {
		return err
	}
	for _, tok := range tokens {
		id, err := s.pusher.Push(ctx, tok, title, body, data)
		switch {
		case errors.Is(err, ErrTokenGone):
			if rmErr := s.store.Remove(ctx, tok); rmErr != nil {
				s.log.Warn("remove dead device token failed", "user_id", userID, "error", rmErr)
			}
		case err != nil:
			s.log.Warn("push failed", "user_id", userID, "error", err)
		default:
			s.log.Debug("push sent", "user_id", userID, "message_id", id)
		}
	}
	return nil
}
