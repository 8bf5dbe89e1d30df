// README: Support service: lazy conversations, sticky admin assignment and per-side read tracking.
package support

import (
	"context"
	"strings"
	"time"

	"foodhub/internal/logger"
	"foodhub/internal/realtime"
	"foodhub/internal/types"
)

type Store interface {
	Ensure(ctx context.Context, userID types.ID, role types.Role, now time.Time) (*Conversation, error)
	GetByUser(ctx context.Context, userID types.ID) (*Conversation, error)
	AddMessage(ctx context.Context, m *Message, adminID *types.ID) error
	MarkRead(ctx context.Context, conversationID types.ID, side Side) (int, error)
	Close(ctx context.Context, conversationID types.ID, at time.Time) (bool, error)
	List(ctx context.Context, status *Status, limit, offset int) ([]*Conversation, error)
	Messages(ctx context.Context, conversationID types.ID, before *time.Time, limit int) ([]*Message, error)
}

type Service struct {
	store Store
	rooms realtime.Broadcaster
	log   logger.Logger
	now   func() time.Time
}

func NewService(store Store, rooms realtime.Broadcaster, log logger.Logger) *Service {
	return &Service{store: store, rooms: rooms, log: log, now: time.Now}
}

// Join opens userID's conversation for actor. Users may only open their own.
func (s *Service) Join(ctx context.Context, actor types.Actor, userID types.ID) (*Conversation, error) {
	if userID == "" {
		userID = actor.ID
	}
	if err := authorize(actor, userID); err != nil {
		return nil, err
	}
	if actor.Role.IsAdmin() && actor.ID != userID {
		// Admins only look; the conversation must already exist.
		return s.store.GetByUser(ctx, userID)
	}
	return s.store.Ensure(ctx, userID, actor.Role, s.now())
}

func (s *Service) Send(ctx context.Context, actor types.Actor, userID types.ID, body string) (*Message, error) {
	if userID == "" {
		userID = actor.ID
	}
	body = strings.TrimSpace(body)
	if body == "" || len(body) > MaxBodyLength {
		return nil, ErrBadRequest
	}
	c, err := s.Join(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	side := s.side(actor, c)
	m := &Message{
		ID:             types.NewID(),
		ConversationID: c.ID,
		SenderID:       actor.ID,
		SenderRole:     actor.Role,
		Body:           body,
		ReadByUser:     side == SideUser,
		ReadByAdmin:    side == SideAdmin,
		CreatedAt:      s.now(),
	}
	var adminID *types.ID
	if side == SideAdmin {
		adminID = &actor.ID
	}
	if err := s.store.AddMessage(ctx, m, adminID); err != nil {
		return nil, err
	}
	s.rooms.EmitToRoom(realtime.SupportRoom(userID), EventNewMessage, m)
	s.log.Debug("support message sent", "conversation_id", c.ID, "sender_id", actor.ID, "side", side)
	return m, nil
}

// MarkRead is idempotent and leaves the other side's flags alone.
func (s *Service) MarkRead(ctx context.Context, actor types.Actor, userID types.ID) (*ReadUpdate, error) {
	if userID == "" {
		userID = actor.ID
	}
	if err := authorize(actor, userID); err != nil {
		return nil, err
	}
	c, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	side := s.side(actor, c)
	n, err := s.store.MarkRead(ctx, c.ID, side)
	if err != nil {
		return nil, err
	}
	u := &ReadUpdate{ConversationID: c.ID, Side: side, ReaderID: actor.ID, Count: n}
	if n > 0 {
		s.rooms.EmitToRoom(realtime.SupportRoom(userID), EventReadUpdate, u)
	}
	return u, nil
}

func (s *Service) Close(ctx context.Context, actor types.Actor, userID types.ID) (*Conversation, error) {
	if userID == "" {
		userID = actor.ID
	}
	if err := authorize(actor, userID); err != nil {
		return nil, err
	}
	c, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.Close(ctx, c.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClosed
	}
	c, err = s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.rooms.EmitToRoom(realtime.SupportRoom(userID), EventConversationClosed, map[string]any{
		"conversationId": c.ID,
		"closedBy":       actor.ID,
	})
	return c, nil
}

func (s *Service) ListConversations(ctx context.Context, actor types.Actor, status *Status, limit, offset int) ([]*Conversation, error) {
	if !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.store.List(ctx, status, clampLimit(limit), offset)
}

func (s *Service) Messages(ctx context.Context, actor types.Actor, userID types.ID, before *time.Time, limit int) ([]*Message, error) {
	if userID == "" {
		userID = actor.ID
	}
	if err := authorize(actor, userID); err != nil {
		return nil, err
	}
	c, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.Messages(ctx, c.ID, before, clampLimit(limit))
}

// side is the owner's side for the owner; an admin writing in their own
// conversation is still the user side.
func (s *Service) side(actor types.Actor, c *Conversation) Side {
	if actor.ID == c.UserID {
		return SideUser
	}
	return SideOf(actor.Role)
}

func authorize(actor types.Actor, userID types.ID) error {
	if actor.ID == userID || actor.Role.IsAdmin() {
		return nil
	}
	return ErrForbidden
}

func clampLimit(n int) int {
	if n <= 0 || n > 100 {
		return 50
	}
	return n
}
