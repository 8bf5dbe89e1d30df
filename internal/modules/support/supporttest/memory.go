// Package supporttest provides an in-memory support store.
package supporttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"foodhub/internal/modules/support"
	"foodhub/internal/types"
)

type Memory struct {
	mu       sync.Mutex
	byUser   map[types.ID]*support.Conversation
	messages map[types.ID][]*support.Message
}

func NewMemory() *Memory {
	return &Memory{byUser: make(map[types.ID]*support.Conversation), messages: make(map[types.ID][]*support.Message)}
}

func (m *Memory) Ensure(_ context.Context, userID types.ID, role types.Role, now time.Time) (*support.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUser[userID]; !ok {
		m.byUser[userID] = &support.Conversation{
			ID: types.NewID(), UserID: userID, UserRole: role, Status: support.StatusOpen, CreatedAt: now, UpdatedAt: now,
		}
	}
	return m.snapshot(userID), nil
}

func (m *Memory) GetByUser(_ context.Context, userID types.ID) (*support.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUser[userID]; !ok {
		return nil, support.ErrNotFound
	}
	return m.snapshot(userID), nil
}

func (m *Memory) AddMessage(_ context.Context, msg *support.Message, adminID *types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(msg.ConversationID)
	if c == nil {
		return support.ErrNotFound
	}
	cp := *msg
	m.messages[c.ID] = append(m.messages[c.ID], &cp)
	if c.AssignedAdmin == nil && adminID != nil {
		id := *adminID
		c.AssignedAdmin = &id
	}
	at := msg.CreatedAt
	c.Status = support.StatusOpen
	c.ClosedAt = nil
	c.LastMessageAt = &at
	c.UpdatedAt = at
	return nil
}

func (m *Memory) MarkRead(_ context.Context, conversationID types.ID, side support.Side) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages[conversationID] {
		switch {
		case side == support.SideAdmin && !msg.ReadByAdmin:
			msg.ReadByAdmin = true
			n++
		case side == support.SideUser && !msg.ReadByUser:
			msg.ReadByUser = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close(_ context.Context, conversationID types.ID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(conversationID)
	if c == nil || c.Status != support.StatusOpen {
		return false, nil
	}
	c.Status = support.StatusClosed
	c.ClosedAt = &at
	c.UpdatedAt = at
	return true, nil
}

func (m *Memory) List(_ context.Context, status *support.Status, limit, offset int) ([]*support.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*support.Conversation
	for userID, c := range m.byUser {
		if status != nil && c.Status != *status {
			continue
		}
		out = append(out, m.snapshot(userID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Messages(_ context.Context, conversationID types.ID, before *time.Time, limit int) ([]*support.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*support.Message
	all := m.messages[conversationID]
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if before != nil && !all[i].CreatedAt.Before(*before) {
			continue
		}
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) byID(id types.ID) *support.Conversation {
	for _, c := range m.byUser {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *Memory) snapshot(userID types.ID) *support.Conversation {
	c := *m.byUser[userID]
	c.UnreadForUser, c.UnreadForAdmin = 0, 0
	for _, msg := range m.messages[c.ID] {
		if !msg.ReadByUser {
			c.UnreadForUser++
		}
		if !msg.ReadByAdmin {
			c.UnreadForAdmin++
		}
	}
	return &c
}
