// Package outboxtest provides an in-memory outbox repository.
package outboxtest

import (
	"context"
	"sync"
	"time"

	"foodhub/internal/outbox"
)

type Memory struct {
	mu     sync.Mutex
	nextID int64
	msgs   []*outbox.Message
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Enqueue(_ context.Context, msg *outbox.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	if msg.Status == "" {
		msg.Status = outbox.StatusPending
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *Memory) Claim(_ context.Context, limit int) ([]*outbox.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outbox.Message
	for _, msg := range m.msgs {
		if len(out) == limit {
			break
		}
		if msg.Status != outbox.StatusPending {
			continue
		}
		msg.Status = outbox.StatusProcessing
		msg.Attempts++
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) MarkCompleted(_ context.Context, id int64, at time.Time) error {
	return m.update(id, func(msg *outbox.Message) {
		msg.Status = outbox.StatusCompleted
		msg.ProcessedAt = &at
	})
}

func (m *Memory) Release(_ context.Context, id int64, reason string) error {
	return m.update(id, func(msg *outbox.Message) {
		msg.Status = outbox.StatusPending
		msg.LastError = &reason
	})
}

func (m *Memory) MarkFailed(_ context.Context, id int64, reason string) error {
	return m.update(id, func(msg *outbox.Message) {
		msg.Status = outbox.StatusFailed
		msg.LastError = &reason
	})
}

func (m *Memory) update(id int64, fn func(*outbox.Message)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ID == id {
			fn(msg)
		}
	}
	return nil
}

// Messages returns copies of every stored message, optionally filtered by event type.
func (m *Memory) Messages(eventType string) []outbox.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []outbox.Message
	for _, msg := range m.msgs {
		if eventType == "" || msg.EventType == eventType {
			out = append(out, *msg)
		}
	}
	return out
}
