// Package ordertest provides an in-memory order store with the same
// conditional-update semantics as the Postgres store.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"foodhub/internal/modules/order"
	"foodhub/internal/outbox"
	"foodhub/internal/types"
)

type Memory struct {
	mu     sync.Mutex
	orders map[types.ID]*order.Order
	events []order.Event
	// Outbox receives notices written by ExpireDispatch, if set.
	Outbox interface {
		Enqueue(ctx context.Context, m *outbox.Message) error
	}
}

func NewMemory() *Memory {
	return &Memory{orders: make(map[types.ID]*order.Order)}
}

func (m *Memory) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *Memory) Get(_ context.Context, id types.ID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.IsDeleted {
		return nil, order.ErrNotFound
	}
	return clone(o), nil
}

// Put stores o as-is. Tests use it to seed orders in any state.
func (m *Memory) Put(o *order.Order) {
	m.mu.Lock()
	m.orders[o.ID] = clone(o)
	m.mu.Unlock()
}

func (m *Memory) SetPaid(_ context.Context, id types.ID, version int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.StatusVersion != version || o.IsPaid {
		return false, nil
	}
	o.IsPaid = true
	o.PaidAt = &at
	o.UpdatedAt = at
	o.StatusVersion++
	return true, nil
}

func (m *Memory) UpdateStatus(_ context.Context, t order.Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[t.OrderID]
	if !ok || o.Status != t.From || o.StatusVersion != t.Version {
		return false, nil
	}
	o.Status = t.To
	o.StatusVersion++
	o.UpdatedAt = t.At
	switch {
	case t.ClearPartner:
		o.DeliveryPartnerID = nil
	case t.PartnerID != nil:
		id := *t.PartnerID
		o.DeliveryPartnerID = &id
	}
	if t.PickupAddress != nil {
		a := *t.PickupAddress
		o.PickupAddress = &a
	}
	switch t.To {
	case order.StatusCanceled:
		o.CancelReason = t.Reason
		o.CanceledAt = &t.At
	case order.StatusRejected:
		o.RejectReason = t.Reason
	case order.StatusDelivered:
		o.DeliveredAt = &t.At
	}
	o.DispatchPartnerPool = []types.ID{}
	o.DispatchExpiresAt = nil
	return true, nil
}

func (m *Memory) StartDispatch(_ context.Context, id types.ID, from order.Status, version int, pool []types.ID, expiresAt, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from || o.StatusVersion != version {
		return false, nil
	}
	o.Status = order.StatusDispatching
	o.StatusVersion++
	o.DispatchPartnerPool = append([]types.ID(nil), pool...)
	o.DispatchExpiresAt = &expiresAt
	o.UpdatedAt = now
	return true, nil
}

func (m *Memory) AcceptDispatch(_ context.Context, id, partnerID types.ID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != order.StatusDispatching || !o.InPool(partnerID) ||
		o.DispatchExpiresAt == nil || !o.DispatchExpiresAt.After(now) {
		return false, nil
	}
	o.Status = order.StatusAssigned
	o.StatusVersion++
	o.DeliveryPartnerID = &partnerID
	o.DispatchPartnerPool = []types.ID{}
	o.DispatchExpiresAt = nil
	o.AssignedAt = &now
	o.UpdatedAt = now
	return true, nil
}

func (m *Memory) DeclineDispatch(_ context.Context, id, partnerID types.ID, now time.Time) (order.Status, int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != order.StatusDispatching || !o.InPool(partnerID) {
		return order.StatusNone, 0, false, nil
	}
	pool := make([]types.ID, 0, len(o.DispatchPartnerPool))
	for _, p := range o.DispatchPartnerPool {
		if p != partnerID {
			pool = append(pool, p)
		}
	}
	o.DispatchPartnerPool = pool
	if len(pool) == 0 {
		o.Status = order.StatusReassignmentNeeded
		o.DispatchExpiresAt = nil
	}
	o.StatusVersion++
	o.UpdatedAt = now
	return o.Status, len(pool), true, nil
}

func (m *Memory) ListExpiredDispatches(_ context.Context, now time.Time, limit int) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*order.Order
	for _, o := range m.orders {
		if o.Status == order.StatusDispatching && o.DispatchExpiresAt != nil && !o.DispatchExpiresAt.After(now) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DispatchExpiresAt.Before(*out[j].DispatchExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ExpireDispatch(ctx context.Context, id types.ID, now time.Time, notice *outbox.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != order.StatusDispatching || o.DispatchExpiresAt == nil || o.DispatchExpiresAt.After(now) {
		return false, nil
	}
	if notice != nil && m.Outbox != nil {
		if err := m.Outbox.Enqueue(ctx, notice); err != nil {
			return false, err
		}
	}
	o.Status = order.StatusAwaitingPartner
	o.StatusVersion++
	o.DispatchPartnerPool = []types.ID{}
	o.DispatchExpiresAt = nil
	o.UpdatedAt = now
	m.events = append(m.events, order.Event{
		OrderID: id, FromStatus: order.StatusDispatching, ToStatus: order.StatusAwaitingPartner,
		ActorType: "system", CreatedAt: now,
	})
	return true, nil
}

func (m *Memory) AppendEvent(_ context.Context, e *order.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *e)
	return nil
}

// Events returns the recorded transitions of id in order.
func (m *Memory) Events(id types.ID) []order.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Event
	for _, e := range m.events {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out
}

func clone(o *order.Order) *order.Order {
	c := *o
	c.DispatchPartnerPool = append([]types.ID{}, o.DispatchPartnerPool...)
	c.Items = append([]order.Item(nil), o.Items...)
	if o.PickupAddress != nil {
		a := *o.PickupAddress
		c.PickupAddress = &a
	}
	if o.DeliveryPartnerID != nil {
		id := *o.DeliveryPartnerID
		c.DeliveryPartnerID = &id
	}
	if o.DispatchExpiresAt != nil {
		t := *o.DispatchExpiresAt
		c.DispatchExpiresAt = &t
	}
	return &c
}
