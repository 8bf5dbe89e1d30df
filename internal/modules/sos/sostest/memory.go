// Package sostest provides an in-memory SOS store.
package sostest

import (
	"context"
	"sort"
	"sync"
	"time"

	"foodhub/internal/geo"
	"foodhub/internal/modules/sos"
	"foodhub/internal/types"
)

type Memory struct {
	mu     sync.Mutex
	alerts map[types.ID]*sos.Alert
}

func NewMemory() *Memory {
	return &Memory{alerts: make(map[types.ID]*sos.Alert)}
}

func (m *Memory) Create(_ context.Context, a *sos.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = clone(a)
	return nil
}

func (m *Memory) Get(_ context.Context, id types.ID) (*sos.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, sos.ErrNotFound
	}
	return clone(a), nil
}

func (m *Memory) UpdateStatus(_ context.Context, id types.ID, from, to sos.Status, note *sos.Note, resolvedBy *types.ID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	if note != nil {
		a.Notes = append(a.Notes, *note)
	}
	if to == sos.StatusResolved {
		a.ResolvedBy = resolvedBy
		a.ResolvedAt = &at
	}
	a.UpdatedAt = at
	return true, nil
}

func (m *Memory) UpdateLocation(_ context.Context, id, actorID types.ID, p types.Point, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || a.ActorID != actorID || a.Status == sos.StatusResolved {
		return false, nil
	}
	a.Location = p
	a.UpdatedAt = at
	return true, nil
}

func (m *Memory) Nearby(_ context.Context, p types.Point, radiusMeters int) ([]*sos.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type hit struct {
		a *sos.Alert
		d int64
	}
	var hits []hit
	for _, a := range m.alerts {
		loc := a.Location
		d := geo.Distance(&p, &loc).Meters
		if a.Status == sos.StatusActive && d <= int64(radiusMeters) {
			hits = append(hits, hit{clone(a), d})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].d < hits[j].d })
	out := make([]*sos.Alert, len(hits))
	for i, h := range hits {
		out[i] = h.a
	}
	return out, nil
}

func (m *Memory) List(_ context.Context, f sos.Filter) ([]*sos.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[sos.Status]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		want[st] = true
	}
	var out []*sos.Alert
	for _, a := range m.alerts {
		if len(want) > 0 && !want[a.Status] {
			continue
		}
		if f.FleetManagerID != nil && (a.FleetManagerID == nil || *a.FleetManagerID != *f.FleetManagerID) {
			continue
		}
		if f.Since != nil && a.CreatedAt.Before(*f.Since) {
			continue
		}
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func clone(a *sos.Alert) *sos.Alert {
	c := *a
	c.Notes = append([]sos.Note(nil), a.Notes...)
	c.Tags = append([]string(nil), a.Tags...)
	return &c
}
