// Package zonetest provides an in-memory zone store using planar geometry.
package zonetest

import (
	"context"
	"sort"
	"sync"

	"foodhub/internal/geo"
	"foodhub/internal/modules/zone"
	"foodhub/internal/types"
)

type Memory struct {
	mu    sync.Mutex
	zones map[types.ID]zone.Zone
}

func NewMemory() *Memory {
	return &Memory{zones: make(map[types.ID]zone.Zone)}
}

func (m *Memory) Create(_ context.Context, z *zone.Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[z.ZoneID]; ok {
		return zone.ErrExists
	}
	if len(m.intersectingLocked(z.Boundary, "")) > 0 {
		return zone.ErrOverlap
	}
	m.zones[z.ZoneID] = *z
	return nil
}

func (m *Memory) Get(_ context.Context, id types.ID) (*zone.Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zones[id]
	if !ok {
		return nil, zone.ErrNotFound
	}
	return &z, nil
}

func (m *Memory) List(_ context.Context, includeDeleted bool) ([]*zone.Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*zone.Zone
	for _, z := range m.zones {
		if z.IsDeleted && !includeDeleted {
			continue
		}
		z := z
		out = append(out, &z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneID < out[j].ZoneID })
	return out, nil
}

func (m *Memory) Update(_ context.Context, z *zone.Zone, checkOverlap bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[z.ZoneID]; !ok {
		return zone.ErrNotFound
	}
	if checkOverlap && len(m.intersectingLocked(z.Boundary, z.ZoneID)) > 0 {
		return zone.ErrOverlap
	}
	m.zones[z.ZoneID] = *z
	return nil
}

func (m *Memory) Intersecting(_ context.Context, ring geo.Ring, exclude types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intersectingLocked(ring, exclude), nil
}

func (m *Memory) Containing(_ context.Context, p types.Point) ([]*zone.Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*zone.Zone
	for _, z := range m.zones {
		if z.IsOperational && !z.IsDeleted && geo.ContainsPoint(z.Boundary, p) {
			z := z
			out = append(out, &z)
		}
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zones[id]
	if !ok || !z.IsDeleted {
		return zone.ErrNotFound
	}
	delete(m.zones, id)
	return nil
}

// Put stores z as-is, bypassing every check. Tests use it to seed bad data.
func (m *Memory) Put(z zone.Zone) {
	m.mu.Lock()
	m.zones[z.ZoneID] = z
	m.mu.Unlock()
}

func (m *Memory) intersectingLocked(ring geo.Ring, exclude types.ID) []types.ID {
	var ids []types.ID
	for id, z := range m.zones {
		if id == exclude || !z.IsOperational || z.IsDeleted {
			continue
		}
		if geo.Intersects(z.Boundary, ring) {
			ids = append(ids, id)
		}
	}
	return ids
}
