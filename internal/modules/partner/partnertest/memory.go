// Package partnertest provides in-memory partner stores and a planar geo index.
package partnertest

import (
	"context"
	"sort"
	"sync"

	"foodhub/internal/geo"
	"foodhub/internal/modules/partner"
	"foodhub/internal/types"
)

type Store struct {
	mu       sync.Mutex
	partners map[types.ID]*partner.Partner
}

func NewStore() *Store {
	return &Store{partners: map[types.ID]*partner.Partner{}}
}

// Put stores p as-is.
func (s *Store) Put(p partner.Partner) {
	s.mu.Lock()
	s.partners[p.UserID] = &p
	s.mu.Unlock()
}

func (s *Store) Get(_ context.Context, userID types.ID) (*partner.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[userID]
	if !ok {
		return nil, partner.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) SaveSessionLocation(_ context.Context, userID types.ID, loc partner.SessionLocation) (partner.Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[userID]
	if !ok || p.IsDeleted {
		return "", partner.ErrNotFound
	}
	p.SessionLocation = &loc
	return p.CurrentStatus, nil
}

func (s *Store) SetCurrentStatus(_ context.Context, userID types.ID, from []partner.Availability, to partner.Availability, orderID *types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[userID]
	if !ok || p.IsDeleted {
		return false, nil
	}
	for _, f := range from {
		if p.CurrentStatus == f {
			p.CurrentStatus = to
			p.CurrentOrderID = orderID
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) FilterDispatchable(_ context.Context, ids []types.ID) ([]types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.ID
	for _, id := range ids {
		if p, ok := s.partners[id]; ok && p.Approved() && p.CurrentStatus == partner.AvailabilityIdle {
			out = append(out, id)
		}
	}
	return out, nil
}

// Index is an in-memory partner.Index using haversine distances.
type Index struct {
	mu     sync.Mutex
	points map[types.ID]types.Point
}

func NewIndex() *Index {
	return &Index{points: map[types.ID]types.Point{}}
}

func (x *Index) Add(_ context.Context, userID types.ID, p types.Point) error {
	x.mu.Lock()
	x.points[userID] = p
	x.mu.Unlock()
	return nil
}

func (x *Index) Remove(_ context.Context, userID types.ID) error {
	x.mu.Lock()
	delete(x.points, userID)
	x.mu.Unlock()
	return nil
}

func (x *Index) Has(userID types.ID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.points[userID]
	return ok
}

func (x *Index) Search(_ context.Context, p types.Point, radiusMeters float64, limit int) ([]partner.Candidate, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []partner.Candidate
	for id, pt := range x.points {
		pt := pt
		d := geo.Distance(&p, &pt)
		if float64(d.Meters) <= radiusMeters {
			out = append(out, partner.Candidate{UserID: id, Location: pt, DistanceMeters: float64(d.Meters)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters == out[j].DistanceMeters {
			return out[i].UserID < out[j].UserID
		}
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
