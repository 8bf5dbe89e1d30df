// README: Partner service keeps availability, session location and the dispatch geo index in step.
package partner

import (
	"context"
	"errors"
	"time"

	"foodhub/internal/logger"
	"foodhub/internal/types"
)

type Store interface {
	Get(ctx context.Context, userID types.ID) (*Partner, error)
	SaveSessionLocation(ctx context.Context, userID types.ID, loc SessionLocation) (Availability, error)
	SetCurrentStatus(ctx context.Context, userID types.ID, from []Availability, to Availability, orderID *types.ID) (bool, error)
	FilterDispatchable(ctx context.Context, ids []types.ID) ([]types.ID, error)
}

type Index interface {
	Add(ctx context.Context, userID types.ID, p types.Point) error
	Remove(ctx context.Context, userID types.ID) error
	Search(ctx context.Context, p types.Point, radiusMeters float64, limit int) ([]Candidate, error)
}

type Service struct {
	store Store
	index Index
	log   logger.Logger
	now   func() time.Time
}

func NewService(store Store, index Index, log logger.Logger) *Service {
	return &Service{store: store, index: index, log: log, now: time.Now}
}

// FindPartnerUser returns the non-deleted partner profile of userID.
func (s *Service) FindPartnerUser(ctx context.Context, userID types.ID) (*Partner, error) {
	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.IsDeleted {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) IsApproved(ctx context.Context, userID types.ID) (bool, error) {
	p, err := s.FindPartnerUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Approved(), nil
}

// SaveSessionLocation persists loc and refreshes the geo index. Only idle
// approved partners are indexed.
func (s *Service) SaveSessionLocation(ctx context.Context, userID types.ID, loc SessionLocation) error {
	if loc.UpdatedAt.IsZero() {
		loc.UpdatedAt = s.now()
	}
	current, err := s.store.SaveSessionLocation(ctx, userID, loc)
	if err != nil {
		return err
	}
	if current != AvailabilityIdle {
		return s.index.Remove(ctx, userID)
	}
	approved, err := s.IsApproved(ctx, userID)
	if err != nil {
		return err
	}
	if !approved {
		return s.index.Remove(ctx, userID)
	}
	return s.index.Add(ctx, userID, loc.Point)
}

// SetAvailability switches between IDLE and OFFLINE. Partners on a delivery
// cannot change availability until the delivery ends.
func (s *Service) SetAvailability(ctx context.Context, userID types.ID, to Availability) (*Partner, error) {
	if to != AvailabilityIdle && to != AvailabilityOffline {
		return nil, ErrBadRequest
	}
	p, err := s.FindPartnerUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !p.Approved() {
		return nil, ErrNotApproved
	}
	if p.CurrentStatus == AvailabilityOnDelivery {
		return nil, ErrOnDelivery
	}
	ok, err := s.store.SetCurrentStatus(ctx, userID, []Availability{AvailabilityIdle, AvailabilityOffline}, to, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOnDelivery
	}
	p.CurrentStatus = to
	s.reindex(ctx, p)
	return p, nil
}

// MarkOnDelivery binds the partner to orderID and takes them out of the index.
func (s *Service) MarkOnDelivery(ctx context.Context, userID, orderID types.ID) error {
	ok, err := s.store.SetCurrentStatus(ctx, userID, []Availability{AvailabilityIdle, AvailabilityOffline}, AvailabilityOnDelivery, &orderID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAvailable
	}
	if err := s.index.Remove(ctx, userID); err != nil {
		s.log.Warn("remove partner from geo index failed", "partner_id", userID, "error", err)
	}
	return nil
}

// ReleaseClaim undoes MarkOnDelivery when the partner is still bound to
// orderID. A partner bound to another order is left alone.
func (s *Service) ReleaseClaim(ctx context.Context, userID, orderID types.ID) error {
	p, err := s.FindPartnerUser(ctx, userID)
	if err != nil {
		return err
	}
	if p.CurrentStatus != AvailabilityOnDelivery || p.CurrentOrderID == nil || *p.CurrentOrderID != orderID {
		return nil
	}
	return s.MarkIdle(ctx, userID)
}

// MarkIdle ends the current delivery, if any.
func (s *Service) MarkIdle(ctx context.Context, userID types.ID) error {
	if _, err := s.store.SetCurrentStatus(ctx, userID, []Availability{AvailabilityOnDelivery}, AvailabilityIdle, nil); err != nil {
		return err
	}
	p, err := s.FindPartnerUser(ctx, userID)
	if err != nil {
		return err
	}
	s.reindex(ctx, p)
	return nil
}

// NearbyDispatchable searches the geo index and keeps approved idle partners,
// nearest first.
func (s *Service) NearbyDispatchable(ctx context.Context, p types.Point, radiusMeters float64, limit int) ([]Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	// Over-fetch: some indexed members may have gone busy since their last ping.
	found, err := s.index.Search(ctx, p, radiusMeters, limit*3)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	ids := make([]types.ID, len(found))
	for i, c := range found {
		ids[i] = c.UserID
	}
	keep, err := s.store.FilterDispatchable(ctx, ids)
	if err != nil {
		return nil, err
	}
	ok := make(map[types.ID]bool, len(keep))
	for _, id := range keep {
		ok[id] = true
	}
	out := make([]Candidate, 0, limit)
	for _, c := range found {
		if ok[c.UserID] {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Service) reindex(ctx context.Context, p *Partner) {
	var err error
	if p.CurrentStatus == AvailabilityIdle && p.Approved() && p.SessionLocation != nil {
		err = s.index.Add(ctx, p.UserID, p.SessionLocation.Point)
	} else {
		err = s.index.Remove(ctx, p.UserID)
	}
	if err != nil {
		s.log.Warn("update partner geo index failed", "partner_id", p.UserID, "error", err)
	}
}
