// README: Zone service resolves points to zones and guards the non-overlap rule on every write.
package zone

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"foodhub/internal/geo"
	"foodhub/internal/logger"
	"foodhub/internal/types"
)

type Store interface {
	Create(ctx context.Context, z *Zone) error
	Get(ctx context.Context, id types.ID) (*Zone, error)
	List(ctx context.Context, includeDeleted bool) ([]*Zone, error)
	Update(ctx context.Context, z *Zone, checkOverlap bool) error
	Intersecting(ctx context.Context, ring geo.Ring, exclude types.ID) ([]types.ID, error)
	Containing(ctx context.Context, p types.Point) ([]*Zone, error)
	Delete(ctx context.Context, id types.ID) error
}

type Service struct {
	store Store
	log   logger.Logger
	now   func() time.Time
}

func NewService(store Store, log logger.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

type CreateCommand struct {
	ZoneID            types.ID
	District          string
	ZoneName          string
	Boundary          geo.Ring
	IsOperational     bool
	MinFee            types.Money
	MaxDistanceMeters int
}

// Patch fields left nil are unchanged.
type Patch struct {
	District          *string
	ZoneName          *string
	Boundary          *geo.Ring
	MinFee            *types.Money
	MaxDistanceMeters *int
}

// ResolveForPoint returns the operational zone containing p.
func (s *Service) ResolveForPoint(ctx context.Context, p types.Point) (*Zone, error) {
	if !geo.ValidCoordinates(p.Lat, p.Lng) {
		return nil, ErrBadRequest
	}
	zones, err := s.store.Containing(ctx, p)
	if err != nil {
		return nil, err
	}
	switch len(zones) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return zones[0], nil
	default:
		ids := make([]string, len(zones))
		for i, z := range zones {
			ids[i] = string(z.ZoneID)
		}
		s.log.Error("point resolved to several operational zones",
			"lat", p.Lat, "lng", p.Lng, "zones", strings.Join(ids, ","))
		return nil, ErrIntegrity
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Zone, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, includeDeleted bool) ([]*Zone, error) {
	return s.store.List(ctx, includeDeleted)
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Zone, error) {
	if cmd.ZoneID == "" || cmd.District == "" || cmd.ZoneName == "" || cmd.MaxDistanceMeters < 0 || cmd.MinFee.Amount < 0 {
		return nil, ErrBadRequest
	}
	if err := cmd.Boundary.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if _, err := s.store.Get(ctx, cmd.ZoneID); err == nil {
		return nil, ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	ring := cmd.Boundary.Closed()
	if err := s.checkOverlap(ctx, ring, ""); err != nil {
		return nil, err
	}

	now := s.now()
	z := &Zone{
		ZoneID:            cmd.ZoneID,
		District:          cmd.District,
		ZoneName:          cmd.ZoneName,
		Boundary:          ring,
		IsOperational:     cmd.IsOperational,
		MinFee:            cmd.MinFee,
		MaxDistanceMeters: cmd.MaxDistanceMeters,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, z); err != nil {
		return nil, err
	}
	s.log.Info("zone created", "zone_id", z.ZoneID, "operational", z.IsOperational)
	return z, nil
}

// Update applies p. A boundary change is re-checked against every other
// operational zone; the zone's own previous boundary is ignored.
func (s *Service) Update(ctx context.Context, id types.ID, p Patch) (*Zone, error) {
	z, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if z.IsDeleted {
		return nil, ErrDeleted
	}
	checkOverlap := false
	if p.Boundary != nil {
		if err := p.Boundary.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		ring := p.Boundary.Closed()
		if err := s.checkOverlap(ctx, ring, id); err != nil {
			return nil, err
		}
		z.Boundary = ring
		checkOverlap = true
	}
	if p.District != nil {
		z.District = *p.District
	}
	if p.ZoneName != nil {
		z.ZoneName = *p.ZoneName
	}
	if p.MinFee != nil {
		if p.MinFee.Amount < 0 {
			return nil, ErrBadRequest
		}
		z.MinFee = *p.MinFee
	}
	if p.MaxDistanceMeters != nil {
		if *p.MaxDistanceMeters < 0 {
			return nil, ErrBadRequest
		}
		z.MaxDistanceMeters = *p.MaxDistanceMeters
	}
	z.UpdatedAt = s.now()
	if err := s.store.Update(ctx, z, checkOverlap); err != nil {
		return nil, err
	}
	return z, nil
}

// ToggleOperational rejects a no-op. Reactivating re-checks overlap, since
// another zone may have been created over this one while it was inactive.
func (s *Service) ToggleOperational(ctx context.Context, id types.ID, operational bool) (*Zone, error) {
	z, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if z.IsDeleted {
		return nil, ErrDeleted
	}
	if z.IsOperational == operational {
		return nil, ErrNoop
	}
	if operational {
		if err := s.checkOverlap(ctx, z.Boundary, id); err != nil {
			return nil, err
		}
	}
	z.IsOperational = operational
	z.UpdatedAt = s.now()
	if err := s.store.Update(ctx, z, operational); err != nil {
		return nil, err
	}
	s.log.Info("zone operational state changed", "zone_id", id, "operational", operational)
	return z, nil
}

func (s *Service) SoftDelete(ctx context.Context, id types.ID) error {
	z, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if z.IsOperational {
		return ErrStillOperational
	}
	if z.IsDeleted {
		return ErrDeleted
	}
	now := s.now()
	z.IsDeleted = true
	z.DeletedAt = &now
	z.UpdatedAt = now
	return s.store.Update(ctx, z, false)
}

func (s *Service) PermanentDelete(ctx context.Context, id types.ID) error {
	z, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !z.IsDeleted {
		return ErrNotSoftDeleted
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("zone permanently deleted", "zone_id", id)
	return nil
}

func (s *Service) checkOverlap(ctx context.Context, ring geo.Ring, exclude types.ID) error {
	ids, err := s.store.Intersecting(ctx, ring, exclude)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return ErrOverlap
	}
	return nil
}
