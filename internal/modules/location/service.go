// README: Live-location service: validates samples, broadcasts at full rate, persists through a throttle.
package location

import (
	"context"
	"time"

	"foodhub/internal/config"
	"foodhub/internal/geo"
	"foodhub/internal/logger"
	"foodhub/internal/modules/partner"
	"foodhub/internal/realtime"
	"foodhub/internal/throttle"
	"foodhub/internal/types"
)

type Partners interface {
	SaveSessionLocation(ctx context.Context, userID types.ID, loc partner.SessionLocation) error
}

type Sessions interface {
	Set(ctx context.Context, userID types.ID, sess Session) error
	Get(ctx context.Context, userID types.ID) (Session, error)
}

type Service struct {
	partners    Partners
	sessions    Sessions
	throttle    throttle.Throttle
	rooms       realtime.Broadcaster
	maxAccuracy float64
	log         logger.Logger
	now         func() time.Time
}

func NewService(partners Partners, sessions Sessions, th throttle.Throttle, rooms realtime.Broadcaster, cfg config.LocationConfig, log logger.Logger) *Service {
	maxAccuracy := cfg.MaxAccuracyMeters
	if maxAccuracy <= 0 {
		maxAccuracy = DefaultMaxAccuracyMeters
	}
	return &Service{
		partners:    partners,
		sessions:    sessions,
		throttle:    th,
		rooms:       rooms,
		maxAccuracy: maxAccuracy,
		log:         log,
		now:         time.Now,
	}
}

var trackingRoles = []types.Role{types.RoleCustomer, types.RoleAdmin, types.RoleSuperAdmin, types.RoleDeliveryPartner}

// JoinOrderTracking reports whether actor may watch an order's live location.
func (s *Service) JoinOrderTracking(actor types.Actor, orderID types.ID) error {
	if orderID == "" {
		return ErrBadRequest
	}
	if !actor.Role.In(trackingRoles...) {
		return ErrForbidden
	}
	return nil
}

// HandleDeliveryUpdate broadcasts a partner sample to the order room. Invalid
// samples are dropped without an error and report false.
func (s *Service) HandleDeliveryUpdate(ctx context.Context, actor types.Actor, u DeliveryUpdate) (bool, error) {
	if actor.Role != types.RoleDeliveryPartner {
		return false, ErrForbidden
	}
	if u.OrderID == "" || !s.acceptable(u.Latitude, u.Longitude, u.GeoAccuracy, u.IsMocked) {
		return false, nil
	}
	now := s.now()
	s.rooms.EmitToRoom(realtime.OrderRoom(u.OrderID), EventDeliveryLive, Live{
		OrderID:     u.OrderID,
		PartnerID:   actor.ID,
		Latitude:    u.Latitude,
		Longitude:   u.Longitude,
		GeoAccuracy: u.GeoAccuracy,
		Heading:     u.Heading,
		Speed:       u.Speed,
		At:          now,
	})
	s.remember(ctx, actor.ID, u.Latitude, u.Longitude, u.GeoAccuracy, now)
	s.persist(ctx, actor.ID, partner.SessionLocation{
		Point:     types.Point{Lat: u.Latitude, Lng: u.Longitude},
		Accuracy:  u.GeoAccuracy,
		Heading:   u.Heading,
		Speed:     u.Speed,
		UpdatedAt: now,
	})
	return true, nil
}

// HandlePartnerPing records an idle partner's position so dispatch can find
// them. Nothing is broadcast.
func (s *Service) HandlePartnerPing(ctx context.Context, actor types.Actor, p Sample) (bool, error) {
	if actor.Role != types.RoleDeliveryPartner {
		return false, ErrForbidden
	}
	if !s.acceptable(p.Latitude, p.Longitude, p.GeoAccuracy, p.IsMocked) {
		return false, nil
	}
	now := s.now()
	s.remember(ctx, actor.ID, p.Latitude, p.Longitude, p.GeoAccuracy, now)
	s.persist(ctx, actor.ID, partner.SessionLocation{
		Point:     types.Point{Lat: p.Latitude, Lng: p.Longitude},
		Accuracy:  p.GeoAccuracy,
		Heading:   p.Heading,
		Speed:     p.Speed,
		UpdatedAt: now,
	})
	return true, nil
}

// HandleLocationUpdate refreshes the caller's session location; for partners
// it is a ping.
func (s *Service) HandleLocationUpdate(ctx context.Context, actor types.Actor, p Sample) (bool, error) {
	if actor.Role == types.RoleDeliveryPartner {
		return s.HandlePartnerPing(ctx, actor, p)
	}
	if !s.acceptable(p.Latitude, p.Longitude, p.GeoAccuracy, p.IsMocked) {
		return false, nil
	}
	s.remember(ctx, actor.ID, p.Latitude, p.Longitude, p.GeoAccuracy, s.now())
	return true, nil
}

// CurrentLocation returns the caller's last accepted position.
func (s *Service) CurrentLocation(ctx context.Context, userID types.ID) (types.Point, error) {
	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return types.Point{}, err
	}
	return sess.Point, nil
}

func (s *Service) acceptable(lat, lng float64, accuracy *float64, mocked bool) bool {
	if mocked || !geo.ValidCoordinates(lat, lng) {
		return false
	}
	if accuracy != nil && (*accuracy < 0 || *accuracy > s.maxAccuracy) {
		return false
	}
	return true
}

func (s *Service) remember(ctx context.Context, userID types.ID, lat, lng float64, accuracy *float64, at time.Time) {
	err := s.sessions.Set(ctx, userID, Session{Point: types.Point{Lat: lat, Lng: lng}, Accuracy: accuracy, UpdatedAt: at})
	if err != nil {
		s.log.Warn("store session location failed", "user_id", userID, "error", err)
	}
}

// persist runs after the broadcast; its failure never reaches the sender.
func (s *Service) persist(ctx context.Context, userID types.ID, loc partner.SessionLocation) {
	if !s.throttle.ShouldPersist(ctx, "location:"+string(userID)) {
		return
	}
	if err := s.partners.SaveSessionLocation(ctx, userID, loc); err != nil {
		s.log.Warn("persist partner location failed", "partner_id", userID, "error", err)
	}
}
