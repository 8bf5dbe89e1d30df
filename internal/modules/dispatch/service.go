// README: Dispatch service finds candidates in tiered radii, opens a fixed-deadline offer and settles replies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foodhub/internal/config"
	"foodhub/internal/geo"
	"foodhub/internal/logger"
	"foodhub/internal/maps"
	"foodhub/internal/modules/order"
	"foodhub/internal/modules/partner"
	"foodhub/internal/modules/zone"
	"foodhub/internal/outbox"
	"foodhub/internal/realtime"
	"foodhub/internal/types"
)

type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	StartDispatch(ctx context.Context, cmd order.StartDispatchCommand) (*order.Order, error)
	AcceptDispatch(ctx context.Context, cmd order.DispatchReplyCommand) (*order.Order, error)
	DeclineDispatch(ctx context.Context, cmd order.DispatchReplyCommand) (*order.DeclineResult, error)
	ListExpiredDispatches(ctx context.Context, now time.Time, limit int) ([]*order.Order, error)
	ExpireDispatch(ctx context.Context, o *order.Order, now time.Time, notice *outbox.Message) (bool, error)
}

type Partners interface {
	NearbyDispatchable(ctx context.Context, p types.Point, radiusMeters float64, limit int) ([]partner.Candidate, error)
	IsApproved(ctx context.Context, userID types.ID) (bool, error)
	MarkOnDelivery(ctx context.Context, userID, orderID types.ID) error
	ReleaseClaim(ctx context.Context, userID, orderID types.ID) error
}

type Zones interface {
	ResolveForPoint(ctx context.Context, p types.Point) (*zone.Zone, error)
}

type Vendors interface {
	UserID(ctx context.Context, vendorID types.ID) (types.ID, error)
}

type OfferStore interface {
	RecordOffer(ctx context.Context, orderID types.ID, partners []types.ID, at time.Time) error
	RecordDecline(ctx context.Context, orderID, partnerID types.ID) error
	Declined(ctx context.Context, orderID types.ID) (map[types.ID]bool, error)
	FirstDispatchedAt(ctx context.Context, orderID types.ID) (time.Time, bool, error)
}

// Pusher sends a device push notification; realtime delivery is separate.
type Pusher interface {
	SendUserNotification(ctx context.Context, userID types.ID, title, body string, data map[string]string) error
}

type Estimator interface {
	Estimate(ctx context.Context, origin, destination types.Point) (maps.ETA, error)
}

type Deps struct {
	Orders   Orders
	Partners Partners
	Zones    Zones
	Vendors  Vendors
	Offers   OfferStore
	Rooms    realtime.Broadcaster
	Pusher   Pusher
	ETA      Estimator
	Config   config.DispatchConfig
	Log      logger.Logger
}

type Service struct {
	orders   Orders
	partners Partners
	zones    Zones
	vendors  Vendors
	offers   OfferStore
	rooms    realtime.Broadcaster
	pusher   Pusher
	eta      Estimator
	cfg      config.DispatchConfig
	log      logger.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		orders:   d.Orders,
		partners: d.Partners,
		zones:    d.Zones,
		vendors:  d.Vendors,
		offers:   d.Offers,
		rooms:    d.Rooms,
		pusher:   d.Pusher,
		eta:      d.ETA,
		cfg:      d.Config,
		log:      d.Log,
		now:      time.Now,
	}
}

// Dispatch offers orderID to the nearest idle partners. With no candidates
// in any tier the order is left untouched and ErrNoPartnersAvailable returned.
func (s *Service) Dispatch(ctx context.Context, orderID types.ID) (*Result, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.CanTransition(o.Status, order.StatusDispatching) {
		return nil, order.ErrInvalidState
	}
	if o.PickupAddress == nil {
		return nil, ErrNoPickup
	}
	pickup := o.PickupAddress.Location

	declined, err := s.offers.Declined(ctx, o.ID)
	if err != nil {
		s.log.Warn("load declined partners failed", "order_id", o.ID, "error", err)
		declined = nil
	}

	var candidates []partner.Candidate
	radius := 0
	for _, r := range s.radii(ctx, pickup) {
		radius = r
		found, err := s.partners.NearbyDispatchable(ctx, pickup, float64(r), s.cfg.MaxPoolSize+len(declined))
		if err != nil {
			return nil, fmt.Errorf("search partners within %dm: %w", r, err)
		}
		candidates = candidates[:0]
		for _, c := range found {
			if !declined[c.UserID] {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) >= s.minCandidates() {
			break
		}
	}
	if len(candidates) == 0 {
		s.log.Info("no partners available", "order_id", o.ID, "radius_m", radius)
		return nil, ErrNoPartnersAvailable
	}
	if len(candidates) > s.cfg.MaxPoolSize {
		candidates = candidates[:s.cfg.MaxPoolSize]
	}

	now := s.now()
	pool := make([]types.ID, len(candidates))
	for i, c := range candidates {
		pool[i] = c.UserID
	}
	expiresAt := now.Add(s.cfg.OfferWindow)
	updated, err := s.orders.StartDispatch(ctx, order.StartDispatchCommand{OrderID: o.ID, Pool: pool, ExpiresAt: expiresAt})
	if err != nil {
		return nil, err
	}

	if first, ok, err := s.offers.FirstDispatchedAt(ctx, o.ID); err == nil && ok {
		s.log.Info("order re-dispatched", "order_id", o.ID, "waiting", now.Sub(first).String())
	}
	if err := s.offers.RecordOffer(ctx, o.ID, pool, now); err != nil {
		s.log.Warn("record dispatch offer failed", "order_id", o.ID, "error", err)
	}

	offers := make([]Offer, len(candidates))
	for i, c := range candidates {
		offers[i] = s.offer(ctx, updated, c, expiresAt)
		s.rooms.EmitToRoom(realtime.UserRoom(c.UserID), EventOffer, offers[i])
		s.push(ctx, c.UserID, "New delivery request", "A new order is waiting for you nearby.", map[string]string{
			"event":   EventOffer,
			"orderId": string(o.ID),
		})
	}
	s.log.Info("order dispatched", "order_id", o.ID, "radius_m", radius, "pool", len(pool), "expires_at", expiresAt)
	return &Result{Order: updated, RadiusMeters: radius, Offers: offers}, nil
}

// Accept settles the offer for partnerID. Only approved partners may accept.
// The partner is claimed before the order, so a partner offered several
// orders can hold at most one of them.
func (s *Service) Accept(ctx context.Context, partnerID, orderID types.ID) (*order.Order, error) {
	approved, err := s.partners.IsApproved(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, order.ErrPartnerNotActive
	}
	if err := s.partners.MarkOnDelivery(ctx, partnerID, orderID); err != nil {
		if errors.Is(err, partner.ErrNotAvailable) {
			return nil, ErrPartnerBusy
		}
		return nil, err
	}
	o, err := s.orders.AcceptDispatch(ctx, order.DispatchReplyCommand{OrderID: orderID, PartnerID: partnerID, Now: s.now()})
	if err != nil {
		if relErr := s.partners.ReleaseClaim(ctx, partnerID, orderID); relErr != nil {
			s.log.Error("release partner claim failed", "order_id", orderID, "partner_id", partnerID, "error", relErr)
		}
		return nil, err
	}

	a := Assignment{OrderID: o.ID, PartnerID: partnerID}
	s.rooms.EmitToRoom(realtime.OrderRoom(o.ID), EventPartnerAssigned, a)
	s.rooms.EmitToRoom(realtime.UserRoom(o.CustomerID), EventPartnerAssigned, a)
	if vendorUser, err := s.vendors.UserID(ctx, o.VendorID); err == nil {
		s.rooms.EmitToRoom(realtime.UserRoom(vendorUser), EventPartnerAssigned, a)
	} else {
		s.log.Warn("vendor lookup failed", "order_id", o.ID, "vendor_id", o.VendorID, "error", err)
	}
	s.log.Info("order assigned", "order_id", o.ID, "partner_id", partnerID)
	return o, nil
}

// Decline removes partnerID from the pool and remembers the decline so later
// dispatches of the same order skip them.
func (s *Service) Decline(ctx context.Context, partnerID, orderID types.ID) (*order.DeclineResult, error) {
	res, err := s.orders.DeclineDispatch(ctx, order.DispatchReplyCommand{OrderID: orderID, PartnerID: partnerID, Now: s.now()})
	if err != nil {
		return nil, err
	}
	if err := s.offers.RecordDecline(ctx, orderID, partnerID); err != nil {
		s.log.Warn("record decline failed", "order_id", orderID, "partner_id", partnerID, "error", err)
	}
	if res.Remaining == 0 {
		vendorUser, err := s.vendors.UserID(ctx, res.Order.VendorID)
		if err != nil {
			s.log.Warn("vendor lookup failed", "order_id", orderID, "vendor_id", res.Order.VendorID, "error", err)
			return res, nil
		}
		payload := map[string]string{"event": EventReassignmentNeeded, "orderId": string(orderID)}
		s.rooms.EmitToRoom(realtime.UserRoom(vendorUser), EventReassignmentNeeded, payload)
		s.push(ctx, vendorUser, "Order needs a new delivery partner", "Every offered partner declined order "+string(orderID)+".", payload)
	}
	return res, nil
}

// radii are the configured tiers capped at the pickup zone's delivery range.
func (s *Service) radii(ctx context.Context, pickup types.Point) []int {
	tiers := s.cfg.RadiiMeters
	z, err := s.zones.ResolveForPoint(ctx, pickup)
	if err != nil {
		s.log.Warn("pickup zone lookup failed, searching uncapped", "lat", pickup.Lat, "lng", pickup.Lng, "error", err)
		return tiers
	}
	if z.MaxDistanceMeters <= 0 {
		return tiers
	}
	out := make([]int, 0, len(tiers))
	for _, r := range tiers {
		if r >= z.MaxDistanceMeters {
			out = append(out, z.MaxDistanceMeters)
			break
		}
		out = append(out, r)
	}
	return out
}

func (s *Service) minCandidates() int {
	if s.cfg.MinCandidates < 1 {
		return 1
	}
	return s.cfg.MinCandidates
}

func (s *Service) offer(ctx context.Context, o *order.Order, c partner.Candidate, expiresAt time.Time) Offer {
	pickup := o.PickupAddress.Location
	off := Offer{
		OrderID:         o.ID,
		PickupAddress:   *o.PickupAddress,
		DeliveryAddress: o.DeliveryAddress,
		DistanceMeters:  c.DistanceMeters,
		Earnings:        o.Pricing.PartnerNet,
		ExpiresAt:       expiresAt,
	}
	if off.DistanceMeters == 0 {
		off.DistanceMeters = float64(geo.Distance(&c.Location, &pickup).Meters)
	}
	if s.eta != nil {
		eta, err := s.eta.Estimate(ctx, c.Location, pickup)
		if err != nil {
			s.log.Debug("eta estimate failed", "order_id", o.ID, "partner_id", c.UserID, "error", err)
		} else {
			off.ETA = &eta
		}
	}
	return off
}

func (s *Service) push(ctx context.Context, userID types.ID, title, body string, data map[string]string) {
	if s.pusher == nil {
		return
	}
	if err := s.pusher.SendUserNotification(ctx, userID, title, body, data); err != nil {
		s.log.Warn("push notification failed", "user_id", userID, "error", err)
	}
}
