// README: Order service implements the state machine; all writes go through CAS transitions.
package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"foodhub/internal/apperr"
	"foodhub/internal/geo"
	"foodhub/internal/logger"
	"foodhub/internal/modules/pricing"
	"foodhub/internal/modules/zone"
	"foodhub/internal/outbox"
	"foodhub/internal/realtime"
	"foodhub/internal/types"
)

type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	SetPaid(ctx context.Context, id types.ID, version int, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, t Transition) (bool, error)
	StartDispatch(ctx context.Context, id types.ID, from Status, version int, pool []types.ID, expiresAt, now time.Time) (bool, error)
	AcceptDispatch(ctx context.Context, id, partnerID types.ID, now time.Time) (bool, error)
	DeclineDispatch(ctx context.Context, id, partnerID types.ID, now time.Time) (Status, int, bool, error)
	ListExpiredDispatches(ctx context.Context, now time.Time, limit int) ([]*Order, error)
	ExpireDispatch(ctx context.Context, id types.ID, now time.Time, notice *outbox.Message) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
}

type Zones interface {
	ResolveForPoint(ctx context.Context, p types.Point) (*zone.Zone, error)
}

// Vendors is the vendor directory as seen by orders.
type Vendors interface {
	BusinessAddress(ctx context.Context, vendorID types.ID) (types.Address, error)
	UserID(ctx context.Context, vendorID types.ID) (types.ID, error)
}

type Partners interface {
	IsApproved(ctx context.Context, userID types.ID) (bool, error)
	MarkIdle(ctx context.Context, userID types.ID) error
}

// Geocoder fills in coordinates for addresses submitted without them.
type Geocoder interface {
	Geocode(ctx context.Context, a types.Address) (types.Point, error)
}

// Outbox receives best-effort order_status_changed events.
type Outbox interface {
	Enqueue(ctx context.Context, m *outbox.Message) error
}

type Deps struct {
	Store    Store
	Zones    Zones
	Vendors  Vendors
	Partners Partners
	Pricing  *pricing.Service
	Geocoder Geocoder
	Outbox   Outbox
	Rooms    realtime.Broadcaster
	Log      logger.Logger
}

type Service struct {
	store    Store
	zones    Zones
	vendors  Vendors
	partners Partners
	pricing  *pricing.Service
	geocoder Geocoder
	outbox   Outbox
	rooms    realtime.Broadcaster
	log      logger.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:    d.Store,
		zones:    d.Zones,
		vendors:  d.Vendors,
		partners: d.Partners,
		pricing:  d.Pricing,
		geocoder: d.Geocoder,
		outbox:   d.Outbox,
		rooms:    d.Rooms,
		log:      log,
		now:      time.Now,
	}
}

// EventStatusChanged is emitted to the order room after every transition.
const EventStatusChanged = "order-status-changed"

type CreateCommand struct {
	CustomerID      types.ID
	VendorID        types.ID
	Items           []Item
	DeliveryAddress types.Address
	Paid            bool
}

type DecideCommand struct {
	OrderID types.ID
	Actor   types.Actor
	Accept  bool
	Reason  string
}

type StartDispatchCommand struct {
	OrderID   types.ID
	Pool      []types.ID
	ExpiresAt time.Time
}

type DispatchReplyCommand struct {
	OrderID   types.ID
	PartnerID types.ID
	Now       time.Time
}

type StatusCommand struct {
	OrderID types.ID
	To      Status
	Actor   types.Actor
	Reason  string
}

type CancelCommand struct {
	OrderID types.ID
	Actor   types.Actor
	Reason  string
}

type ReleaseCommand struct {
	OrderID types.ID
	Actor   types.Actor
	Reason  string
}

// DeclineResult tells dispatch whether the decline emptied the pool.
type DeclineResult struct {
	Order     *Order
	Remaining int
}

// Create converts a checkout into an order. The money snapshot is computed
// here once and never recomputed.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.CustomerID == "" || cmd.VendorID == "" || len(cmd.Items) == 0 {
		return nil, ErrBadRequest
	}
	if cmd.DeliveryAddress.Location == (types.Point{}) && s.geocoder != nil {
		p, err := s.geocoder.Geocode(ctx, cmd.DeliveryAddress)
		if err != nil {
			s.log.Warn("geocode delivery address failed", "customer_id", cmd.CustomerID, "error", err)
			return nil, ErrBadRequest
		}
		cmd.DeliveryAddress.Location = p
	}
	loc := cmd.DeliveryAddress.Location
	if !geo.ValidCoordinates(loc.Lat, loc.Lng) {
		return nil, ErrBadRequest
	}
	subtotal := types.Money{Currency: s.pricing.Currency()}
	for _, it := range cmd.Items {
		if it.Quantity <= 0 || it.UnitPrice.Amount < 0 {
			return nil, ErrBadRequest
		}
		subtotal.Amount += it.UnitPrice.Amount * int64(it.Quantity)
	}

	vendorAddr, err := s.vendors.BusinessAddress(ctx, cmd.VendorID)
	if err != nil {
		return nil, err
	}
	z, err := s.zones.ResolveForPoint(ctx, vendorAddr.Location)
	if err != nil {
		return nil, err
	}
	dist := geo.Distance(&vendorAddr.Location, &loc)
	fee, err := s.pricing.DeliveryFee(pricing.ZoneLimits{MinFee: z.MinFee, MaxDistanceMeters: z.MaxDistanceMeters}, dist.Kilometers)
	if err != nil {
		return nil, err
	}
	snap, err := s.pricing.Snapshot(subtotal, fee)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:                  newOrderID(now),
		CustomerID:          cmd.CustomerID,
		VendorID:            cmd.VendorID,
		Status:              StatusPending,
		IsPaid:              cmd.Paid,
		ZoneID:              z.ZoneID,
		Items:               cmd.Items,
		DeliveryAddress:     cmd.DeliveryAddress,
		DispatchPartnerPool: []types.ID{},
		Pricing:             snap,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if cmd.Paid {
		o.PaidAt = &now
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	s.record(ctx, o, StatusNone, StatusPending, "customer", &cmd.CustomerID, nil)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

// GetFor returns the order when actor is a party to it.
func (s *Service) GetFor(ctx context.Context, id types.ID, actor types.Actor) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Role.IsAdmin():
	case actor.ID == o.CustomerID:
	case o.DeliveryPartnerID != nil && *o.DeliveryPartnerID == actor.ID:
	case o.InPool(actor.ID):
	case actor.Role == types.RoleVendor && s.ownsVendor(ctx, o, actor.ID):
	default:
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *Service) MarkPaid(ctx context.Context, id types.ID) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.IsPaid {
		return o, nil
	}
	if o.Status != StatusPending {
		return nil, ErrInvalidState
	}
	now := s.now()
	ok, err := s.store.SetPaid(ctx, id, o.StatusVersion, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	return s.store.Get(ctx, id)
}

// VendorDecide accepts or rejects a paid PENDING order. Acceptance snapshots
// the vendor's current business address as the pickup address.
func (s *Service) VendorDecide(ctx context.Context, cmd DecideCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !cmd.Actor.Role.IsAdmin() && !s.ownsVendor(ctx, o, cmd.Actor.ID) {
		return nil, ErrForbidden
	}
	if !o.IsPaid {
		return nil, ErrNotPaid
	}
	if o.Status != StatusPending {
		return nil, ErrInvalidState
	}

	t := Transition{OrderID: o.ID, From: o.Status, Version: o.StatusVersion, At: s.now()}
	if cmd.Accept {
		addr, err := s.vendors.BusinessAddress(ctx, o.VendorID)
		if err != nil {
			return nil, err
		}
		t.To = StatusAccepted
		t.PickupAddress = &addr
	} else {
		t.To = StatusRejected
		if cmd.Reason != "" {
			t.Reason = &cmd.Reason
		}
	}
	return s.apply(ctx, o, t, "vendor", &cmd.Actor.ID)
}

// StartDispatch opens a dispatch entry with a fixed deadline.
func (s *Service) StartDispatch(ctx context.Context, cmd StartDispatchCommand) (*Order, error) {
	if len(cmd.Pool) == 0 {
		return nil, ErrBadRequest
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusDispatching) {
		return nil, ErrInvalidState
	}
	now := s.now()
	ok, err := s.store.StartDispatch(ctx, o.ID, o.Status, o.StatusVersion, cmd.Pool, cmd.ExpiresAt, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	return s.committed(ctx, o, o.Status, StatusDispatching, "system", nil, nil)
}

// AcceptDispatch is the race point of the dispatch flow: the conditional
// update lets exactly one pool member win. Losers are told why.
func (s *Service) AcceptDispatch(ctx context.Context, cmd DispatchReplyCommand) (*Order, error) {
	now := cmd.Now
	if now.IsZero() {
		now = s.now()
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := classifyAccept(o, cmd.PartnerID, now); err != nil {
		return nil, err
	}
	ok, err := s.store.AcceptDispatch(ctx, o.ID, cmd.PartnerID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		latest, err := s.store.Get(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if err := classifyAccept(latest, cmd.PartnerID, now); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.committed(ctx, o, StatusDispatching, StatusAssigned, "partner", &cmd.PartnerID, nil)
}

func classifyAccept(o *Order, partnerID types.ID, now time.Time) error {
	switch o.Status {
	case StatusDispatching:
		if !o.InPool(partnerID) {
			return ErrNotInPool
		}
		if o.DispatchExpiresAt == nil || !o.DispatchExpiresAt.After(now) {
			return ErrDispatchClosed
		}
		return nil
	case StatusAssigned, StatusPickedUp, StatusOnTheWay, StatusDelivered:
		return ErrAlreadyAssigned
	default:
		return ErrDispatchClosed
	}
}

// DeclineDispatch drops the partner from the open pool.
func (s *Service) DeclineDispatch(ctx context.Context, cmd DispatchReplyCommand) (*DeclineResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = s.now()
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusDispatching {
		return nil, ErrDispatchClosed
	}
	if !o.InPool(cmd.PartnerID) {
		return nil, ErrNotInPool
	}
	status, remaining, ok, err := s.store.DeclineDispatch(ctx, o.ID, cmd.PartnerID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDispatchClosed
	}
	if status == StatusReassignmentNeeded {
		latest, err := s.committed(ctx, o, StatusDispatching, StatusReassignmentNeeded, "partner", &cmd.PartnerID, nil)
		if err != nil {
			return nil, err
		}
		return &DeclineResult{Order: latest, Remaining: remaining}, nil
	}
	latest, err := s.store.Get(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return &DeclineResult{Order: latest, Remaining: remaining}, nil
}

func (s *Service) ListExpiredDispatches(ctx context.Context, now time.Time, limit int) ([]*Order, error) {
	return s.store.ListExpiredDispatches(ctx, now, limit)
}

// ExpireDispatch reports false when the entry was resolved before the sweep got to it.
func (s *Service) ExpireDispatch(ctx context.Context, o *Order, now time.Time, notice *outbox.Message) (bool, error) {
	ok, err := s.store.ExpireDispatch(ctx, o.ID, now, notice)
	if err != nil || !ok {
		return ok, err
	}
	s.publish(ctx, o, StatusDispatching, StatusAwaitingPartner, nil)
	return true, nil
}

// UpdateStatus is the generic transition entry point. Dispatch-owned targets
// are refused; vendor decisions and cancellation are routed to their own rules.
func (s *Service) UpdateStatus(ctx context.Context, cmd StatusCommand) (*Order, error) {
	if dispatchOwned[cmd.To] {
		return nil, ErrDispatchOwned
	}
	switch cmd.To {
	case StatusAccepted, StatusRejected:
		return s.VendorDecide(ctx, DecideCommand{OrderID: cmd.OrderID, Actor: cmd.Actor, Accept: cmd.To == StatusAccepted, Reason: cmd.Reason})
	case StatusCanceled:
		return s.Cancel(ctx, CancelCommand{OrderID: cmd.OrderID, Actor: cmd.Actor, Reason: cmd.Reason})
	}
	if !courierSteps[cmd.To] {
		return nil, ErrBadRequest
	}

	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !cmd.Actor.Role.IsAdmin() {
		if err := s.checkBoundPartner(ctx, o, cmd.Actor); err != nil {
			return nil, err
		}
	}
	if !CanTransition(o.Status, cmd.To) {
		return nil, ErrInvalidState
	}
	updated, err := s.apply(ctx, o, Transition{
		OrderID: o.ID, From: o.Status, To: cmd.To, Version: o.StatusVersion, At: s.now(),
	}, actorType(cmd.Actor), &cmd.Actor.ID)
	if err != nil {
		return nil, err
	}
	if cmd.To == StatusDelivered && updated.DeliveryPartnerID != nil {
		if err := s.partners.MarkIdle(ctx, *updated.DeliveryPartnerID); err != nil {
			s.log.Warn("mark partner idle failed", "order_id", o.ID, "partner_id", *updated.DeliveryPartnerID, "error", err)
		}
	}
	return updated, nil
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	switch {
	case cmd.Actor.Role.IsAdmin():
	case cmd.Actor.ID == o.CustomerID:
	case cmd.Actor.Role == types.RoleVendor && s.ownsVendor(ctx, o, cmd.Actor.ID):
	default:
		return nil, ErrForbidden
	}
	if CancelBlocked[o.Status] {
		return nil, ErrCancelBlocked
	}
	if !CanTransition(o.Status, StatusCanceled) {
		return nil, ErrInvalidState
	}
	t := Transition{OrderID: o.ID, From: o.Status, To: StatusCanceled, Version: o.StatusVersion, At: s.now()}
	if cmd.Reason != "" {
		t.Reason = &cmd.Reason
	}
	return s.apply(ctx, o, t, actorType(cmd.Actor), &cmd.Actor.ID)
}

// ReleaseAssignment is the exception path out of ASSIGNED: the bound partner
// or an admin hands the order back for a new dispatch.
func (s *Service) ReleaseAssignment(ctx context.Context, cmd ReleaseCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !cmd.Actor.Role.IsAdmin() {
		if err := s.checkBoundPartner(ctx, o, cmd.Actor); err != nil {
			return nil, err
		}
	}
	if o.Status != StatusAssigned {
		return nil, ErrInvalidState
	}
	t := Transition{
		OrderID: o.ID, From: o.Status, To: StatusReassignmentNeeded, Version: o.StatusVersion,
		ClearPartner: true, At: s.now(),
	}
	if cmd.Reason != "" {
		t.Reason = &cmd.Reason
	}
	updated, err := s.apply(ctx, o, t, actorType(cmd.Actor), &cmd.Actor.ID)
	if err != nil {
		return nil, err
	}
	if o.DeliveryPartnerID != nil {
		if err := s.partners.MarkIdle(ctx, *o.DeliveryPartnerID); err != nil {
			s.log.Warn("mark partner idle failed", "order_id", o.ID, "partner_id", *o.DeliveryPartnerID, "error", err)
		}
	}
	return updated, nil
}

func (s *Service) checkBoundPartner(ctx context.Context, o *Order, actor types.Actor) error {
	if actor.Role != types.RoleDeliveryPartner || o.DeliveryPartnerID == nil || *o.DeliveryPartnerID != actor.ID {
		return ErrForbidden
	}
	approved, err := s.partners.IsApproved(ctx, actor.ID)
	if err != nil {
		return err
	}
	if !approved {
		return ErrPartnerNotActive
	}
	return nil
}

func (s *Service) ownsVendor(ctx context.Context, o *Order, userID types.ID) bool {
	owner, err := s.vendors.UserID(ctx, o.VendorID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.log.Warn("vendor owner lookup failed", "vendor_id", o.VendorID, "error", err)
		}
		return false
	}
	return owner == userID
}

// apply runs one CAS transition and records it. A lost race surfaces as ErrConflict.
func (s *Service) apply(ctx context.Context, o *Order, t Transition, actorType string, actorID *types.ID) (*Order, error) {
	if !CanTransition(t.From, t.To) {
		return nil, ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	return s.committed(ctx, o, t.From, t.To, actorType, actorID, t.Reason)
}

// committed reloads o after a successful transition and records it against
// the new state.
func (s *Service) committed(ctx context.Context, o *Order, from, to Status, actorType string, actorID *types.ID, reason *string) (*Order, error) {
	updated, err := s.store.Get(ctx, o.ID)
	if err != nil {
		s.record(ctx, o, from, to, actorType, actorID, reason)
		return nil, err
	}
	s.record(ctx, updated, from, to, actorType, actorID, reason)
	return updated, nil
}

// record appends the audit event and publishes the change. Both are best
// effort once the transition itself has committed.
func (s *Service) record(ctx context.Context, o *Order, from, to Status, actorType string, actorID *types.ID, reason *string) {
	if err := s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		Reason:     reason,
		CreatedAt:  s.now(),
	}); err != nil {
		s.log.Warn("append order event failed", "order_id", o.ID, "to", to, "error", err)
	}
	s.publish(ctx, o, from, to, actorID)
}

func (s *Service) publish(ctx context.Context, o *Order, from, to Status, actorID *types.ID) {
	change := outbox.OrderStatusChanged{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		VendorID:   o.VendorID,
		PartnerID:  o.DeliveryPartnerID,
		From:       string(from),
		To:         string(to),
		ActorID:    actorID,
	}
	if s.rooms != nil {
		s.rooms.EmitToRoom(realtime.OrderRoom(o.ID), EventStatusChanged, change)
	}
	if s.outbox == nil {
		return
	}
	msg, err := outbox.NewOrderStatusChanged(change, s.now())
	if err == nil {
		err = s.outbox.Enqueue(ctx, msg)
	}
	if err != nil {
		s.log.Warn("enqueue order status change failed", "order_id", o.ID, "to", to, "error", err)
	}
}

func actorType(a types.Actor) string {
	switch a.Role {
	case types.RoleCustomer:
		return "customer"
	case types.RoleVendor:
		return "vendor"
	case types.RoleDeliveryPartner:
		return "partner"
	default:
		return "admin"
	}
}

func newOrderID(now time.Time) types.ID {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return types.ID("ORD-" + now.UTC().Format("060102") + "-" + suffix)
}
