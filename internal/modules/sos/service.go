// README: SOS service: trigger, investigator status changes, proximity search and live streaming.
package sos

import (
	"context"
	"strings"
	"sync"
	"time"

	"foodhub/internal/config"
	"foodhub/internal/geo"
	"foodhub/internal/logger"
	"foodhub/internal/modules/partner"
	"foodhub/internal/realtime"
	"foodhub/internal/throttle"
	"foodhub/internal/types"
)

type Store interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id types.ID) (*Alert, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, note *Note, resolvedBy *types.ID, at time.Time) (bool, error)
	UpdateLocation(ctx context.Context, id, actorID types.ID, p types.Point, at time.Time) (bool, error)
	Nearby(ctx context.Context, p types.Point, radiusMeters int) ([]*Alert, error)
	List(ctx context.Context, f Filter) ([]*Alert, error)
}

// Locations resolves a user's live session position.
type Locations interface {
	CurrentLocation(ctx context.Context, userID types.ID) (types.Point, error)
}

type Partners interface {
	FindPartnerUser(ctx context.Context, userID types.ID) (*partner.Partner, error)
}

// roomCounter is implemented by the live hub.
type roomCounter interface {
	Members(room realtime.Room) int
}

type Deps struct {
	Store     Store
	Locations Locations
	Partners  Partners
	Throttle  throttle.Throttle
	Rooms     realtime.Broadcaster
	Config    config.SOSConfig
	Log       logger.Logger
}

type Service struct {
	store     Store
	locations Locations
	partners  Partners
	throttle  throttle.Throttle
	rooms     realtime.Broadcaster
	radius    int
	log       logger.Logger
	now       func() time.Time

	// raisers caches the raiser of open alerts for the live stream.
	mu      sync.Mutex
	raisers map[types.ID]raiserEntry
}

type raiserEntry struct {
	actorID types.ID
	at      time.Time
}

const raiserTTL = 30 * time.Second

func NewService(d Deps) *Service {
	radius := d.Config.NearbyRadiusMeters
	if radius <= 0 {
		radius = 5000
	}
	return &Service{
		store:     d.Store,
		locations: d.Locations,
		partners:  d.Partners,
		throttle:  d.Throttle,
		rooms:     d.Rooms,
		radius:    radius,
		log:       d.Log,
		now:       time.Now,
		raisers:   make(map[types.ID]raiserEntry),
	}
}

var monitorRoles = []types.Role{types.RoleAdmin, types.RoleSuperAdmin, types.RoleFleetManager}

func (s *Service) JoinMonitoring(actor types.Actor) error {
	if !actor.Role.In(monitorRoles...) {
		return ErrForbidden
	}
	return nil
}

// Trigger raises an alert at the actor's live session location.
func (s *Service) Trigger(ctx context.Context, actor types.Actor, p TriggerPayload) (*Alert, error) {
	kind, ok := kindByRole[actor.Role]
	if !ok {
		return nil, ErrForbidden
	}
	loc, err := s.locations.CurrentLocation(ctx, actor.ID)
	if err != nil {
		return nil, ErrLocationUnknown
	}
	now := s.now()
	a := &Alert{
		ID:        types.NewID(),
		ActorID:   actor.ID,
		ActorKind: kind,
		Role:      actor.Role,
		OrderID:   p.OrderID,
		Status:    StatusActive,
		Notes:     []Note{},
		Tags:      p.Tags,
		Device:    p.Device,
		Location:  loc,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if msg := strings.TrimSpace(p.Message); msg != "" {
		a.Notes = append(a.Notes, Note{Text: msg, By: actor.ID, At: now})
	}
	if kind == KindDeliveryPartner && s.partners != nil {
		// Snapshot the registering fleet manager so scoping survives later reassignments.
		if pr, err := s.partners.FindPartnerUser(ctx, actor.ID); err == nil {
			a.FleetManagerID = pr.RegisteredBy
		} else {
			s.log.Warn("sos partner lookup failed", "user_id", actor.ID, "error", err)
		}
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	s.rooms.EmitToRoom(realtime.SOSPoolRoom(), EventNewAlert, a)
	s.log.Info("sos raised", "sos_id", a.ID, "actor_id", actor.ID, "role", actor.Role)
	if c, ok := s.rooms.(roomCounter); ok && c.Members(realtime.SOSPoolRoom()) == 0 {
		s.log.Warn("sos raised with no monitors connected", "sos_id", a.ID)
	}
	return a, nil
}

// UpdateStatus moves an alert forward. Notes are appended, never replaced.
func (s *Service) UpdateStatus(ctx context.Context, id types.ID, investigator types.Actor, upd StatusUpdate) (*Alert, error) {
	if !investigator.Role.In(monitorRoles...) {
		return nil, ErrForbidden
	}
	if !upd.Status.Valid() {
		return nil, ErrBadRequest
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canSee(investigator, a) {
		return nil, ErrForbidden
	}
	switch {
	case a.Status == StatusResolved:
		return nil, ErrResolved
	case a.Status == upd.Status:
		return nil, ErrNoop
	case rank[upd.Status] < rank[a.Status]:
		return nil, ErrInvalidTransition
	}

	now := s.now()
	var note *Note
	if text := strings.TrimSpace(upd.Note); text != "" {
		note = &Note{Text: text, By: investigator.ID, At: now}
	}
	var resolvedBy *types.ID
	if upd.Status == StatusResolved {
		resolvedBy = &investigator.ID
	}
	ok, err := s.store.UpdateStatus(ctx, id, a.Status, upd.Status, note, resolvedBy, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	updated, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated.Status == StatusResolved {
		s.forget(id)
	}
	event := StatusUpdatedEvent(id)
	s.rooms.EmitToRoom(realtime.SOSPoolRoom(), event, updated)
	s.rooms.EmitToRoom(realtime.UserRoom(updated.ActorID), event, updated)
	return updated, nil
}

// Nearby lists ACTIVE alerts around the actor's live location.
func (s *Service) Nearby(ctx context.Context, actor types.Actor) ([]*Alert, error) {
	loc, err := s.locations.CurrentLocation(ctx, actor.ID)
	if err != nil {
		return nil, ErrLocationUnknown
	}
	return s.store.Nearby(ctx, loc, s.radius)
}

// HandleLocationStream broadcasts the raiser's position to monitors and
// persists it at most once per interval per alert. Bad samples and samples
// for resolved alerts are dropped; anyone but the raiser is refused.
func (s *Service) HandleLocationStream(ctx context.Context, actor types.Actor, smp StreamSample) (bool, error) {
	if smp.SosID == "" || !geo.ValidCoordinates(smp.Latitude, smp.Longitude) {
		return false, nil
	}
	if smp.GeoAccuracy != nil && (*smp.GeoAccuracy < 0 || *smp.GeoAccuracy > 100) {
		return false, nil
	}
	now := s.now()
	raiser, open, err := s.raiser(ctx, smp.SosID, now)
	if err != nil {
		return false, err
	}
	if !open {
		return false, nil
	}
	if raiser != actor.ID {
		return false, ErrForbidden
	}
	s.rooms.EmitToRoom(realtime.SOSPoolRoom(), LiveLocationEvent(smp.SosID), map[string]any{
		"sosId":       smp.SosID,
		"actorId":     actor.ID,
		"latitude":    smp.Latitude,
		"longitude":   smp.Longitude,
		"geoAccuracy": smp.GeoAccuracy,
		"at":          now,
	})
	if !s.throttle.ShouldPersist(ctx, "sos:"+string(smp.SosID)+":"+string(actor.ID)) {
		return true, nil
	}
	if _, err := s.store.UpdateLocation(ctx, smp.SosID, actor.ID, types.Point{Lat: smp.Latitude, Lng: smp.Longitude}, now); err != nil {
		s.log.Warn("persist sos location failed", "sos_id", smp.SosID, "error", err)
	}
	return true, nil
}

// raiser reports who raised sosID and whether the alert still accepts
// samples. Open alerts are cached for raiserTTL.
func (s *Service) raiser(ctx context.Context, sosID types.ID, now time.Time) (types.ID, bool, error) {
	s.mu.Lock()
	e, ok := s.raisers[sosID]
	s.mu.Unlock()
	if ok && now.Sub(e.at) < raiserTTL {
		return e.actorID, true, nil
	}
	a, err := s.store.Get(ctx, sosID)
	if err != nil {
		return "", false, err
	}
	if a.Status == StatusResolved {
		s.forget(sosID)
		return a.ActorID, false, nil
	}
	s.mu.Lock()
	s.raisers[sosID] = raiserEntry{actorID: a.ActorID, at: now}
	s.mu.Unlock()
	return a.ActorID, true, nil
}

func (s *Service) forget(sosID types.ID) {
	s.mu.Lock()
	delete(s.raisers, sosID)
	s.mu.Unlock()
}

// List returns alerts visible to actor. Fleet managers only see alerts raised
// by partners they registered.
func (s *Service) List(ctx context.Context, actor types.Actor, f Filter) ([]*Alert, error) {
	if !actor.Role.In(monitorRoles...) {
		return nil, ErrForbidden
	}
	f.FleetManagerID = nil
	if actor.Role == types.RoleFleetManager {
		id := actor.ID
		f.FleetManagerID = &id
	}
	return s.store.List(ctx, f)
}

// History lists closed alerts.
func (s *Service) History(ctx context.Context, actor types.Actor, f Filter) ([]*Alert, error) {
	f.Statuses = []Status{StatusFalseAlarm, StatusResolved}
	return s.List(ctx, actor, f)
}

func (s *Service) Get(ctx context.Context, actor types.Actor, id types.ID) (*Alert, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ActorID != actor.ID && !(actor.Role.In(monitorRoles...) && s.canSee(actor, a)) {
		return nil, ErrForbidden
	}
	return a, nil
}

func (s *Service) canSee(actor types.Actor, a *Alert) bool {
	if actor.Role != types.RoleFleetManager {
		return true
	}
	return a.FleetManagerID != nil && *a.FleetManagerID == actor.ID
}
