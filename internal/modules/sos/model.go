// README: SOS alert model, status ranks, live events and errors.
package sos

import (
	"time"

	"foodhub/internal/apperr"
	"foodhub/internal/types"
)

type Status string

const (
	StatusActive        Status = "ACTIVE"
	StatusInvestigating Status = "INVESTIGATING"
	StatusFalseAlarm    Status = "FALSE_ALARM"
	StatusResolved      Status = "RESOLVED"
)

// rank orders statuses; an alert only moves forward.
var rank = map[Status]int{
	StatusActive:        0,
	StatusInvestigating: 1,
	StatusFalseAlarm:    2,
	StatusResolved:      3,
}

func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

type ActorKind string

const (
	KindVendor          ActorKind = "Vendor"
	KindFleetManager    ActorKind = "FleetManager"
	KindDeliveryPartner ActorKind = "DeliveryPartner"
)

var kindByRole = map[types.Role]ActorKind{
	types.RoleVendor:          KindVendor,
	types.RoleFleetManager:    KindFleetManager,
	types.RoleDeliveryPartner: KindDeliveryPartner,
}

type Note struct {
	Text string    `json:"text"`
	By   types.ID  `json:"by"`
	At   time.Time `json:"at"`
}

type Device struct {
	Platform     string   `json:"platform,omitempty"`
	Model        string   `json:"model,omitempty"`
	OSVersion    string   `json:"osVersion,omitempty"`
	AppVersion   string   `json:"appVersion,omitempty"`
	BatteryLevel *float64 `json:"batteryLevel,omitempty"`
}

type Alert struct {
	ID             types.ID    `json:"id"`
	ActorID        types.ID    `json:"actorId"`
	ActorKind      ActorKind   `json:"actorKind"`
	Role           types.Role  `json:"role"`
	OrderID        *types.ID   `json:"orderId,omitempty"`
	FleetManagerID *types.ID   `json:"fleetManagerId,omitempty"`
	Status         Status      `json:"status"`
	Notes          []Note      `json:"notes"`
	Tags           []string    `json:"tags"`
	Device         Device      `json:"device"`
	Location       types.Point `json:"location"`
	ResolvedBy     *types.ID   `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time  `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

type TriggerPayload struct {
	OrderID *types.ID `json:"orderId,omitempty"`
	Message string    `json:"message,omitempty"`
	Tags    []string  `json:"tags,omitempty"`
	Device  Device    `json:"device"`
}

type StatusUpdate struct {
	Status Status `json:"status"`
	Note   string `json:"note,omitempty"`
}

// StreamSample is one live position of the raiser while an alert is open.
type StreamSample struct {
	SosID       types.ID `json:"sosId"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	GeoAccuracy *float64 `json:"geoAccuracy,omitempty"`
}

// Filter narrows List and History. FleetManagerID is set by the service.
type Filter struct {
	Statuses       []Status
	FleetManagerID *types.ID
	Since          *time.Time
	Limit          int
	Offset         int
}

const (
	EventNewAlert = "new-sos-alert"
)

func LiveLocationEvent(id types.ID) string  { return "sos-live-location-" + string(id) }
func StatusUpdatedEvent(id types.ID) string { return "sos-status-updated-" + string(id) }

var (
	ErrNotFound          = apperr.NotFound("sos alert not found")
	ErrForbidden         = apperr.Forbidden("role not allowed")
	ErrBadRequest        = apperr.BadRequest("invalid sos request")
	ErrLocationUnknown   = apperr.BadRequest("current location unknown; share your location first")
	ErrResolved          = apperr.BadRequest("sos alert already resolved")
	ErrNoop              = apperr.BadRequest("sos alert already has that status")
	ErrInvalidTransition = apperr.BadRequest("sos status cannot move backwards")
	ErrConflict          = apperr.Conflict("sos alert changed concurrently")
)
