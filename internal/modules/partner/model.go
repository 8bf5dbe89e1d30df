// README: Delivery partner profile, availability and last known session location.
package partner

import (
	"time"

	"foodhub/internal/apperr"
	"foodhub/internal/types"
)

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
	ApprovalSuspended ApprovalStatus = "SUSPENDED"
)

type Availability string

const (
	AvailabilityIdle       Availability = "IDLE"
	AvailabilityOffline    Availability = "OFFLINE"
	AvailabilityOnDelivery Availability = "ON_DELIVERY"
)

type SessionLocation struct {
	Point     types.Point `json:"point"`
	Accuracy  *float64    `json:"accuracy,omitempty"`
	Heading   *float64    `json:"heading,omitempty"`
	Speed     *float64    `json:"speed,omitempty"`
	IsMocked  bool        `json:"isMocked"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type Partner struct {
	UserID              types.ID         `json:"userId"`
	RegisteredBy        *types.ID        `json:"registeredBy,omitempty"`
	Status              ApprovalStatus   `json:"status"`
	CurrentStatus       Availability     `json:"currentStatus"`
	SessionLocation     *SessionLocation `json:"sessionLocation,omitempty"`
	MaxConcurrentOrders int              `json:"maxConcurrentOrders"`
	CurrentOrderID      *types.ID        `json:"currentOrderId,omitempty"`
	IsDeleted           bool             `json:"isDeleted"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

func (p *Partner) Approved() bool {
	return p.Status == ApprovalApproved && !p.IsDeleted
}

// Candidate is a partner found near a pickup point, nearest first.
type Candidate struct {
	UserID         types.ID    `json:"userId"`
	Location       types.Point `json:"location"`
	DistanceMeters float64     `json:"distanceMeters"`
}

var (
	ErrNotFound     = apperr.NotFound("delivery partner not found")
	ErrNotApproved  = apperr.Forbidden("delivery partner is not approved")
	ErrBadRequest   = apperr.BadRequest("invalid availability")
	ErrOnDelivery   = apperr.Conflict("delivery partner is on a delivery")
	ErrNotAvailable = apperr.Conflict("delivery partner is not available")
)
