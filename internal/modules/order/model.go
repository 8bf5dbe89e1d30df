// README: Order aggregate, status definitions and the transition table every mutation is checked against.
package order

import (
	"time"

	"foodhub/internal/apperr"
	"foodhub/internal/modules/pricing"
	"foodhub/internal/types"
)

type Status string

const (
	StatusNone               Status = ""
	StatusPending            Status = "PENDING"
	StatusAccepted           Status = "ACCEPTED"
	StatusRejected           Status = "REJECTED"
	StatusDispatching        Status = "DISPATCHING"
	StatusAssigned           Status = "ASSIGNED"
	StatusReassignmentNeeded Status = "REASSIGNMENT_NEEDED"
	StatusAwaitingPartner    Status = "AWAITING_PARTNER"
	StatusPickedUp           Status = "PICKED_UP"
	StatusOnTheWay           Status = "ON_THE_WAY"
	StatusDelivered          Status = "DELIVERED"
	StatusCanceled           Status = "CANCELED"
)

type Item struct {
	Name      string      `json:"name"`
	Quantity  int         `json:"quantity"`
	UnitPrice types.Money `json:"unitPrice"`
}

type Order struct {
	ID                  types.ID         `json:"id"`
	CustomerID          types.ID         `json:"customerId"`
	VendorID            types.ID         `json:"vendorId"`
	DeliveryPartnerID   *types.ID        `json:"deliveryPartnerId,omitempty"`
	Status              Status           `json:"status"`
	StatusVersion       int              `json:"statusVersion"`
	IsPaid              bool             `json:"isPaid"`
	ZoneID              types.ID         `json:"zoneId"`
	Items               []Item           `json:"items"`
	DeliveryAddress     types.Address    `json:"deliveryAddress"`
	PickupAddress       *types.Address   `json:"pickupAddress,omitempty"`
	DispatchPartnerPool []types.ID       `json:"dispatchPartnerPool"`
	DispatchExpiresAt   *time.Time       `json:"dispatchExpiresAt,omitempty"`
	Pricing             pricing.Snapshot `json:"pricing"`
	CancelReason        *string          `json:"cancelReason,omitempty"`
	RejectReason        *string          `json:"rejectReason,omitempty"`
	IsDeleted           bool             `json:"isDeleted"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
	PaidAt              *time.Time       `json:"paidAt,omitempty"`
	AssignedAt          *time.Time       `json:"assignedAt,omitempty"`
	DeliveredAt         *time.Time       `json:"deliveredAt,omitempty"`
	CanceledAt          *time.Time       `json:"canceledAt,omitempty"`
}

// InPool reports whether partnerID was offered the current dispatch entry.
func (o *Order) InPool(partnerID types.ID) bool {
	for _, id := range o.DispatchPartnerPool {
		if id == partnerID {
			return true
		}
	}
	return false
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	Reason     *string
	CreatedAt  time.Time
}

// Transition is one conditional status change, applied only while the stored
// row still has From and Version.
type Transition struct {
	OrderID       types.ID
	From          Status
	To            Status
	Version       int
	PartnerID     *types.ID
	ClearPartner  bool
	PickupAddress *types.Address
	Reason        *string
	At            time.Time
}

// AllowedTransitions is the single source of truth for status changes.
var AllowedTransitions = map[Status][]Status{
	StatusPending:            {StatusAccepted, StatusRejected, StatusCanceled},
	StatusAccepted:           {StatusDispatching, StatusCanceled},
	StatusDispatching:        {StatusAssigned, StatusReassignmentNeeded, StatusAwaitingPartner, StatusCanceled},
	StatusAwaitingPartner:    {StatusDispatching, StatusCanceled},
	StatusReassignmentNeeded: {StatusDispatching, StatusCanceled},
	StatusAssigned:           {StatusPickedUp, StatusReassignmentNeeded},
	StatusPickedUp:           {StatusOnTheWay},
	StatusOnTheWay:           {StatusDelivered},
}

// CancelBlocked lists statuses past the point of no return.
var CancelBlocked = map[Status]bool{
	StatusAssigned:  true,
	StatusPickedUp:  true,
	StatusOnTheWay:  true,
	StatusDelivered: true,
}

// dispatchOwned targets are only reachable through the dispatch operations.
var dispatchOwned = map[Status]bool{
	StatusDispatching:        true,
	StatusAssigned:           true,
	StatusAwaitingPartner:    true,
	StatusReassignmentNeeded: true,
}

// courierSteps may only be driven by the bound partner or an admin.
var courierSteps = map[Status]bool{
	StatusPickedUp:  true,
	StatusOnTheWay:  true,
	StatusDelivered: true,
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s Status) bool {
	_, ok := AllowedTransitions[s]
	return !ok
}

var (
	ErrNotFound         = apperr.NotFound("order not found")
	ErrBadRequest       = apperr.BadRequest("invalid order request")
	ErrForbidden        = apperr.Forbidden("not allowed to act on this order")
	ErrNotPaid          = apperr.BadRequest("order is not paid")
	ErrInvalidState     = apperr.Conflict("invalid state transition")
	ErrConflict         = apperr.Conflict("order was modified concurrently")
	ErrDispatchOwned    = apperr.BadRequest("status is managed by dispatch")
	ErrAlreadyAssigned  = apperr.Conflict("order already assigned to another partner")
	ErrNotInPool        = apperr.Forbidden("partner was not offered this order")
	ErrDispatchClosed   = apperr.Conflict("dispatch offer is no longer open")
	ErrCancelBlocked    = apperr.Conflict("order can no longer be canceled")
	ErrPartnerNotActive = apperr.Forbidden("delivery partner is not approved")
)
