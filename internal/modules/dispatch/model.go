// README: Dispatch events, offer payloads and errors.
package dispatch

import (
	"time"

	"foodhub/internal/apperr"
	"foodhub/internal/maps"
	"foodhub/internal/modules/order"
	"foodhub/internal/types"
)

// Events pushed to user rooms.
const (
	EventOffer              = "ORDER_DISPATCH_OFFER"
	EventPartnerAssigned    = "ORDER_PARTNER_ASSIGNED"
	EventReassignmentNeeded = "ORDER_REASSIGNMENT_NEEDED"
	EventExpired            = "ORDER_DISPATCH_EXPIRED"
)

// Offer is what a candidate partner receives.
type Offer struct {
	OrderID         types.ID      `json:"orderId"`
	PickupAddress   types.Address `json:"pickupAddress"`
	DeliveryAddress types.Address `json:"deliveryAddress"`
	DistanceMeters  float64       `json:"distanceMeters"`
	Earnings        types.Money   `json:"earnings"`
	ExpiresAt       time.Time     `json:"expiresAt"`
	ETA             *maps.ETA     `json:"eta,omitempty"`
}

type Result struct {
	Order        *order.Order `json:"order"`
	RadiusMeters int          `json:"radiusMeters"`
	Offers       []Offer      `json:"offers"`
}

// Assignment is broadcast to the vendor, the customer and the order room.
type Assignment struct {
	OrderID   types.ID `json:"orderId"`
	PartnerID types.ID `json:"deliveryPartnerId"`
}

type SweepResult struct {
	Expired int
	Skipped int
	Failed  int
}

var (
	ErrNoPartnersAvailable = apperr.Conflict("no delivery partners available")
	ErrNoPickup            = apperr.BadRequest("order has no pickup address")
	ErrPartnerBusy         = apperr.Conflict("delivery partner already has an active order")
)
