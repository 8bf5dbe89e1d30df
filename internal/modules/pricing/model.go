// README: Delivery fee limits and the immutable money snapshot stored on an order.
package pricing

import (
	"foodhub/internal/apperr"
	"foodhub/internal/types"
)

// ZoneLimits are the pricing inputs owned by a delivery zone.
type ZoneLimits struct {
	MinFee            types.Money
	MaxDistanceMeters int
}

// Snapshot is computed once at checkout and never recomputed.
type Snapshot struct {
	Subtotal    types.Money `json:"subtotal"`
	DeliveryFee types.Money `json:"deliveryFee"`
	Commission  types.Money `json:"commission"`
	VAT         types.Money `json:"vat"`
	VendorNet   types.Money `json:"vendorNet"`
	PartnerNet  types.Money `json:"partnerNet"`
	Total       types.Money `json:"total"`
}

var (
	ErrTooFar         = apperr.BadRequest("delivery address is beyond the zone's delivery range")
	ErrInvalidAmount  = apperr.BadRequest("amount must not be negative")
	ErrCurrencyMixing = apperr.BadRequest("amounts use different currencies")
)
