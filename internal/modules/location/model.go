// README: Live-location payloads, broadcast events and validation thresholds.
package location

import (
	"time"

	"foodhub/internal/apperr"
	"foodhub/internal/types"
)

const (
	EventDeliveryLive = "delivery-location-live"
	// DefaultMaxAccuracyMeters applies when no threshold is configured.
	DefaultMaxAccuracyMeters = 100
)

// DeliveryUpdate is a partner sample while carrying an order.
type DeliveryUpdate struct {
	OrderID     types.ID `json:"orderId"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	GeoAccuracy *float64 `json:"geoAccuracy,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	IsMocked    bool     `json:"isMocked,omitempty"`
}

// Sample is a position report without an order, used by idle partners and
// by any user keeping their session location fresh.
type Sample struct {
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	GeoAccuracy *float64 `json:"geoAccuracy,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	IsMocked    bool     `json:"isMocked,omitempty"`
}

// Live is what order watchers receive.
type Live struct {
	OrderID     types.ID  `json:"orderId"`
	PartnerID   types.ID  `json:"deliveryPartnerId"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	GeoAccuracy *float64  `json:"geoAccuracy,omitempty"`
	Heading     *float64  `json:"heading,omitempty"`
	Speed       *float64  `json:"speed,omitempty"`
	At          time.Time `json:"at"`
}

// Session is the last accepted position of a connected user.
type Session struct {
	Point     types.Point `json:"point"`
	Accuracy  *float64    `json:"accuracy,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

var (
	ErrForbidden  = apperr.Forbidden("role not allowed")
	ErrBadRequest = apperr.BadRequest("invalid location payload")
	ErrNoSession  = apperr.NotFound("no live session location")
)
