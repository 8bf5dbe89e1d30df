// README: Delivery zone aggregate and its error set.
package zone

import (
	"time"

	"foodhub/internal/apperr"
	"foodhub/internal/geo"
	"foodhub/internal/types"
)

type Zone struct {
	ZoneID            types.ID    `json:"zoneId"`
	District          string      `json:"district"`
	ZoneName          string      `json:"zoneName"`
	Boundary          geo.Ring    `json:"boundary"`
	IsOperational     bool        `json:"isOperational"`
	IsDeleted         bool        `json:"isDeleted"`
	MinFee            types.Money `json:"minFee"`
	MaxDistanceMeters int         `json:"maxDistanceMeters"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
	DeletedAt         *time.Time  `json:"deletedAt,omitempty"`
}

var (
	ErrNotFound         = apperr.NotFound("zone not found")
	ErrExists           = apperr.Conflict("zone id already exists")
	ErrOverlap          = apperr.Conflict("zone boundary overlaps an operational zone")
	ErrBadRequest       = apperr.BadRequest("invalid zone")
	ErrNoop             = apperr.BadRequest("zone already has that operational state")
	ErrStillOperational = apperr.BadRequest("deactivate the zone before deleting it")
	ErrNotSoftDeleted   = apperr.BadRequest("zone must be soft-deleted before permanent deletion")
	ErrDeleted          = apperr.BadRequest("zone is deleted")
	// ErrIntegrity means more than one operational zone contains a point,
	// which the non-overlap rule forbids.
	ErrIntegrity = apperr.Internal("zone data integrity violation")
)
