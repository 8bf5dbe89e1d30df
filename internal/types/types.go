// README: Shared identifiers, coordinates, addresses and caller roles.
package types

import "github.com/google/uuid"

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Location   Point  `json:"location"`
}

type Role string

const (
	RoleCustomer        Role = "CUSTOMER"
	RoleVendor          Role = "VENDOR"
	RoleDeliveryPartner Role = "DELIVERY_PARTNER"
	RoleFleetManager    Role = "FLEET_MANAGER"
	RoleAdmin           Role = "ADMIN"
	RoleSuperAdmin      Role = "SUPER_ADMIN"
)

func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

func (r Role) In(roles ...Role) bool {
	for _, v := range roles {
		if r == v {
			return true
		}
	}
	return false
}

// Actor is an authenticated caller.
type Actor struct {
	ID   ID   `json:"id"`
	Role Role `json:"role"`
}
