package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the verified role attached to an authenticated caller.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleDispatcher Role = "DISPATCHER"
	RoleCommercial Role = "COMMERCIAL"
	RoleDelivery   Role = "DELIVERY"
	RoleAccountant Role = "ACCOUNTANT"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDispatcher, RoleCommercial, RoleDelivery, RoleAccountant:
		return true
	}
	return false
}

// Actor is the (userId, role) pair supplied by the authentication layer.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`

	system bool
}

// SystemActor identifies process-initiated mutations such as stale trip recovery.
// It cannot be produced from a token or a decoded payload.
var SystemActor = Actor{UserID: uuid.Nil, Role: RoleAdmin, system: true}

// IsSystem reports whether a is the process itself rather than a user.
func (a Actor) IsSystem() bool {
	return a.system
}

// GeoPoint is a WGS84 coordinate with an optional accuracy radius in metres.
type GeoPoint struct {
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Validate checks the coordinate ranges.
func (p GeoPoint) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrValidation, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrValidation, p.Lon)
	}
	if p.Accuracy != nil && *p.Accuracy < 0 {
		return fmt.Errorf("%w: accuracy must not be negative", ErrValidation)
	}
	return nil
}
