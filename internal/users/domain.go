// Package users holds the principal entity model.
package users

import (
	"time"

	"github.com/palisade-io/palisade/internal/shared"
)

// User statuses. Users are never hard-removed; deletion is the SUSPENDED
// transition so audit history keeps a valid reference.
const (
	StatusActive    = "ACTIVE"
	StatusLocked    = "LOCKED"
	StatusSuspended = "SUSPENDED"
)

// User is a principal known to the authorization system.
type User struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	DepartmentID string                 `json:"department_id,omitempty"`
	Email        string                 `json:"email"`
	Name         string                 `json:"name"`
	Clearance    shared.AccessLevel     `json:"clearance"`
	Status       string                 `json:"status"`
	// SystemAdmin marks principals allowed to act across tenants.
	SystemAdmin     bool                   `json:"system_admin"`
	TimeRestriction shared.TimeWindow      `json:"time_restriction,omitempty"`
	GeoRestriction  shared.GeoRestriction  `json:"geo_restriction,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// IsActive reports whether the user may act as a principal at all.
func (u User) IsActive() bool {
	return u.Status == StatusActive
}

// PermittedAt evaluates the user's own time and geography restrictions.
func (u User) PermittedAt(now time.Time, country string) bool {
	return u.TimeRestriction.Allows(now) && u.GeoRestriction.Allows(country)
}
