// Package roles holds the role hierarchy and user-role assignments.
package roles

import (
	"time"

	"github.com/palisade-io/palisade/internal/shared"
)

// Role statuses.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Role is a grouping of permissions, arranged in a DAG via parent edges.
// A role may have multiple parents; the graph must stay acyclic, enforced at
// write time.
type Role struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Level       int    `json:"level"`
	Status      string `json:"status"`
	// ParentIDs is loaded from the edge list; roles never reference each
	// other through in-memory pointers.
	ParentIDs         []string              `json:"parent_ids,omitempty"`
	MaxUsers          int                   `json:"max_users,omitempty"`
	RequiredClearance shared.AccessLevel    `json:"required_clearance,omitempty"`
	RequiresApproval  bool                  `json:"requires_approval"`
	TimeRestriction   shared.TimeWindow     `json:"time_restriction,omitempty"`
	GeoRestriction    shared.GeoRestriction `json:"geo_restriction,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// IsActive reports whether the role contributes permissions at all.
func (r Role) IsActive() bool {
	return r.Status == StatusActive
}

// PermittedAt evaluates the role's own time and geography restrictions.
func (r Role) PermittedAt(now time.Time, country string) bool {
	return r.TimeRestriction.Allows(now) && r.GeoRestriction.Allows(country)
}

// Assignment ties a user to a role for a window.
type Assignment struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	RoleID        string     `json:"role_id"`
	Active        bool       `json:"active"`
	EffectiveFrom time.Time  `json:"effective_from"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	AssignedBy    string     `json:"assigned_by"`
	ContextTag    string     `json:"context_tag,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsActive requires all three conditions: the active flag, an expiry that
// has not passed, and an effective-from that has been reached.
func (a Assignment) IsActive(now time.Time) bool {
	if !a.Active {
		return false
	}
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		return false
	}
	return !now.Before(a.EffectiveFrom)
}
