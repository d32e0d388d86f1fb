// Package delegation implements time-boxed hand-offs of access between
// users of the same tenant.
package delegation

import "time"

// Delegation types.
const (
	TypeFull      = "FULL"
	TypePartial   = "PARTIAL"
	TypeRoleBased = "ROLE_BASED"
	TypeTemporary = "TEMPORARY"
)

// Delegation is a grant of some of the delegator's access to a delegate for
// a bounded window. A delegation conveys nothing of its own: at decision
// time it only counts if the delegator still holds the delegated access.
type Delegation struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	DelegatorID string `json:"delegator_id"`
	DelegateID  string `json:"delegate_id"`
	Type        string `json:"type"`
	// PermissionIDs names the delegated permissions for PARTIAL and
	// TEMPORARY delegations. Empty for FULL.
	PermissionIDs []string `json:"permission_ids,omitempty"`
	// RoleIDs names the delegated roles for ROLE_BASED delegations.
	RoleIDs []string `json:"role_ids,omitempty"`
	// ParentID links a re-delegation to the delegation it was carved
	// from. Depth counts hops from the original delegator.
	ParentID      string    `json:"parent_id,omitempty"`
	Depth         int       `json:"depth"`
	Reason        string    `json:"reason"`
	CanDelegate   bool      `json:"can_delegate"`
	Active        bool      `json:"active"`
	EffectiveFrom time.Time `json:"effective_from"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}

// IsActive requires the active flag, a reached effective-from and an
// unexpired window. Expired rows are treated as dead the moment the clock
// passes them, before any sweeper touches the database.
func (d Delegation) IsActive(now time.Time) bool {
	if !d.Active {
		return false
	}
	if now.Before(d.EffectiveFrom) {
		return false
	}
	return now.Before(d.ExpiresAt)
}
