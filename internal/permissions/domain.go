// Package permissions holds permission definitions and direct user grants.
package permissions

import (
	"time"

	"github.com/palisade-io/palisade/internal/shared"
)

// Scope of a permission, from narrowest to widest.
const (
	ScopeOwn        = "OWN"
	ScopeDepartment = "DEPARTMENT"
	ScopeTenant     = "TENANT"
	ScopeGlobal     = "GLOBAL"
)

// Risk levels, informational for approval workflows.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Predicate is a typed attribute constraint attached to a permission. It is
// a value, evaluated in isolation; no expression language.
type Predicate struct {
	Field string `json:"field"`
	// Op is one of "eq", "lte", "in".
	Op    string   `json:"op"`
	Value string   `json:"value,omitempty"`
	Set   []string `json:"set,omitempty"`
}

// Evaluate applies the predicate against a resource attribute lookup.
func (p *Predicate) Evaluate(attrs map[string]string) bool {
	if p == nil {
		return true
	}
	got, ok := attrs[p.Field]
	if !ok {
		return false
	}
	switch p.Op {
	case "eq":
		return got == p.Value
	case "lte":
		return got <= p.Value
	case "in":
		for _, v := range p.Set {
			if got == v {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Permission is an atomic capability over a resource type and action.
type Permission struct {
	ID               string             `json:"id"`
	TenantID         string             `json:"tenant_id"`
	Name             string             `json:"name"`
	ResourceType     string             `json:"resource_type"`
	Action           string             `json:"action"`
	Scope            string             `json:"scope"`
	RiskLevel        string             `json:"risk_level"`
	MinClearance     shared.AccessLevel `json:"min_clearance"`
	Constraint       *Predicate         `json:"constraint,omitempty"`
	RequiresApproval bool               `json:"requires_approval"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Matches reports whether the permission covers the requested resource type
// and action.
func (p Permission) Matches(resourceType, action string) bool {
	return p.ResourceType == resourceType && p.Action == action
}

// Grant is a direct (user, permission) grant. It bypasses the role
// hierarchy entirely but obeys the same activation window semantics.
type Grant struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	PermissionID  string     `json:"permission_id"`
	Active        bool       `json:"active"`
	EffectiveFrom time.Time  `json:"effective_from"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	GrantedBy     string     `json:"granted_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsActive requires all three conditions: the active flag, an expiry that
// has not passed, and an effective-from that has been reached.
func (g Grant) IsActive(now time.Time) bool {
	if !g.Active {
		return false
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return false
	}
	return !now.Before(g.EffectiveFrom)
}
