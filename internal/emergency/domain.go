// Package emergency implements break-glass access: short-lived, approved
// grants that bypass the normal permission pipeline for one resource type
// and action.
package emergency

import "time"

// Request statuses. PENDING moves to ACTIVE or REJECTED; ACTIVE moves to
// REVOKED or EXPIRED. Terminal states never transition again.
const (
	StatusPending  = "PENDING"
	StatusActive   = "ACTIVE"
	StatusRejected = "REJECTED"
	StatusRevoked  = "REVOKED"
	StatusExpired  = "EXPIRED"
)

// Request is a break-glass access request.
type Request struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id"`
	RequesterID  string `json:"requester_id"`
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
	// ResourceID narrows the grant to one resource. Empty means the whole
	// resource type within the tenant.
	ResourceID    string `json:"resource_id,omitempty"`
	Justification string `json:"justification"`
	// DurationMinutes bounds the access window once approved.
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	ApproverID      string     `json:"approver_id,omitempty"`
	Note            string     `json:"note,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
}

// IsActive reports whether the grant is usable right now. A row whose
// window has lapsed is dead even if no sweeper has marked it EXPIRED yet.
func (r Request) IsActive(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	return r.ExpiresAt != nil && now.Before(*r.ExpiresAt)
}

// Covers reports whether the grant applies to the given resource type,
// action and resource. Type and action match exactly; a grant scoped to one
// resource never covers a different one. An empty resourceID asks the
// coarse cannot-name-a-resource question, which a scoped grant still
// answers, since the requester can reach at least that resource.
func (r Request) Covers(resourceType, action, resourceID string) bool {
	if r.ResourceType != resourceType || r.Action != action {
		return false
	}
	return r.ResourceID == "" || resourceID == "" || r.ResourceID == resourceID
}
