package permissions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/shared"
	"github.com/palisade-io/palisade/internal/tenancy"
)

// RepositoryPort defines the data access methods the service needs.
type RepositoryPort interface {
	Get(ctx context.Context, id string) (Permission, error)
	List(ctx context.Context, tenantID string) ([]Permission, error)
	Create(ctx context.Context, p Permission) (Permission, error)
	Delete(ctx context.Context, id string) error
	CreateGrant(ctx context.Context, g Grant) (Grant, error)
	RevokeGrant(ctx context.Context, id string) error
}

// IsolationPort is the slice of the tenancy service used on write paths.
type IsolationPort interface {
	AuthorizeWrite(ctx context.Context, operatorID, targetTenant, operation string) error
	ValidateIsolation(ctx context.Context, userID string, kind tenancy.EntityKind, entityID string) error
}

// Auditor records administrative mutations.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) error
}

// CreatePermissionRequest is the management payload for a new permission.
type CreatePermissionRequest struct {
	TenantID         string     `json:"tenant_id" validate:"required"`
	Name             string     `json:"name" validate:"required"`
	ResourceType     string     `json:"resource_type" validate:"required"`
	Action           string     `json:"action" validate:"required"`
	Scope            string     `json:"scope" validate:"required,oneof=OWN DEPARTMENT TENANT GLOBAL"`
	RiskLevel        string     `json:"risk_level" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	MinClearance     string     `json:"min_clearance" validate:"omitempty,oneof=STANDARD ELEVATED SECRET"`
	Constraint       *Predicate `json:"constraint,omitempty"`
	RequiresApproval bool       `json:"requires_approval"`
}

// GrantRequest is the management payload for a direct user grant.
type GrantRequest struct {
	UserID        string     `json:"user_id" validate:"required"`
	PermissionID  string     `json:"permission_id" validate:"required"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Service handles permission management.
type Service struct {
	repo      RepositoryPort
	isolation IsolationPort
	auditor   Auditor
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, isolation IsolationPort, auditor Auditor) *Service {
	return &Service{repo: repo, isolation: isolation, auditor: auditor}
}

// Get fetches a permission.
func (s *Service) Get(ctx context.Context, id string) (Permission, error) {
	return s.repo.Get(ctx, id)
}

// List returns permissions of a tenant.
func (s *Service) List(ctx context.Context, tenantID string) ([]Permission, error) {
	return s.repo.List(ctx, tenantID)
}

// Create validates and inserts a permission definition.
func (s *Service) Create(ctx context.Context, actorID string, req CreatePermissionRequest) (Permission, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := shared.Validator().Struct(req); err != nil {
		return Permission{}, err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, req.TenantID, "permission_create"); err != nil {
		return Permission{}, err
	}
	riskLevel := req.RiskLevel
	if riskLevel == "" {
		riskLevel = RiskLow
	}
	perm := Permission{
		ID:               uuid.NewString(),
		TenantID:         req.TenantID,
		Name:             req.Name,
		ResourceType:     req.ResourceType,
		Action:           req.Action,
		Scope:            req.Scope,
		RiskLevel:        riskLevel,
		Constraint:       req.Constraint,
		RequiresApproval: req.RequiresApproval,
	}
	if req.MinClearance != "" {
		perm.MinClearance = shared.ParseAccessLevel(req.MinClearance)
	}
	created, err := s.repo.Create(ctx, perm)
	if err != nil {
		return Permission{}, err
	}
	if err := s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "permission.create",
		Target:   created.ID,
		TenantID: created.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"after": created},
	}); err != nil {
		return Permission{}, err
	}
	return created, nil
}

// Grant creates a direct user grant. Both referenced entities must share a
// tenant; the isolation check runs before any write.
func (s *Service) Grant(ctx context.Context, actorID string, req GrantRequest) (Grant, error) {
	if err := shared.Validator().Struct(req); err != nil {
		return Grant{}, err
	}
	if err := s.isolation.ValidateIsolation(ctx, req.UserID, tenancy.KindPermission, req.PermissionID); err != nil {
		return Grant{}, err
	}
	perm, err := s.repo.Get(ctx, req.PermissionID)
	if err != nil {
		return Grant{}, err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, perm.TenantID, "permission_grant"); err != nil {
		return Grant{}, err
	}
	grant := Grant{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		PermissionID:  req.PermissionID,
		Active:        true,
		EffectiveFrom: time.Now().UTC(),
		ExpiresAt:     req.ExpiresAt,
		GrantedBy:     actorID,
	}
	if req.EffectiveFrom != nil {
		grant.EffectiveFrom = *req.EffectiveFrom
	}
	created, err := s.repo.CreateGrant(ctx, grant)
	if err != nil {
		return Grant{}, err
	}
	if err := s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "permission.grant",
		Target:   created.ID,
		TenantID: perm.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"user_id": req.UserID, "permission": perm.Name},
	}); err != nil {
		return Grant{}, err
	}
	return created, nil
}

// Revoke deactivates a direct grant.
func (s *Service) Revoke(ctx context.Context, actorID, grantID string) error {
	if err := s.repo.RevokeGrant(ctx, grantID); err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.Event{
		ActorID: actorID,
		Action:  "permission.revoke_grant",
		Target:  grantID,
		Outcome: audit.OutcomeApplied,
	})
}
