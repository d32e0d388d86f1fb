package roles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/permissions"
	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/shared"
	"github.com/palisade-io/palisade/internal/tenancy"
	"github.com/palisade-io/palisade/internal/users"
)

// RepositoryPort defines the data access methods the service needs.
type RepositoryPort interface {
	Get(ctx context.Context, id string) (Role, error)
	List(ctx context.Context, tenantID string) ([]Role, error)
	Create(ctx context.Context, role Role) (Role, error)
	SetStatus(ctx context.Context, id, status string) error
	Graph(ctx context.Context, tenantID string) (Graph, error)
	ReplaceParents(ctx context.Context, tenantID, roleID string, parents []string, validate func(Graph) error) error
	AttachPermission(ctx context.Context, roleID, permissionID string) error
	DetachPermission(ctx context.Context, roleID, permissionID string) error
	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	DeactivateAssignment(ctx context.Context, id string) error
	AssignmentsForUser(ctx context.Context, userID string) ([]Assignment, error)
	CountActiveAssignments(ctx context.Context, roleID string) (int, error)
}

// IsolationPort is the slice of the tenancy service used on write paths.
type IsolationPort interface {
	AuthorizeWrite(ctx context.Context, operatorID, targetTenant, operation string) error
	BelongsToTenant(ctx context.Context, kind tenancy.EntityKind, entityID, tenantID string) (bool, error)
}

// UserSource exposes the user lookup the assignment path needs.
type UserSource interface {
	Get(ctx context.Context, id string) (users.User, error)
}

// Auditor records administrative mutations.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) error
}

// CreateRoleRequest is the management payload for creating a role.
type CreateRoleRequest struct {
	TenantID          string            `json:"tenant_id" validate:"required"`
	Name              string            `json:"name" validate:"required"`
	Description       string            `json:"description"`
	Level             int               `json:"level" validate:"gte=0"`
	ParentIDs         []string          `json:"parent_ids"`
	MaxUsers          int               `json:"max_users" validate:"gte=0"`
	RequiredClearance string            `json:"required_clearance" validate:"omitempty,oneof=STANDARD ELEVATED SECRET"`
	RequiresApproval  bool              `json:"requires_approval"`
	TimeRestriction   shared.TimeWindow `json:"time_restriction"`
	GeoRestriction    []string          `json:"geo_restriction"`
}

// AssignRequest is the payload for assigning a role to a user.
type AssignRequest struct {
	UserID        string     `json:"user_id" validate:"required"`
	RoleID        string     `json:"role_id" validate:"required"`
	EffectiveFrom *time.Time `json:"effective_from"`
	ExpiresAt     *time.Time `json:"expires_at"`
	ContextTag    string     `json:"context_tag"`
}

// Service handles role management, hierarchy edits and assignments.
type Service struct {
	repo      RepositoryPort
	isolation IsolationPort
	userSrc   UserSource
	cache     *Cache
	resolver  *Resolver
	auditor   Auditor
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, isolation IsolationPort, userSrc UserSource, cache *Cache, resolver *Resolver, auditor Auditor) *Service {
	return &Service{repo: repo, isolation: isolation, userSrc: userSrc, cache: cache, resolver: resolver, auditor: auditor}
}

// Get fetches a role.
func (s *Service) Get(ctx context.Context, id string) (Role, error) {
	return s.repo.Get(ctx, id)
}

// List returns roles of a tenant.
func (s *Service) List(ctx context.Context, tenantID string) ([]Role, error) {
	return s.repo.List(ctx, tenantID)
}

// Create validates and inserts a role. Parent edges are applied through the
// same cycle-checked path as later edits.
func (s *Service) Create(ctx context.Context, actorID string, req CreateRoleRequest) (Role, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := shared.Validator().Struct(req); err != nil {
		return Role{}, err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, req.TenantID, "role_create"); err != nil {
		return Role{}, err
	}

	role := Role{
		ID:               uuid.NewString(),
		TenantID:         req.TenantID,
		Name:             req.Name,
		Description:      req.Description,
		Level:            req.Level,
		Status:           StatusActive,
		MaxUsers:         req.MaxUsers,
		RequiresApproval: req.RequiresApproval,
		TimeRestriction:  req.TimeRestriction,
		GeoRestriction:   req.GeoRestriction,
	}
	if req.RequiredClearance != "" {
		role.RequiredClearance = shared.ParseAccessLevel(req.RequiredClearance)
	}
	created, err := s.repo.Create(ctx, role)
	if err != nil {
		return Role{}, err
	}
	if len(req.ParentIDs) > 0 {
		if err := s.SetParents(ctx, actorID, created.ID, req.ParentIDs); err != nil {
			return Role{}, err
		}
		created.ParentIDs = req.ParentIDs
	}
	if err := s.bump(ctx, created.TenantID); err != nil {
		return Role{}, err
	}
	if err := s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "role.create",
		Target:   created.ID,
		TenantID: created.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"after": created},
	}); err != nil {
		return Role{}, fmt.Errorf("roles: audit record: %w", err)
	}
	return created, nil
}

// SetStatus activates or deactivates a role. Deactivating a role silently
// removes its contribution from every descendant's effective set.
func (s *Service) SetStatus(ctx context.Context, actorID, roleID, status string) error {
	switch status {
	case StatusActive, StatusInactive:
	default:
		return fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, status)
	}
	current, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, current.TenantID, "role_update"); err != nil {
		return err
	}
	if err := s.repo.SetStatus(ctx, roleID, status); err != nil {
		return err
	}
	if err := s.bump(ctx, current.TenantID); err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "role.status",
		Target:   roleID,
		TenantID: current.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"before": current.Status, "after": status},
	})
}

// SetParents replaces a role's parent set. The cycle check runs inside the
// edge transaction so concurrent edits cannot sneak a cycle in.
func (s *Service) SetParents(ctx context.Context, actorID, roleID string, parents []string) error {
	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, role.TenantID, "role_update"); err != nil {
		return err
	}
	for _, parentID := range parents {
		if parentID == roleID {
			return fmt.Errorf("%w: role cannot parent itself", httpx.ErrValidation)
		}
		ok, err := s.isolation.BelongsToTenant(ctx, tenancy.KindRole, parentID, role.TenantID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: parent role %s", httpx.ErrIsolation, parentID)
		}
	}

	err = s.repo.ReplaceParents(ctx, role.TenantID, roleID, parents, func(g Graph) error {
		if g.WouldCycle(roleID, parents) {
			return fmt.Errorf("%w: parent edit would create a cycle", httpx.ErrValidation)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.bump(ctx, role.TenantID); err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "role.parents",
		Target:   roleID,
		TenantID: role.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"before": role.ParentIDs, "after": parents},
	})
}

// AttachPermission links a permission to a role after checking both live in
// the same tenant.
func (s *Service) AttachPermission(ctx context.Context, actorID, roleID, permissionID string) error {
	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, role.TenantID, "role_update"); err != nil {
		return err
	}
	ok, err := s.isolation.BelongsToTenant(ctx, tenancy.KindPermission, permissionID, role.TenantID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: permission %s", httpx.ErrIsolation, permissionID)
	}
	if err := s.repo.AttachPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	if err := s.bump(ctx, role.TenantID); err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "role.permission.attach",
		Target:   roleID,
		TenantID: role.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"permission_id": permissionID},
	})
}

// DetachPermission unlinks a permission from a role.
func (s *Service) DetachPermission(ctx context.Context, actorID, roleID, permissionID string) error {
	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, role.TenantID, "role_update"); err != nil {
		return err
	}
	if err := s.repo.DetachPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	if err := s.bump(ctx, role.TenantID); err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "role.permission.detach",
		Target:   roleID,
		TenantID: role.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"permission_id": permissionID},
	})
}

// Assign grants a role to a user. The user and role must share a tenant,
// the user's clearance must dominate the role's required clearance, and an
// inactive role or a full role rejects new assignments.
func (s *Service) Assign(ctx context.Context, actorID string, req AssignRequest) (Assignment, error) {
	if err := shared.Validator().Struct(req); err != nil {
		return Assignment{}, err
	}
	role, err := s.repo.Get(ctx, req.RoleID)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, role.TenantID, "role_assign"); err != nil {
		return Assignment{}, err
	}
	user, err := s.userSrc.Get(ctx, req.UserID)
	if err != nil {
		return Assignment{}, err
	}
	if user.TenantID != role.TenantID {
		return Assignment{}, fmt.Errorf("%w: user %s and role %s", httpx.ErrIsolation, req.UserID, req.RoleID)
	}
	if !role.IsActive() {
		return Assignment{}, fmt.Errorf("%w: role is inactive", httpx.ErrValidation)
	}
	if !user.Clearance.Dominates(role.RequiredClearance) {
		return Assignment{}, fmt.Errorf("%w: clearance below role requirement", httpx.ErrForbidden)
	}
	if role.MaxUsers > 0 {
		count, err := s.repo.CountActiveAssignments(ctx, req.RoleID)
		if err != nil {
			return Assignment{}, err
		}
		if count >= role.MaxUsers {
			return Assignment{}, fmt.Errorf("%w: role is at capacity", httpx.ErrConflict)
		}
	}

	now := time.Now().UTC()
	effective := now
	if req.EffectiveFrom != nil {
		effective = req.EffectiveFrom.UTC()
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(effective) {
		return Assignment{}, fmt.Errorf("%w: expiry precedes effective date", httpx.ErrValidation)
	}
	assignment := Assignment{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		RoleID:        req.RoleID,
		Active:        true,
		EffectiveFrom: effective,
		ExpiresAt:     req.ExpiresAt,
		AssignedBy:    actorID,
		ContextTag:    req.ContextTag,
	}
	created, err := s.repo.CreateAssignment(ctx, assignment)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "role.assign",
		Target:   req.UserID,
		TenantID: role.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"role_id": req.RoleID, "assignment_id": created.ID, "expires_at": req.ExpiresAt},
	}); err != nil {
		return Assignment{}, fmt.Errorf("roles: audit record: %w", err)
	}
	return created, nil
}

// Revoke deactivates an assignment.
func (s *Service) Revoke(ctx context.Context, actorID, assignmentID, userID string) error {
	user, err := s.userSrc.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, user.TenantID, "role_assign"); err != nil {
		return err
	}
	if err := s.repo.DeactivateAssignment(ctx, assignmentID); err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "role.revoke",
		Target:   userID,
		TenantID: user.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"assignment_id": assignmentID},
	})
}

// AssignmentsForUser returns the user's assignments.
func (s *Service) AssignmentsForUser(ctx context.Context, userID string) ([]Assignment, error) {
	return s.repo.AssignmentsForUser(ctx, userID)
}

// EffectivePermissions returns the role's inherited permission set.
func (s *Service) EffectivePermissions(ctx context.Context, tenantID, roleID string) ([]permissions.Permission, error) {
	return s.resolver.EffectivePermissions(ctx, tenantID, roleID)
}

func (s *Service) bump(ctx context.Context, tenantID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Bump(ctx, tenantID)
}

var (
	_ IsolationPort  = (*tenancy.Service)(nil)
	_ RepositoryPort = (*Repository)(nil)
	_ GraphSource    = (*Repository)(nil)
)
