package delegation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/permissions"
	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/roles"
	"github.com/palisade-io/palisade/internal/shared"
	"github.com/palisade-io/palisade/internal/users"
)

// Re-delegation chains stop after this many hops from the original
// delegator.
const maxDepth = 3

// RepositoryPort defines the data access methods the service needs.
type RepositoryPort interface {
	Get(ctx context.Context, id string) (Delegation, error)
	Create(ctx context.Context, d Delegation) (Delegation, error)
	Revoke(ctx context.Context, id string) error
	ForDelegate(ctx context.Context, delegateID string) ([]Delegation, error)
	ForDelegator(ctx context.Context, delegatorID string) ([]Delegation, error)
}

// UserSource exposes user lookups.
type UserSource interface {
	Get(ctx context.Context, id string) (users.User, error)
}

// PermissionSource exposes a user's direct grants.
type PermissionSource interface {
	GrantsForUser(ctx context.Context, userID string) ([]permissions.Grant, []permissions.Permission, error)
}

// RoleSource exposes a user's assignments and role permissions.
type RoleSource interface {
	AssignmentsForUser(ctx context.Context, userID string) ([]roles.Assignment, error)
	EffectivePermissions(ctx context.Context, tenantID, roleID string) ([]permissions.Permission, error)
}

// Notifier announces delegation lifecycle events.
type Notifier interface {
	DelegationCreated(ctx context.Context, d Delegation) error
}

// Auditor records administrative mutations.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) error
}

// CreateRequest is the payload for handing out a delegation. The caller is
// always the delegator.
type CreateRequest struct {
	DelegateID    string     `json:"delegate_id" validate:"required"`
	Type          string     `json:"type" validate:"required,oneof=FULL PARTIAL ROLE_BASED TEMPORARY"`
	PermissionIDs []string   `json:"permission_ids"`
	RoleIDs       []string   `json:"role_ids"`
	ParentID      string     `json:"parent_id"`
	Reason        string     `json:"reason" validate:"required"`
	CanDelegate   bool       `json:"can_delegate"`
	EffectiveFrom *time.Time `json:"effective_from"`
	ExpiresAt     time.Time  `json:"expires_at" validate:"required"`
}

// Service handles delegation lifecycle.
type Service struct {
	repo     RepositoryPort
	userSrc  UserSource
	permSrc  PermissionSource
	roleSrc  RoleSource
	notifier Notifier
	auditor  Auditor
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, userSrc UserSource, permSrc PermissionSource, roleSrc RoleSource, notifier Notifier, auditor Auditor) *Service {
	return &Service{repo: repo, userSrc: userSrc, permSrc: permSrc, roleSrc: roleSrc, notifier: notifier, auditor: auditor}
}

// Get fetches a delegation.
func (s *Service) Get(ctx context.Context, id string) (Delegation, error) {
	return s.repo.Get(ctx, id)
}

// Received returns delegations naming the user as delegate.
func (s *Service) Received(ctx context.Context, userID string) ([]Delegation, error) {
	return s.repo.ForDelegate(ctx, userID)
}

// Given returns delegations the user handed out.
func (s *Service) Given(ctx context.Context, userID string) ([]Delegation, error) {
	return s.repo.ForDelegator(ctx, userID)
}

// Create hands out a delegation from the caller to the delegate. The
// delegator must currently hold everything being delegated, the delegate
// must live in the same tenant, and a re-delegation can never widen or
// outlive its parent.
func (s *Service) Create(ctx context.Context, delegatorID string, req CreateRequest) (Delegation, error) {
	if err := shared.Validator().Struct(req); err != nil {
		return Delegation{}, err
	}
	if req.DelegateID == delegatorID {
		return Delegation{}, fmt.Errorf("%w: cannot delegate to yourself", httpx.ErrValidation)
	}
	now := time.Now().UTC()
	effective := now
	if req.EffectiveFrom != nil {
		effective = req.EffectiveFrom.UTC()
	}
	if !req.ExpiresAt.After(effective) {
		return Delegation{}, fmt.Errorf("%w: expiry precedes effective date", httpx.ErrValidation)
	}

	delegator, err := s.userSrc.Get(ctx, delegatorID)
	if err != nil {
		return Delegation{}, err
	}
	if !delegator.IsActive() {
		return Delegation{}, fmt.Errorf("%w: delegator is not active", httpx.ErrForbidden)
	}
	delegate, err := s.userSrc.Get(ctx, req.DelegateID)
	if err != nil {
		return Delegation{}, err
	}
	if delegate.TenantID != delegator.TenantID {
		return Delegation{}, fmt.Errorf("%w: delegate %s", httpx.ErrIsolation, req.DelegateID)
	}
	if !delegate.IsActive() {
		return Delegation{}, fmt.Errorf("%w: delegate is not active", httpx.ErrValidation)
	}

	switch req.Type {
	case TypePartial, TypeTemporary:
		if len(req.PermissionIDs) == 0 {
			return Delegation{}, fmt.Errorf("%w: permission list required for %s delegation", httpx.ErrValidation, req.Type)
		}
		held, err := s.heldPermissions(ctx, delegator)
		if err != nil {
			return Delegation{}, err
		}
		for _, permID := range req.PermissionIDs {
			if !held[permID] {
				return Delegation{}, fmt.Errorf("%w: delegator does not hold all delegated permissions", httpx.ErrForbidden)
			}
		}
	case TypeRoleBased:
		if len(req.RoleIDs) == 0 {
			return Delegation{}, fmt.Errorf("%w: role list required for ROLE_BASED delegation", httpx.ErrValidation)
		}
		assigned, err := s.activeRoles(ctx, delegatorID, now)
		if err != nil {
			return Delegation{}, err
		}
		for _, roleID := range req.RoleIDs {
			if !assigned[roleID] {
				return Delegation{}, fmt.Errorf("%w: delegator does not hold all delegated roles", httpx.ErrForbidden)
			}
		}
	}

	depth := 0
	if req.ParentID != "" {
		parent, err := s.repo.Get(ctx, req.ParentID)
		if err != nil {
			return Delegation{}, err
		}
		if err := s.checkRedelegation(parent, delegatorID, req, now); err != nil {
			return Delegation{}, err
		}
		depth = parent.Depth + 1
	}

	d := Delegation{
		ID:            uuid.NewString(),
		TenantID:      delegator.TenantID,
		DelegatorID:   delegatorID,
		DelegateID:    req.DelegateID,
		Type:          req.Type,
		PermissionIDs: req.PermissionIDs,
		RoleIDs:       req.RoleIDs,
		ParentID:      req.ParentID,
		Depth:         depth,
		Reason:        req.Reason,
		CanDelegate:   req.CanDelegate,
		Active:        true,
		EffectiveFrom: effective,
		ExpiresAt:     req.ExpiresAt.UTC(),
	}
	created, err := s.repo.Create(ctx, d)
	if err != nil {
		return Delegation{}, err
	}
	if err := s.auditor.Record(ctx, audit.Event{
		ActorID:  delegatorID,
		Action:   "delegation.create",
		Target:   req.DelegateID,
		TenantID: delegator.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"delegation_id": created.ID, "type": created.Type, "expires_at": created.ExpiresAt},
	}); err != nil {
		return Delegation{}, fmt.Errorf("delegation: audit record: %w", err)
	}
	if s.notifier != nil {
		if err := s.notifier.DelegationCreated(ctx, created); err != nil {
			return Delegation{}, fmt.Errorf("delegation: notify: %w", err)
		}
	}
	return created, nil
}

// checkRedelegation enforces the non-expanding rule: the child must stay
// within the parent's window, scope and depth limit, and only the parent's
// delegate may carve from it.
func (s *Service) checkRedelegation(parent Delegation, delegatorID string, req CreateRequest, now time.Time) error {
	if parent.DelegateID != delegatorID {
		return fmt.Errorf("%w: only the delegate may re-delegate", httpx.ErrForbidden)
	}
	if !parent.IsActive(now) {
		return fmt.Errorf("%w: parent delegation is not active", httpx.ErrValidation)
	}
	if !parent.CanDelegate {
		return fmt.Errorf("%w: parent delegation does not permit re-delegation", httpx.ErrForbidden)
	}
	if parent.Depth+1 > maxDepth {
		return fmt.Errorf("%w: re-delegation depth limit reached", httpx.ErrValidation)
	}
	if req.ExpiresAt.After(parent.ExpiresAt) {
		return fmt.Errorf("%w: re-delegation cannot outlive its parent", httpx.ErrValidation)
	}
	if parent.Type == TypeFull {
		return nil
	}
	if req.Type == TypeFull {
		return fmt.Errorf("%w: re-delegation cannot widen its parent", httpx.ErrForbidden)
	}
	parentPerms := toSet(parent.PermissionIDs)
	for _, permID := range req.PermissionIDs {
		if !parentPerms[permID] {
			return fmt.Errorf("%w: re-delegation cannot widen its parent", httpx.ErrForbidden)
		}
	}
	parentRoles := toSet(parent.RoleIDs)
	for _, roleID := range req.RoleIDs {
		if !parentRoles[roleID] {
			return fmt.Errorf("%w: re-delegation cannot widen its parent", httpx.ErrForbidden)
		}
	}
	return nil
}

// Revoke deactivates a delegation and its whole re-delegation chain. Only
// the delegator may revoke.
func (s *Service) Revoke(ctx context.Context, actorID, id string) error {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.DelegatorID != actorID {
		return fmt.Errorf("%w: only the delegator may revoke", httpx.ErrForbidden)
	}
	if err := s.repo.Revoke(ctx, id); err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "delegation.revoke",
		Target:   d.DelegateID,
		TenantID: d.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"delegation_id": id},
	})
}

// heldPermissions collects the delegator's own permission ids: direct
// grants plus role-derived permissions. Delegations received from others
// are deliberately excluded; re-delegation goes through the parent chain.
func (s *Service) heldPermissions(ctx context.Context, u users.User) (map[string]bool, error) {
	now := time.Now().UTC()
	held := map[string]bool{}
	grants, perms, err := s.permSrc.GrantsForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	for i, g := range grants {
		if g.IsActive(now) {
			held[perms[i].ID] = true
		}
	}
	assignments, err := s.roleSrc.AssignmentsForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		if !a.IsActive(now) {
			continue
		}
		rolePerms, err := s.roleSrc.EffectivePermissions(ctx, u.TenantID, a.RoleID)
		if err != nil {
			return nil, err
		}
		for _, p := range rolePerms {
			held[p.ID] = true
		}
	}
	return held, nil
}

func (s *Service) activeRoles(ctx context.Context, userID string, now time.Time) (map[string]bool, error) {
	assignments, err := s.roleSrc.AssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := map[string]bool{}
	for _, a := range assignments {
		if a.IsActive(now) {
			active[a.RoleID] = true
		}
	}
	return active, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ RoleSource     = (*roles.Service)(nil)
)
