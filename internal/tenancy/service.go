// Package tenancy enforces tenant isolation between entities. It is a
// precondition consulted by every write path before the entity model is
// mutated, not a post-hoc check.
package tenancy

import (
	"context"
	"fmt"

	"github.com/palisade-io/palisade/internal/platform/httpx"
)

// EntityKind names the entity tables the service can resolve tenants for.
type EntityKind string

const (
	KindUser       EntityKind = "user"
	KindRole       EntityKind = "role"
	KindPermission EntityKind = "permission"
	KindResource   EntityKind = "resource"
)

// Repository resolves tenant membership and cross-tenant capabilities.
type Repository interface {
	// TenantOf returns the tenant id of the entity, httpx.ErrNotFound when
	// the entity does not exist.
	TenantOf(ctx context.Context, kind EntityKind, id string) (string, error)
	// IsSystemAdmin reports whether the user carries the system admin flag.
	IsSystemAdmin(ctx context.Context, userID string) (bool, error)
	// HasLivePermission reports whether the user currently holds the named
	// permission directly or through a role assignment.
	HasLivePermission(ctx context.Context, userID, permission string) (bool, error)
}

// Service validates that entities referenced together share a tenant.
type Service struct {
	repo Repository
}

// NewService builds a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// BelongsToTenant reports whether the entity belongs to the given tenant.
func (s *Service) BelongsToTenant(ctx context.Context, kind EntityKind, entityID, tenantID string) (bool, error) {
	tenant, err := s.repo.TenantOf(ctx, kind, entityID)
	if err != nil {
		return false, err
	}
	return tenant == tenantID, nil
}

// ValidateIsolation ensures the user and the referenced entity share a
// tenant. A mismatch is fatal to the calling write.
func (s *Service) ValidateIsolation(ctx context.Context, userID string, kind EntityKind, entityID string) error {
	userTenant, err := s.repo.TenantOf(ctx, KindUser, userID)
	if err != nil {
		return err
	}
	entityTenant, err := s.repo.TenantOf(ctx, kind, entityID)
	if err != nil {
		return err
	}
	if userTenant != entityTenant {
		return fmt.Errorf("%w: user %s and %s %s belong to different tenants", httpx.ErrIsolation, userID, kind, entityID)
	}
	return nil
}

// CrossTenantAllowed reports whether the operator may perform the named
// operation against a foreign tenant. Reserved for system administrators and
// principals holding an explicit cross_tenant_<operation> permission.
func (s *Service) CrossTenantAllowed(ctx context.Context, operatorID, targetTenant, operation string) (bool, error) {
	admin, err := s.repo.IsSystemAdmin(ctx, operatorID)
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}
	return s.repo.HasLivePermission(ctx, operatorID, "cross_tenant_"+operation)
}

// AuthorizeWrite ensures the operator may mutate state in targetTenant:
// either the operator belongs to it, or holds a cross-tenant capability for
// the operation.
func (s *Service) AuthorizeWrite(ctx context.Context, operatorID, targetTenant, operation string) error {
	operatorTenant, err := s.repo.TenantOf(ctx, KindUser, operatorID)
	if err != nil {
		return err
	}
	if operatorTenant == targetTenant {
		return nil
	}
	allowed, err := s.CrossTenantAllowed(ctx, operatorID, targetTenant, operation)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: operator %s may not perform %s in tenant %s", httpx.ErrIsolation, operatorID, operation, targetTenant)
	}
	return nil
}
