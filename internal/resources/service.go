package resources

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/shared"
	"github.com/palisade-io/palisade/internal/tenancy"
)

// RepositoryPort defines the data access methods the service needs.
type RepositoryPort interface {
	Get(ctx context.Context, id string) (Resource, error)
	List(ctx context.Context, tenantID, resourceType string, page shared.Pagination) ([]Resource, error)
	Create(ctx context.Context, res Resource) (Resource, error)
	Delete(ctx context.Context, id string) error
}

// IsolationPort is the slice of the tenancy service used on write paths.
type IsolationPort interface {
	AuthorizeWrite(ctx context.Context, operatorID, targetTenant, operation string) error
	BelongsToTenant(ctx context.Context, kind tenancy.EntityKind, entityID, tenantID string) (bool, error)
}

// Auditor records administrative mutations.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) error
}

// CreateResourceRequest is the management payload for a new resource.
type CreateResourceRequest struct {
	TenantID       string            `json:"tenant_id" validate:"required"`
	Type           string            `json:"type" validate:"required"`
	Name           string            `json:"name" validate:"required"`
	OwnerID        string            `json:"owner_id" validate:"required"`
	DepartmentID   string            `json:"department_id"`
	Classification string            `json:"classification" validate:"omitempty,oneof=STANDARD ELEVATED SECRET"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// Service handles resource management.
type Service struct {
	repo      RepositoryPort
	isolation IsolationPort
	auditor   Auditor
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, isolation IsolationPort, auditor Auditor) *Service {
	return &Service{repo: repo, isolation: isolation, auditor: auditor}
}

// Get fetches a resource.
func (s *Service) Get(ctx context.Context, id string) (Resource, error) {
	return s.repo.Get(ctx, id)
}

// List returns tenant resources.
func (s *Service) List(ctx context.Context, tenantID, resourceType string, page shared.Pagination) ([]Resource, error) {
	return s.repo.List(ctx, tenantID, resourceType, page)
}

// Create validates and inserts a resource. The owner must belong to the
// resource's tenant.
func (s *Service) Create(ctx context.Context, actorID string, req CreateResourceRequest) (Resource, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := shared.Validator().Struct(req); err != nil {
		return Resource{}, err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, req.TenantID, "resource_create"); err != nil {
		return Resource{}, err
	}
	ok, err := s.isolation.BelongsToTenant(ctx, tenancy.KindUser, req.OwnerID, req.TenantID)
	if err != nil {
		return Resource{}, err
	}
	if !ok {
		return Resource{}, fmt.Errorf("%w: owner %s is not a member of tenant %s", httpx.ErrIsolation, req.OwnerID, req.TenantID)
	}

	res := Resource{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		Type:           req.Type,
		Name:           req.Name,
		OwnerID:        req.OwnerID,
		DepartmentID:   req.DepartmentID,
		Classification: shared.LevelStandard,
		Attributes:     req.Attributes,
	}
	if req.Classification != "" {
		res.Classification = shared.ParseAccessLevel(req.Classification)
	}
	created, err := s.repo.Create(ctx, res)
	if err != nil {
		return Resource{}, err
	}
	if err := s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "resource.create",
		Target:   created.ID,
		TenantID: created.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"after": created},
	}); err != nil {
		return Resource{}, err
	}
	return created, nil
}

// Delete removes a resource.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, current.TenantID, "resource_delete"); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "resource.delete",
		Target:   id,
		TenantID: current.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"before": current},
	})
}
