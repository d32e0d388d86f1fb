package users

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
	Get(ctx context.Context, id string) (User, error)
	List(ctx context.Context, tenantID string, page shared.Pagination) ([]User, error)
	Create(ctx context.Context, u User) (User, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// IsolationPort is the slice of the tenancy service used on write paths.
type IsolationPort interface {
	AuthorizeWrite(ctx context.Context, operatorID, targetTenant, operation string) error
}

// Auditor records administrative mutations.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) error
}

// CreateUserRequest is the management payload for creating a user.
type CreateUserRequest struct {
	TenantID        string            `json:"tenant_id" validate:"required"`
	DepartmentID    string            `json:"department_id"`
	Email           string            `json:"email" validate:"required,email"`
	Name            string            `json:"name" validate:"required"`
	Clearance       string            `json:"clearance" validate:"omitempty,oneof=STANDARD ELEVATED SECRET"`
	TimeRestriction shared.TimeWindow `json:"time_restriction"`
	GeoRestriction  []string          `json:"geo_restriction"`
}

// Service handles user management.
type Service struct {
	repo      RepositoryPort
	isolation IsolationPort
	auditor   Auditor
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, isolation IsolationPort, auditor Auditor) *Service {
	return &Service{repo: repo, isolation: isolation, auditor: auditor}
}

// Get fetches a user.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.Get(ctx, id)
}

// List returns users of a tenant.
func (s *Service) List(ctx context.Context, tenantID string, page shared.Pagination) ([]User, error) {
	return s.repo.List(ctx, tenantID, page)
}

// Create validates and inserts a user, enforcing tenant isolation first.
func (s *Service) Create(ctx context.Context, actorID string, req CreateUserRequest) (User, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := shared.Validator().Struct(req); err != nil {
		return User{}, err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, req.TenantID, "user_create"); err != nil {
		return User{}, err
	}

	clearance := shared.LevelStandard
	if req.Clearance != "" {
		clearance = shared.ParseAccessLevel(req.Clearance)
	}
	user := User{
		ID:              uuid.NewString(),
		TenantID:        req.TenantID,
		DepartmentID:    req.DepartmentID,
		Email:           req.Email,
		Name:            req.Name,
		Clearance:       clearance,
		Status:          StatusActive,
		TimeRestriction: req.TimeRestriction,
		GeoRestriction:  req.GeoRestriction,
	}
	created, err := s.repo.Create(ctx, user)
	if err != nil {
		return User{}, err
	}
	if err := s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "user.create",
		Target:   created.ID,
		TenantID: created.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"after": created},
	}); err != nil {
		return User{}, fmt.Errorf("users: audit record: %w", err)
	}
	return created, nil
}

// SetStatus transitions a user's status. SUSPENDED is the soft-delete state.
func (s *Service) SetStatus(ctx context.Context, actorID, userID, status string) error {
	switch status {
	case StatusActive, StatusLocked, StatusSuspended:
	default:
		return fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, status)
	}
	current, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.isolation.AuthorizeWrite(ctx, actorID, current.TenantID, "user_update"); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, userID, status); err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "user.status",
		Target:   userID,
		TenantID: current.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"before": current.Status, "after": status},
	})
}

var _ IsolationPort = (*tenancy.Service)(nil)
