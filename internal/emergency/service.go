package emergency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/shared"
	"github.com/palisade-io/palisade/internal/users"
)

// Access windows are capped regardless of what the requester asks for.
const maxDurationMinutes = 4 * 60

// RepositoryPort defines the data access methods the service needs.
type RepositoryPort interface {
	Get(ctx context.Context, id string) (Request, error)
	Create(ctx context.Context, req Request) (Request, error)
	Decide(ctx context.Context, id, status, approverID, note string, expiresAt *time.Time) error
	Revoke(ctx context.Context, id string) error
	ForRequester(ctx context.Context, requesterID string) ([]Request, error)
	Pending(ctx context.Context, tenantID string) ([]Request, error)
	ActiveForUser(ctx context.Context, requesterID string) ([]Request, error)
}

// UserSource exposes user lookups.
type UserSource interface {
	Get(ctx context.Context, id string) (users.User, error)
}

// Notifier announces break-glass lifecycle events to approvers and
// requesters.
type Notifier interface {
	EmergencyRequested(ctx context.Context, req Request) error
	EmergencyDecided(ctx context.Context, req Request) error
}

// Auditor records break-glass mutations.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) error
}

// CreateRequest is the payload for opening a break-glass request.
// ResourceID optionally narrows the grant to a single resource.
type CreateRequest struct {
	ResourceType    string `json:"resource_type" validate:"required"`
	Action          string `json:"action" validate:"required"`
	ResourceID      string `json:"resource_id"`
	Justification   string `json:"justification" validate:"required,min=10"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gt=0"`
}

// Service handles the break-glass lifecycle.
type Service struct {
	repo     RepositoryPort
	userSrc  UserSource
	notifier Notifier
	auditor  Auditor
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, userSrc UserSource, notifier Notifier, auditor Auditor) *Service {
	return &Service{repo: repo, userSrc: userSrc, notifier: notifier, auditor: auditor}
}

// Get fetches a request.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.Get(ctx, id)
}

// ForRequester returns a user's requests.
func (s *Service) ForRequester(ctx context.Context, requesterID string) ([]Request, error) {
	return s.repo.ForRequester(ctx, requesterID)
}

// Pending returns the tenant's undecided requests.
func (s *Service) Pending(ctx context.Context, tenantID string) ([]Request, error) {
	return s.repo.Pending(ctx, tenantID)
}

// ActiveForUser returns the user's live grants.
func (s *Service) ActiveForUser(ctx context.Context, requesterID string) ([]Request, error) {
	return s.repo.ActiveForUser(ctx, requesterID)
}

// Request opens a break-glass request. Justification is mandatory and the
// window is capped; the request grants nothing until someone else approves
// it.
func (s *Service) Request(ctx context.Context, requesterID string, req CreateRequest) (Request, error) {
	if err := shared.Validator().Struct(req); err != nil {
		return Request{}, err
	}
	if req.DurationMinutes > maxDurationMinutes {
		return Request{}, fmt.Errorf("%w: duration exceeds %d minutes", httpx.ErrValidation, maxDurationMinutes)
	}
	requester, err := s.userSrc.Get(ctx, requesterID)
	if err != nil {
		return Request{}, err
	}
	if !requester.IsActive() {
		return Request{}, fmt.Errorf("%w: requester is not active", httpx.ErrForbidden)
	}

	created, err := s.repo.Create(ctx, Request{
		ID:              uuid.NewString(),
		TenantID:        requester.TenantID,
		RequesterID:     requesterID,
		ResourceType:    req.ResourceType,
		Action:          req.Action,
		ResourceID:      req.ResourceID,
		Justification:   req.Justification,
		DurationMinutes: req.DurationMinutes,
		Status:          StatusPending,
	})
	if err != nil {
		return Request{}, err
	}
	if err := s.auditor.Record(ctx, audit.Event{
		ActorID:  requesterID,
		Action:   "emergency.request",
		Target:   created.ID,
		TenantID: created.TenantID,
		Outcome:  audit.OutcomeApplied,
		Reason:   req.Justification,
		Meta:     map[string]any{"resource_type": req.ResourceType, "action": req.Action, "resource_id": req.ResourceID, "duration_minutes": req.DurationMinutes},
	}); err != nil {
		return Request{}, fmt.Errorf("emergency: audit record: %w", err)
	}
	if s.notifier != nil {
		if err := s.notifier.EmergencyRequested(ctx, created); err != nil {
			return Request{}, fmt.Errorf("emergency: notify: %w", err)
		}
	}
	return created, nil
}

// Approve activates a pending request. The requester can never approve
// their own request, and the approver must share the tenant.
func (s *Service) Approve(ctx context.Context, approverID, requestID, note string) (Request, error) {
	return s.decide(ctx, approverID, requestID, note, true)
}

// Reject closes a pending request without granting access.
func (s *Service) Reject(ctx context.Context, approverID, requestID, note string) (Request, error) {
	return s.decide(ctx, approverID, requestID, note, false)
}

func (s *Service) decide(ctx context.Context, approverID, requestID, note string, approve bool) (Request, error) {
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: request already decided", httpx.ErrConflict)
	}
	if req.RequesterID == approverID {
		return Request{}, fmt.Errorf("%w: cannot approve your own request", httpx.ErrForbidden)
	}
	approver, err := s.userSrc.Get(ctx, approverID)
	if err != nil {
		return Request{}, err
	}
	if approver.TenantID != req.TenantID {
		return Request{}, fmt.Errorf("%w: approver %s", httpx.ErrIsolation, approverID)
	}
	if !approver.IsActive() {
		return Request{}, fmt.Errorf("%w: approver is not active", httpx.ErrForbidden)
	}

	status := StatusRejected
	outcome := audit.OutcomeRejected
	var expiresAt *time.Time
	if approve {
		status = StatusActive
		outcome = audit.OutcomeGranted
		t := time.Now().UTC().Add(time.Duration(req.DurationMinutes) * time.Minute)
		expiresAt = &t
	}
	if err := s.repo.Decide(ctx, requestID, status, approverID, note, expiresAt); err != nil {
		return Request{}, err
	}
	decided, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if err := s.auditor.Record(ctx, audit.Event{
		ActorID:  approverID,
		Action:   "emergency.decide",
		Target:   requestID,
		TenantID: req.TenantID,
		Outcome:  outcome,
		Reason:   note,
		Meta:     map[string]any{"requester_id": req.RequesterID, "status": status, "expires_at": expiresAt},
	}); err != nil {
		return Request{}, fmt.Errorf("emergency: audit record: %w", err)
	}
	if s.notifier != nil {
		if err := s.notifier.EmergencyDecided(ctx, decided); err != nil {
			return Request{}, fmt.Errorf("emergency: notify: %w", err)
		}
	}
	return decided, nil
}

// Revoke cuts an active grant short. The requester or any other user of
// the tenant with write authority can do it; the handler layer scopes the
// caller, here we only require same tenant.
func (s *Service) Revoke(ctx context.Context, actorID, requestID string) error {
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return err
	}
	actor, err := s.userSrc.Get(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.TenantID != req.TenantID {
		return fmt.Errorf("%w: actor %s", httpx.ErrIsolation, actorID)
	}
	if err := s.repo.Revoke(ctx, requestID); err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   "emergency.revoke",
		Target:   requestID,
		TenantID: req.TenantID,
		Outcome:  audit.OutcomeApplied,
		Meta:     map[string]any{"requester_id": req.RequesterID},
	})
}

var _ RepositoryPort = (*Repository)(nil)
