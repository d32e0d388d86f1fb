// Package authz is the decision engine. It combines direct grants, role
// inheritance, delegations and break-glass grants into a single allow or
// deny answer, defaulting to deny.
package authz

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/delegation"
	"github.com/palisade-io/palisade/internal/emergency"
	"github.com/palisade-io/palisade/internal/permissions"
	"github.com/palisade-io/palisade/internal/resources"
	"github.com/palisade-io/palisade/internal/roles"
	"github.com/palisade-io/palisade/internal/users"
)

// Access sources, in evaluation order.
const (
	SourceDirect     = "DIRECT"
	SourceRole       = "ROLE"
	SourceDelegation = "DELEGATION"
	SourceEmergency  = "EMERGENCY"
)

// Deny reasons exposed to callers. Constraint failures all collapse into
// ReasonDenied so a caller cannot probe which constraint tripped.
const (
	ReasonNoPermission = "no matching permission"
	ReasonDenied       = "access denied"
	ReasonTimeout      = "evaluation timed out"
)

// CheckRequest is a single authorization question. ResourceID is optional;
// without it the engine answers the coarse type-and-action question used at
// gateways and by UI affordances.
type CheckRequest struct {
	PrincipalID  string `json:"principal_id"`
	ResourceType string `json:"resource_type" validate:"required"`
	Action       string `json:"action" validate:"required"`
	ResourceID   string `json:"resource_id"`
	Country      string `json:"country"`
}

// Decision is the engine's answer, with provenance when allowed.
type Decision struct {
	Allowed      bool      `json:"allowed"`
	Reason       string    `json:"reason,omitempty"`
	Source       string    `json:"source,omitempty"`
	SourceID     string    `json:"source_id,omitempty"`
	PermissionID string    `json:"permission_id,omitempty"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Candidate is a permission a principal might exercise, tagged with where
// it came from.
type Candidate struct {
	Permission permissions.Permission `json:"permission"`
	Source     string                 `json:"source"`
	// SourceID names the grant, role, or delegation that contributed the
	// permission.
	SourceID string `json:"source_id"`
}

// UserSource exposes principal lookups.
type UserSource interface {
	Get(ctx context.Context, id string) (users.User, error)
}

// GrantSource exposes direct user grants.
type GrantSource interface {
	GrantsForUser(ctx context.Context, userID string) ([]permissions.Grant, []permissions.Permission, error)
}

// RoleSource exposes assignments, role lookups and inherited permission
// sets.
type RoleSource interface {
	Get(ctx context.Context, id string) (roles.Role, error)
	AssignmentsForUser(ctx context.Context, userID string) ([]roles.Assignment, error)
	EffectivePermissions(ctx context.Context, tenantID, roleID string) ([]permissions.Permission, error)
}

// DelegationSource exposes delegations received by a user.
type DelegationSource interface {
	Received(ctx context.Context, userID string) ([]delegation.Delegation, error)
}

// EmergencySource exposes live break-glass grants.
type EmergencySource interface {
	ActiveForUser(ctx context.Context, userID string) ([]emergency.Request, error)
}

// ResourceSource exposes resource lookups.
type ResourceSource interface {
	Get(ctx context.Context, id string) (resources.Resource, error)
	GetBatch(ctx context.Context, ids []string) (map[string]resources.Resource, error)
}

// Auditor records every decision.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) error
}

// Metrics counts decisions by outcome and source.
type Metrics interface {
	ObserveDecision(outcome, source string)
}

// Engine evaluates authorization questions. It holds no mutable state; all
// reads go through the source ports so cache coherence lives with them.
type Engine struct {
	users       UserSource
	grants      GrantSource
	roles       RoleSource
	delegations DelegationSource
	emergencies EmergencySource
	resources   ResourceSource
	auditor     Auditor
	metrics     Metrics
}

// NewEngine builds an Engine instance.
func NewEngine(users UserSource, grants GrantSource, roleSrc RoleSource, delegations DelegationSource, emergencies EmergencySource, resourceSrc ResourceSource, auditor Auditor, metrics Metrics) *Engine {
	return &Engine{
		users:       users,
		grants:      grants,
		roles:       roleSrc,
		delegations: delegations,
		emergencies: emergencies,
		resources:   resourceSrc,
		auditor:     auditor,
		metrics:     metrics,
	}
}

// Authorize answers one question. Any evaluation failure, including a dead
// context or an unreachable audit sink, comes back as a deny; the engine
// never fails open and never grants access it could not record.
func (e *Engine) Authorize(ctx context.Context, req CheckRequest) Decision {
	now := time.Now().UTC()
	decision, tenantID := e.evaluate(ctx, req, now)
	decision.EvaluatedAt = now
	if err := e.record(ctx, req, decision, tenantID); err != nil {
		return Decision{Allowed: false, Reason: ReasonDenied, EvaluatedAt: now}
	}
	return decision
}

// evaluate returns the decision and the principal's tenant when resolved.
func (e *Engine) evaluate(ctx context.Context, req CheckRequest, now time.Time) (Decision, string) {
	if err := ctx.Err(); err != nil {
		return Decision{Allowed: false, Reason: ReasonTimeout}, ""
	}
	principal, err := e.users.Get(ctx, req.PrincipalID)
	if err != nil || !principal.IsActive() {
		return Decision{Allowed: false, Reason: ReasonDenied}, ""
	}
	if !principal.PermittedAt(now, req.Country) {
		return Decision{Allowed: false, Reason: ReasonDenied}, principal.TenantID
	}

	var resource *resources.Resource
	if req.ResourceID != "" {
		res, err := e.resources.Get(ctx, req.ResourceID)
		if err != nil {
			return Decision{Allowed: false, Reason: ReasonDenied}, principal.TenantID
		}
		if res.TenantID != principal.TenantID || res.Type != req.ResourceType {
			return Decision{Allowed: false, Reason: ReasonDenied}, principal.TenantID
		}
		resource = &res
	}

	candidates, emergencies, err := e.candidates(ctx, principal, now, req.Country)
	if err != nil {
		return Decision{Allowed: false, Reason: ReasonDenied}, principal.TenantID
	}
	return e.decide(principal, resource, req, candidates, emergencies, now), principal.TenantID
}

// decide walks the candidate set. The first candidate that matches the
// question and passes every constraint wins; matching candidates that fail
// a constraint produce the generic deny so constraint details never leak.
func (e *Engine) decide(principal users.User, resource *resources.Resource, req CheckRequest, candidates []Candidate, emergencies []emergency.Request, now time.Time) Decision {
	matched := false
	for _, c := range candidates {
		if !c.Permission.Matches(req.ResourceType, req.Action) {
			continue
		}
		matched = true
		if !e.passes(principal, resource, c.Permission) {
			continue
		}
		return Decision{Allowed: true, Source: c.Source, SourceID: c.SourceID, PermissionID: c.Permission.ID}
	}
	for _, grant := range emergencies {
		if !grant.IsActive(now) || !grant.Covers(req.ResourceType, req.Action, req.ResourceID) {
			continue
		}
		return Decision{Allowed: true, Source: SourceEmergency, SourceID: grant.ID}
	}
	if matched {
		return Decision{Allowed: false, Reason: ReasonDenied}
	}
	return Decision{Allowed: false, Reason: ReasonNoPermission}
}

// passes evaluates the permission's constraints against the principal and,
// when present, the resource. Scope, classification and custom predicates
// only apply when a concrete resource is in play.
func (e *Engine) passes(principal users.User, resource *resources.Resource, perm permissions.Permission) bool {
	if !principal.Clearance.Dominates(perm.MinClearance) {
		return false
	}
	if resource == nil {
		return true
	}
	switch perm.Scope {
	case permissions.ScopeOwn:
		if resource.OwnerID != principal.ID {
			return false
		}
	case permissions.ScopeDepartment:
		if principal.DepartmentID == "" || resource.DepartmentID != principal.DepartmentID {
			return false
		}
	case permissions.ScopeTenant, permissions.ScopeGlobal:
	default:
		return false
	}
	if !principal.Clearance.Dominates(resource.Classification) {
		return false
	}
	return perm.Constraint.Evaluate(resource.ConstraintAttributes())
}

// candidates assembles the principal's full permission set with provenance:
// direct grants, role-derived permissions from active assignments of active
// roles, and delegated permissions the delegator still holds. Break-glass
// grants come back separately; they are not permissions.
func (e *Engine) candidates(ctx context.Context, principal users.User, now time.Time, country string) ([]Candidate, []emergency.Request, error) {
	var (
		base        []Candidate
		delegated   []Candidate
		emergencies []emergency.Request
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		base, err = e.baseCandidates(gctx, principal, now, country)
		return err
	})
	g.Go(func() error {
		var err error
		delegated, err = e.delegatedCandidates(gctx, principal, now, country)
		return err
	})
	g.Go(func() error {
		var err error
		emergencies, err = e.emergencies.ActiveForUser(gctx, principal.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return append(base, delegated...), emergencies, nil
}

// baseCandidates is the principal's own access: direct grants plus role
// inheritance. Delegations received from others are excluded, which is what
// keeps delegation validity checks from recursing.
func (e *Engine) baseCandidates(ctx context.Context, principal users.User, now time.Time, country string) ([]Candidate, error) {
	var out []Candidate

	grants, perms, err := e.grants.GrantsForUser(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	for i, g := range grants {
		if !g.IsActive(now) {
			continue
		}
		out = append(out, Candidate{Permission: perms[i], Source: SourceDirect, SourceID: g.ID})
	}

	assignments, err := e.roles.AssignmentsForUser(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		if !a.IsActive(now) {
			continue
		}
		role, err := e.roles.Get(ctx, a.RoleID)
		if err != nil {
			return nil, err
		}
		if !role.IsActive() || !role.PermittedAt(now, country) {
			continue
		}
		rolePerms, err := e.roles.EffectivePermissions(ctx, principal.TenantID, a.RoleID)
		if err != nil {
			return nil, err
		}
		for _, p := range rolePerms {
			out = append(out, Candidate{Permission: p, Source: SourceRole, SourceID: a.RoleID})
		}
	}
	return out, nil
}

// delegatedCandidates resolves delegations received by the principal. A
// delegation only conveys what its delegator still holds at evaluation
// time; revoking the delegator's access silently kills the delegation.
func (e *Engine) delegatedCandidates(ctx context.Context, principal users.User, now time.Time, country string) ([]Candidate, error) {
	received, err := e.delegations.Received(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, d := range received {
		if !d.IsActive(now) || d.TenantID != principal.TenantID {
			continue
		}
		delegator, err := e.users.Get(ctx, d.DelegatorID)
		if err != nil || !delegator.IsActive() {
			continue
		}
		held, err := e.baseCandidates(ctx, delegator, now, country)
		if err != nil {
			return nil, err
		}
		out = append(out, e.conveyed(d, held)...)
	}
	return out, nil
}

// conveyed intersects the delegator's live permission set with what the
// delegation names.
func (e *Engine) conveyed(d delegation.Delegation, held []Candidate) []Candidate {
	switch d.Type {
	case delegation.TypeFull:
		out := make([]Candidate, 0, len(held))
		for _, c := range held {
			out = append(out, Candidate{Permission: c.Permission, Source: SourceDelegation, SourceID: d.ID})
		}
		return out
	case delegation.TypeRoleBased:
		wanted := toSet(d.RoleIDs)
		var out []Candidate
		for _, c := range held {
			if c.Source == SourceRole && wanted[c.SourceID] {
				out = append(out, Candidate{Permission: c.Permission, Source: SourceDelegation, SourceID: d.ID})
			}
		}
		return out
	default:
		wanted := toSet(d.PermissionIDs)
		var out []Candidate
		for _, c := range held {
			if wanted[c.Permission.ID] {
				out = append(out, Candidate{Permission: c.Permission, Source: SourceDelegation, SourceID: d.ID})
			}
		}
		return out
	}
}

// EffectiveAccess returns the principal's full candidate set with
// provenance, deduplicated by permission id with the strongest-first source
// order preserved.
func (e *Engine) EffectiveAccess(ctx context.Context, principalID, country string) ([]Candidate, error) {
	now := time.Now().UTC()
	principal, err := e.users.Get(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !principal.IsActive() {
		return []Candidate{}, nil
	}
	candidates, _, err := e.candidates(ctx, principal, now, country)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := []Candidate{}
	for _, c := range candidates {
		if seen[c.Permission.ID] {
			continue
		}
		seen[c.Permission.ID] = true
		out = append(out, c)
	}
	return out, nil
}

// record persists the decision event. A sink failure propagates so the
// caller can fail closed; an unrecorded grant must never be handed out.
func (e *Engine) record(ctx context.Context, req CheckRequest, d Decision, tenantID string) error {
	outcome := audit.OutcomeDenied
	if d.Allowed {
		outcome = audit.OutcomeGranted
	}
	if e.metrics != nil {
		source := d.Source
		if source == "" {
			source = "none"
		}
		e.metrics.ObserveDecision(outcome, source)
	}
	if e.auditor == nil {
		return nil
	}
	target := req.ResourceType + ":" + req.Action
	if req.ResourceID != "" {
		target = fmt.Sprintf("%s:%s:%s", req.ResourceType, req.Action, req.ResourceID)
	}
	return e.auditor.Record(ctx, audit.Event{
		ActorID:  req.PrincipalID,
		Action:   "authz.check",
		Target:   target,
		TenantID: tenantID,
		Outcome:  outcome,
		Reason:   d.Reason,
		Meta:     map[string]any{"source": d.Source, "source_id": d.SourceID, "permission_id": d.PermissionID},
	})
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
