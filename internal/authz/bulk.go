package authz

import (
	"context"
	"time"

	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/resources"
)

// BulkItem is one question of a bulk check.
type BulkItem struct {
	ResourceType string `json:"resource_type" validate:"required"`
	Action       string `json:"action" validate:"required"`
	ResourceID   string `json:"resource_id"`
}

// AuthorizeMultiple answers a batch of questions for one principal. The
// candidate set is assembled once and every referenced resource is fetched
// in a single batched read, so the cost of a bulk check is one evaluation
// pipeline plus pure in-memory matching per item.
func (e *Engine) AuthorizeMultiple(ctx context.Context, principalID, country string, items []BulkItem) []Decision {
	now := time.Now().UTC()
	out := make([]Decision, len(items))
	deny := func(reason string) {
		for i := range out {
			out[i] = Decision{Allowed: false, Reason: reason, EvaluatedAt: now}
		}
	}
	record := func(tenantID string) {
		if err := e.recordBulk(ctx, principalID, tenantID, items, out); err != nil {
			deny(ReasonDenied)
		}
	}
	if err := ctx.Err(); err != nil {
		deny(ReasonTimeout)
		return out
	}
	principal, err := e.users.Get(ctx, principalID)
	if err != nil || !principal.IsActive() || !principal.PermittedAt(now, country) {
		deny(ReasonDenied)
		record(principal.TenantID)
		return out
	}

	candidates, emergencies, err := e.candidates(ctx, principal, now, country)
	if err != nil {
		deny(ReasonDenied)
		record(principal.TenantID)
		return out
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.ResourceID != "" {
			ids = append(ids, item.ResourceID)
		}
	}
	fetched := map[string]resources.Resource{}
	if len(ids) > 0 {
		fetched, err = e.resources.GetBatch(ctx, ids)
		if err != nil {
			deny(ReasonDenied)
			record(principal.TenantID)
			return out
		}
	}

	for i, item := range items {
		req := CheckRequest{
			PrincipalID:  principalID,
			ResourceType: item.ResourceType,
			Action:       item.Action,
			ResourceID:   item.ResourceID,
			Country:      country,
		}
		var resource *resources.Resource
		if item.ResourceID != "" {
			res, ok := fetched[item.ResourceID]
			if !ok || res.TenantID != principal.TenantID || res.Type != item.ResourceType {
				out[i] = Decision{Allowed: false, Reason: ReasonDenied, EvaluatedAt: now}
				continue
			}
			resource = &res
		}
		d := e.decide(principal, resource, req, candidates, emergencies, now)
		d.EvaluatedAt = now
		out[i] = d
	}
	record(principal.TenantID)
	return out
}

// recordBulk emits one event per decision, same shape as a single check.
// A sink failure propagates so the batch fails closed.
func (e *Engine) recordBulk(ctx context.Context, principalID, tenantID string, items []BulkItem, decisions []Decision) error {
	for i, d := range decisions {
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
			continue
		}
		target := items[i].ResourceType + ":" + items[i].Action
		if items[i].ResourceID != "" {
			target = target + ":" + items[i].ResourceID
		}
		if err := e.auditor.Record(ctx, audit.Event{
			ActorID:  principalID,
			Action:   "authz.check.bulk",
			Target:   target,
			TenantID: tenantID,
			Outcome:  outcome,
			Reason:   d.Reason,
			Meta:     map[string]any{"source": d.Source, "source_id": d.SourceID, "permission_id": d.PermissionID},
		}); err != nil {
			return err
		}
	}
	return nil
}
