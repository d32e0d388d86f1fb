package authz

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/palisade-io/palisade/internal/permissions"
	"github.com/palisade-io/palisade/internal/resources"
	"github.com/palisade-io/palisade/internal/shared"
)

// Filter is a row-level predicate derived from a principal's candidate set
// for one resource type and action. Scope dimensions combine with OR; the
// tenant fence and the classification cap always apply on top with AND.
type Filter struct {
	DenyAll           bool
	TenantID          string
	TenantWide        bool
	OwnerID           string
	DepartmentID      string
	ResourceIDs       []string
	MaxClassification shared.AccessLevel
}

// SQL renders the filter as a WHERE fragment over the resources table.
// Placeholders start at startIdx so the fragment can be spliced into a
// larger query. A DenyAll filter renders to FALSE.
func (f Filter) SQL(alias string, startIdx int) (string, []any) {
	if f.DenyAll {
		return "FALSE", nil
	}
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(startIdx+len(args)-1)
	}

	clauses := []string{prefix + "tenant_id = " + next(f.TenantID)}
	var dims []string
	if f.TenantWide {
		dims = append(dims, "TRUE")
	}
	if f.OwnerID != "" {
		dims = append(dims, prefix+"owner_id = "+next(f.OwnerID))
	}
	if f.DepartmentID != "" {
		dims = append(dims, prefix+"department_id = "+next(f.DepartmentID))
	}
	if len(f.ResourceIDs) > 0 {
		dims = append(dims, prefix+"id = ANY("+next(f.ResourceIDs)+")")
	}
	if len(dims) == 0 {
		return "FALSE", nil
	}
	clauses = append(clauses, "("+strings.Join(dims, " OR ")+")")
	clauses = append(clauses, prefix+"classification = ANY("+next(dominatedLevels(f.MaxClassification))+")")
	return strings.Join(clauses, " AND "), args
}

// dominatedLevels lists the classification names a clearance may read.
func dominatedLevels(clearance shared.AccessLevel) []string {
	var names []string
	for l := shared.LevelStandard; l <= clearance; l++ {
		names = append(names, l.String())
	}
	return names
}

// Matches evaluates the filter in memory against a single resource. It is
// the exact in-process mirror of SQL: a row passes Matches if and only if
// the rendered fragment would select it.
func (f Filter) Matches(res resources.Resource) bool {
	if f.DenyAll {
		return false
	}
	if res.TenantID != f.TenantID {
		return false
	}
	if !f.MaxClassification.Dominates(res.Classification) {
		return false
	}
	if f.TenantWide {
		return true
	}
	if f.OwnerID != "" && res.OwnerID == f.OwnerID {
		return true
	}
	if f.DepartmentID != "" && res.DepartmentID == f.DepartmentID {
		return true
	}
	for _, id := range f.ResourceIDs {
		if res.ID == id {
			return true
		}
	}
	return false
}

// FilterFor builds the row filter for a principal, resource type and
// action. Custom predicates on candidate permissions are not rendered into
// SQL; single-resource checks still enforce them, so the filter errs on the
// visible side only for rows whose predicate attributes fail, never on the
// tenant fence or classification cap.
func (e *Engine) FilterFor(ctx context.Context, principalID, resourceType, action, country string) (Filter, error) {
	now := time.Now().UTC()
	principal, err := e.users.Get(ctx, principalID)
	if err != nil {
		return Filter{DenyAll: true}, nil
	}
	if !principal.IsActive() || !principal.PermittedAt(now, country) {
		return Filter{DenyAll: true}, nil
	}

	candidates, emergencies, err := e.candidates(ctx, principal, now, country)
	if err != nil {
		return Filter{}, fmt.Errorf("authz: build row filter: %w", err)
	}

	f := Filter{TenantID: principal.TenantID, MaxClassification: principal.Clearance}
	matched := false
	for _, c := range candidates {
		if !c.Permission.Matches(resourceType, action) {
			continue
		}
		if !principal.Clearance.Dominates(c.Permission.MinClearance) {
			continue
		}
		matched = true
		switch c.Permission.Scope {
		case permissions.ScopeTenant, permissions.ScopeGlobal:
			f.TenantWide = true
		case permissions.ScopeDepartment:
			if principal.DepartmentID != "" {
				f.DepartmentID = principal.DepartmentID
			}
		case permissions.ScopeOwn:
			f.OwnerID = principal.ID
		}
	}
	for _, grant := range emergencies {
		if !grant.IsActive(now) || !grant.Covers(resourceType, action, "") {
			continue
		}
		matched = true
		if grant.ResourceID == "" {
			f.TenantWide = true
		} else {
			f.ResourceIDs = append(f.ResourceIDs, grant.ResourceID)
		}
	}
	if !matched {
		return Filter{DenyAll: true, TenantID: principal.TenantID}, nil
	}
	return f, nil
}

// ResourceFilter renders the row filter as SQL for the resource listing
// path. Placeholders start at $2; the listing query owns $1. Custom
// constraint predicates are not rendered: a listing may include rows whose
// predicate attributes a single-resource check would reject, but never
// rows outside the tenant fence or above the classification cap.
func (e *Engine) ResourceFilter(ctx context.Context, principalID, resourceType, action string) (string, []any, error) {
	country := ""
	if p := shared.PrincipalFromContext(ctx); p != nil {
		country = p.Country
	}
	f, err := e.FilterFor(ctx, principalID, resourceType, action, country)
	if err != nil {
		return "", nil, err
	}
	clause, args := f.SQL("", 2)
	return clause, args, nil
}

var _ resources.RowFilterSource = (*Engine)(nil)
