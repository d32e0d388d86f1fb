package roles

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/palisade-io/palisade/internal/permissions"
)

// GraphSource loads a tenant's role graph and role permissions. Both reads
// are batched; the resolver never issues a query per ancestor.
type GraphSource interface {
	Graph(ctx context.Context, tenantID string) (Graph, error)
	PermissionsByRole(ctx context.Context, roleIDs []string) (map[string][]permissions.Permission, error)
}

// Resolver computes the effective permission set of a role: its own
// permissions plus those of every active ancestor. Results are cached per
// (role, graph version); concurrent resolutions of the same key collapse
// into one load.
type Resolver struct {
	source GraphSource
	cache  *Cache
	group  singleflight.Group
}

// NewResolver builds a Resolver instance.
func NewResolver(source GraphSource, cache *Cache) *Resolver {
	return &Resolver{source: source, cache: cache}
}

// EffectivePermissions returns the union of the role's direct permissions
// and those of all its active ancestors. Inactive ancestors contribute
// nothing.
func (r *Resolver) EffectivePermissions(ctx context.Context, tenantID, roleID string) ([]permissions.Permission, error) {
	key, err := r.cache.BuildKey(ctx, tenantID, "effective", roleID)
	if err != nil {
		return nil, err
	}
	result, err, _ := r.group.Do(key, func() (any, error) {
		var perms []permissions.Permission
		err := r.cache.FetchJSON(ctx, key, &perms, func(ctx context.Context) (any, error) {
			return r.resolve(ctx, tenantID, roleID)
		})
		return perms, err
	})
	if err != nil {
		return nil, err
	}
	return result.([]permissions.Permission), nil
}

// Ancestors returns the transitive ancestor set of the role.
func (r *Resolver) Ancestors(ctx context.Context, tenantID, roleID string) ([]string, error) {
	graph, err := r.source.Graph(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, ok := graph.Roles[roleID]; !ok {
		return nil, fmt.Errorf("roles: unknown role %s", roleID)
	}
	return graph.Ancestors(roleID), nil
}

func (r *Resolver) resolve(ctx context.Context, tenantID, roleID string) ([]permissions.Permission, error) {
	graph, err := r.source.Graph(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	role, ok := graph.Roles[roleID]
	if !ok {
		return nil, fmt.Errorf("roles: unknown role %s", roleID)
	}

	contributing := make([]string, 0, 1+len(graph.Parents[roleID]))
	if role.IsActive() {
		contributing = append(contributing, roleID)
	}
	for _, ancestorID := range graph.Ancestors(roleID) {
		if ancestor, ok := graph.Roles[ancestorID]; ok && ancestor.IsActive() {
			contributing = append(contributing, ancestorID)
		}
	}
	if len(contributing) == 0 {
		return []permissions.Permission{}, nil
	}

	byRole, err := r.source.PermissionsByRole(ctx, contributing)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	union := []permissions.Permission{}
	for _, id := range contributing {
		for _, perm := range byRole[id] {
			if seen[perm.ID] {
				continue
			}
			seen[perm.ID] = true
			union = append(union, perm)
		}
	}
	return union, nil
}
