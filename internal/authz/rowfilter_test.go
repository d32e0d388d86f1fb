package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-io/palisade/internal/emergency"
	"github.com/palisade-io/palisade/internal/permissions"
	"github.com/palisade-io/palisade/internal/resources"
	"github.com/palisade-io/palisade/internal/shared"
)

func TestFilterSQLDenyAll(t *testing.T) {
	clause, args := Filter{DenyAll: true}.SQL("r", 1)
	assert.Equal(t, "FALSE", clause)
	assert.Empty(t, args)
}

func TestFilterSQLNoDimensionsIsDenyAll(t *testing.T) {
	f := Filter{TenantID: "t1", MaxClassification: shared.LevelStandard}
	clause, args := f.SQL("", 1)
	assert.Equal(t, "FALSE", clause)
	assert.Empty(t, args)
}

func TestFilterSQLTenantWide(t *testing.T) {
	f := Filter{TenantID: "t1", TenantWide: true, MaxClassification: shared.LevelElevated}
	clause, args := f.SQL("r", 1)
	assert.Equal(t, "r.tenant_id = $1 AND (TRUE) AND r.classification = ANY($2)", clause)
	require.Len(t, args, 2)
	assert.Equal(t, "t1", args[0])
	assert.Equal(t, []string{"STANDARD", "ELEVATED"}, args[1])
}

func TestFilterSQLDimensionsAndPlaceholderStart(t *testing.T) {
	f := Filter{
		TenantID:          "t1",
		OwnerID:           "alice",
		DepartmentID:      "eng",
		MaxClassification: shared.LevelStandard,
	}
	clause, args := f.SQL("", 3)
	assert.Equal(t, "tenant_id = $3 AND (owner_id = $4 OR department_id = $5) AND classification = ANY($6)", clause)
	require.Len(t, args, 4)
	assert.Equal(t, []string{"STANDARD"}, args[3])
}

func TestFilterMatchesMirrorsSQL(t *testing.T) {
	f := Filter{
		TenantID:          "t1",
		OwnerID:           "alice",
		ResourceIDs:       []string{"res9"},
		MaxClassification: shared.LevelElevated,
	}
	res := func(id, tenant, owner string, cls shared.AccessLevel) resources.Resource {
		return resources.Resource{ID: id, TenantID: tenant, OwnerID: owner, Classification: cls}
	}

	assert.True(t, f.Matches(res("r1", "t1", "alice", shared.LevelStandard)))
	assert.True(t, f.Matches(res("res9", "t1", "bob", shared.LevelElevated)))
	assert.False(t, f.Matches(res("r1", "t2", "alice", shared.LevelStandard)), "tenant fence")
	assert.False(t, f.Matches(res("r1", "t1", "bob", shared.LevelStandard)), "no dimension hit")
	assert.False(t, f.Matches(res("r1", "t1", "alice", shared.LevelSecret)), "classification cap")

	assert.False(t, Filter{DenyAll: true}.Matches(res("r1", "t1", "alice", shared.LevelStandard)))
}

func TestFilterForScopes(t *testing.T) {
	f := newFixture()
	u := activeUser("alice", "t1", shared.LevelElevated)
	u.DepartmentID = "eng"
	f.users["alice"] = u
	f.grants["alice"] = []permissions.Grant{liveGrant("g1"), liveGrant("g2")}
	f.grantPerms["alice"] = []permissions.Permission{
		perm("p1", "document", "read", permissions.ScopeOwn),
		perm("p2", "document", "read", permissions.ScopeDepartment),
	}

	filter, err := f.engine().FilterFor(context.Background(), "alice", "document", "read", "")
	require.NoError(t, err)
	assert.False(t, filter.DenyAll)
	assert.Equal(t, "t1", filter.TenantID)
	assert.False(t, filter.TenantWide)
	assert.Equal(t, "alice", filter.OwnerID)
	assert.Equal(t, "eng", filter.DepartmentID)
	assert.Equal(t, shared.LevelElevated, filter.MaxClassification)
}

func TestFilterForTenantScopeSubsumesDimensions(t *testing.T) {
	f := newFixture()
	f.users["alice"] = activeUser("alice", "t1", shared.LevelStandard)
	f.grants["alice"] = []permissions.Grant{liveGrant("g1")}
	f.grantPerms["alice"] = []permissions.Permission{perm("p1", "document", "read", permissions.ScopeTenant)}

	filter, err := f.engine().FilterFor(context.Background(), "alice", "document", "read", "")
	require.NoError(t, err)
	assert.True(t, filter.TenantWide)
}

func TestFilterForEmergencyGrants(t *testing.T) {
	f := newFixture()
	f.users["dave"] = activeUser("dave", "t1", shared.LevelStandard)
	expires := time.Now().Add(time.Hour)
	f.emergencies["dave"] = []emergency.Request{{
		ID: "e1", TenantID: "t1", RequesterID: "dave",
		ResourceType: "server", Action: "list", ResourceID: "srv-1",
		Status: emergency.StatusActive, ExpiresAt: &expires,
	}}

	filter, err := f.engine().FilterFor(context.Background(), "dave", "server", "list", "")
	require.NoError(t, err)
	assert.False(t, filter.DenyAll)
	// A resource-scoped grant opens only that row, not the whole tenant.
	assert.False(t, filter.TenantWide)
	assert.Equal(t, []string{"srv-1"}, filter.ResourceIDs)

	f.emergencies["dave"] = []emergency.Request{{
		ID: "e2", TenantID: "t1", RequesterID: "dave",
		ResourceType: "server", Action: "list",
		Status: emergency.StatusActive, ExpiresAt: &expires,
	}}
	filter, err = f.engine().FilterFor(context.Background(), "dave", "server", "list", "")
	require.NoError(t, err)
	assert.True(t, filter.TenantWide)
	assert.Empty(t, filter.ResourceIDs)
}

func TestFilterForDoesNotRenderPredicates(t *testing.T) {
	f := newFixture()
	f.users["alice"] = activeUser("alice", "t1", shared.LevelStandard)
	p := perm("p1", "document", "read", permissions.ScopeTenant)
	p.Constraint = &permissions.Predicate{Field: "region", Op: "eq", Value: "emea"}
	f.grants["alice"] = []permissions.Grant{liveGrant("g1")}
	f.grantPerms["alice"] = []permissions.Permission{p}
	f.resources["apac-doc"] = resources.Resource{
		ID: "apac-doc", TenantID: "t1", Type: "document", OwnerID: "alice",
		Classification: shared.LevelStandard, Attributes: map[string]string{"region": "apac"},
	}

	e := f.engine()
	filter, err := e.FilterFor(context.Background(), "alice", "document", "read", "")
	require.NoError(t, err)

	// The listing filter admits the row even though a single-resource check
	// rejects it on the predicate. Over-show stops at the tenant fence and
	// the classification cap.
	assert.True(t, filter.Matches(f.resources["apac-doc"]))
	assert.False(t, e.Authorize(context.Background(), CheckRequest{
		PrincipalID: "alice", ResourceType: "document", Action: "read", ResourceID: "apac-doc",
	}).Allowed)
}

func TestFilterForNoCandidateDeniesAll(t *testing.T) {
	f := newFixture()
	f.users["alice"] = activeUser("alice", "t1", shared.LevelStandard)

	filter, err := f.engine().FilterFor(context.Background(), "alice", "document", "read", "")
	require.NoError(t, err)
	assert.True(t, filter.DenyAll)
}

func TestFilterForUnknownPrincipalDeniesAll(t *testing.T) {
	f := newFixture()
	filter, err := f.engine().FilterFor(context.Background(), "ghost", "document", "read", "")
	require.NoError(t, err)
	assert.True(t, filter.DenyAll)
}

func TestFilterForClearanceGatesCandidates(t *testing.T) {
	f := newFixture()
	f.users["alice"] = activeUser("alice", "t1", shared.LevelStandard)
	p := perm("p1", "document", "read", permissions.ScopeTenant)
	p.MinClearance = shared.LevelSecret
	f.grants["alice"] = []permissions.Grant{liveGrant("g1")}
	f.grantPerms["alice"] = []permissions.Permission{p}

	filter, err := f.engine().FilterFor(context.Background(), "alice", "document", "read", "")
	require.NoError(t, err)
	assert.True(t, filter.DenyAll)
}
