package delegation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/permissions"
	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/roles"
	"github.com/palisade-io/palisade/internal/shared"
	"github.com/palisade-io/palisade/internal/users"
)

type mockRepository struct {
	delegations map[string]Delegation
	createErr   error
}

func newMockRepository() *mockRepository {
	return &mockRepository{delegations: map[string]Delegation{}}
}

func (m *mockRepository) Get(ctx context.Context, id string) (Delegation, error) {
	d, ok := m.delegations[id]
	if !ok {
		return Delegation{}, httpx.ErrNotFound
	}
	return d, nil
}

func (m *mockRepository) Create(ctx context.Context, d Delegation) (Delegation, error) {
	if m.createErr != nil {
		return Delegation{}, m.createErr
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now()
	m.delegations[d.ID] = d
	return d, nil
}

func (m *mockRepository) Revoke(ctx context.Context, id string) error {
	d, ok := m.delegations[id]
	if !ok {
		return httpx.ErrNotFound
	}
	now := time.Now()
	d.Active = false
	d.RevokedAt = &now
	m.delegations[id] = d
	// Cascade over direct children, matching the recursive revoke.
	for childID, child := range m.delegations {
		if child.ParentID == id && child.Active {
			_ = m.Revoke(ctx, childID)
		}
	}
	return nil
}

func (m *mockRepository) ForDelegate(ctx context.Context, delegateID string) ([]Delegation, error) {
	var out []Delegation
	for _, d := range m.delegations {
		if d.DelegateID == delegateID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockRepository) ForDelegator(ctx context.Context, delegatorID string) ([]Delegation, error) {
	var out []Delegation
	for _, d := range m.delegations {
		if d.DelegatorID == delegatorID {
			out = append(out, d)
		}
	}
	return out, nil
}

type mockUserSource struct{ users map[string]users.User }

func (m *mockUserSource) Get(ctx context.Context, id string) (users.User, error) {
	u, ok := m.users[id]
	if !ok {
		return users.User{}, httpx.ErrNotFound
	}
	return u, nil
}

type mockPermSource struct {
	grants map[string][]permissions.Grant
	perms  map[string][]permissions.Permission
}

func (m *mockPermSource) GrantsForUser(ctx context.Context, userID string) ([]permissions.Grant, []permissions.Permission, error) {
	return m.grants[userID], m.perms[userID], nil
}

type mockRoleSource struct {
	assignments map[string][]roles.Assignment
	rolePerms   map[string][]permissions.Permission
}

func (m *mockRoleSource) AssignmentsForUser(ctx context.Context, userID string) ([]roles.Assignment, error) {
	return m.assignments[userID], nil
}

func (m *mockRoleSource) EffectivePermissions(ctx context.Context, tenantID, roleID string) ([]permissions.Permission, error) {
	return m.rolePerms[roleID], nil
}

type mockNotifier struct {
	created []Delegation
	err     error
}

func (m *mockNotifier) DelegationCreated(ctx context.Context, d Delegation) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, d)
	return nil
}

type mockAuditor struct{ events []audit.Event }

func (m *mockAuditor) Record(ctx context.Context, ev audit.Event) error {
	m.events = append(m.events, ev)
	return nil
}

type testEnv struct {
	svc      *Service
	repo     *mockRepository
	perms    *mockPermSource
	notifier *mockNotifier
	auditor  *mockAuditor
}

func newTestEnv() *testEnv {
	userSrc := &mockUserSource{users: map[string]users.User{
		"alice": {ID: "alice", TenantID: "t1", Status: users.StatusActive, Clearance: shared.LevelStandard},
		"bob":   {ID: "bob", TenantID: "t1", Status: users.StatusActive, Clearance: shared.LevelStandard},
		"carol": {ID: "carol", TenantID: "t1", Status: users.StatusActive, Clearance: shared.LevelStandard},
		"zed":   {ID: "zed", TenantID: "t2", Status: users.StatusActive, Clearance: shared.LevelStandard},
		"mute":  {ID: "mute", TenantID: "t1", Status: users.StatusSuspended, Clearance: shared.LevelStandard},
	}}
	permSrc := &mockPermSource{
		grants: map[string][]permissions.Grant{
			"alice": {{ID: "g1", Active: true, EffectiveFrom: time.Now().Add(-time.Hour)}},
		},
		perms: map[string][]permissions.Permission{
			"alice": {{ID: "p1", ResourceType: "document", Action: "read"}},
		},
	}
	roleSrc := &mockRoleSource{
		assignments: map[string][]roles.Assignment{
			"alice": {{ID: "a1", RoleID: "r1", Active: true, EffectiveFrom: time.Now().Add(-time.Hour)}},
		},
		rolePerms: map[string][]permissions.Permission{
			"r1": {{ID: "p2", ResourceType: "report", Action: "read"}},
		},
	}
	repo := newMockRepository()
	notifier := &mockNotifier{}
	auditor := &mockAuditor{}
	return &testEnv{
		svc:      NewService(repo, userSrc, permSrc, roleSrc, notifier, auditor),
		repo:     repo,
		perms:    permSrc,
		notifier: notifier,
		auditor:  auditor,
	}
}

func validRequest() CreateRequest {
	return CreateRequest{
		DelegateID:    "bob",
		Type:          TypePartial,
		PermissionIDs: []string{"p1"},
		Reason:        "coverage while travelling",
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}
}

func TestCreatePartialDelegation(t *testing.T) {
	env := newTestEnv()
	d, err := env.svc.Create(context.Background(), "alice", validRequest())
	require.NoError(t, err)
	assert.Equal(t, "t1", d.TenantID)
	assert.Equal(t, "alice", d.DelegatorID)
	assert.True(t, d.Active)
	assert.Equal(t, 0, d.Depth)
	require.Len(t, env.notifier.created, 1)
	require.Len(t, env.auditor.events, 1)
	assert.Equal(t, "delegation.create", env.auditor.events[0].Action)
}

func TestCreateRoleDerivedPermissionIsDelegable(t *testing.T) {
	env := newTestEnv()
	req := validRequest()
	req.PermissionIDs = []string{"p2"}
	_, err := env.svc.Create(context.Background(), "alice", req)
	assert.NoError(t, err)
}

func TestCreateRejectsUnheldPermission(t *testing.T) {
	env := newTestEnv()
	req := validRequest()
	req.PermissionIDs = []string{"p1", "p-not-held"}
	_, err := env.svc.Create(context.Background(), "alice", req)
	assert.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestCreateRejectsExpiredGrantAsHeld(t *testing.T) {
	env := newTestEnv()
	expired := time.Now().Add(-time.Minute)
	env.perms.grants["alice"] = []permissions.Grant{{ID: "g1", Active: true, ExpiresAt: &expired}}
	_, err := env.svc.Create(context.Background(), "alice", validRequest())
	assert.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestCreateRejectsSelfDelegation(t *testing.T) {
	env := newTestEnv()
	req := validRequest()
	req.DelegateID = "alice"
	_, err := env.svc.Create(context.Background(), "alice", req)
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateRejectsCrossTenantDelegate(t *testing.T) {
	env := newTestEnv()
	req := validRequest()
	req.DelegateID = "zed"
	_, err := env.svc.Create(context.Background(), "alice", req)
	assert.ErrorIs(t, err, httpx.ErrIsolation)
}

func TestCreateRejectsSuspendedDelegate(t *testing.T) {
	env := newTestEnv()
	req := validRequest()
	req.DelegateID = "mute"
	_, err := env.svc.Create(context.Background(), "alice", req)
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateRejectsExpiryBeforeEffective(t *testing.T) {
	env := newTestEnv()
	req := validRequest()
	future := time.Now().Add(48 * time.Hour)
	req.EffectiveFrom = &future
	req.ExpiresAt = time.Now().Add(24 * time.Hour)
	_, err := env.svc.Create(context.Background(), "alice", req)
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateRoleBasedRequiresAssignment(t *testing.T) {
	env := newTestEnv()
	req := CreateRequest{
		DelegateID: "bob",
		Type:       TypeRoleBased,
		RoleIDs:    []string{"r1"},
		Reason:     "handover",
		ExpiresAt:  time.Now().Add(24 * time.Hour),
	}
	_, err := env.svc.Create(context.Background(), "alice", req)
	require.NoError(t, err)

	req.RoleIDs = []string{"r-unassigned"}
	_, err = env.svc.Create(context.Background(), "alice", req)
	assert.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestCreateNotifierFailureFailsOperation(t *testing.T) {
	env := newTestEnv()
	env.notifier.err = errors.New("queue down")
	_, err := env.svc.Create(context.Background(), "alice", validRequest())
	assert.Error(t, err)
}

func redelegationParent(env *testEnv, canDelegate bool) Delegation {
	parent, _ := env.repo.Create(context.Background(), Delegation{
		TenantID: "t1", DelegatorID: "alice", DelegateID: "bob",
		Type: TypePartial, PermissionIDs: []string{"p1"},
		CanDelegate: canDelegate, Active: true,
		EffectiveFrom: time.Now().Add(-time.Hour),
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	})
	return parent
}

func TestRedelegationWithinParent(t *testing.T) {
	env := newTestEnv()
	parent := redelegationParent(env, true)
	// Bob needs to hold p1 himself; the parent delegation does not count,
	// so give him a live grant.
	env.perms.grants["bob"] = []permissions.Grant{{ID: "g2", Active: true, EffectiveFrom: time.Now().Add(-time.Hour)}}
	env.perms.perms["bob"] = []permissions.Permission{{ID: "p1", ResourceType: "document", Action: "read"}}

	req := CreateRequest{
		DelegateID: "carol", Type: TypePartial, PermissionIDs: []string{"p1"},
		ParentID: parent.ID, Reason: "second hop",
		ExpiresAt: parent.ExpiresAt.Add(-time.Hour),
	}
	child, err := env.svc.Create(context.Background(), "bob", req)
	require.NoError(t, err)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, parent.ID, child.ParentID)
}

func TestRedelegationCannotOutliveParent(t *testing.T) {
	env := newTestEnv()
	parent := redelegationParent(env, true)
	env.perms.grants["bob"] = []permissions.Grant{{ID: "g2", Active: true, EffectiveFrom: time.Now().Add(-time.Hour)}}
	env.perms.perms["bob"] = []permissions.Permission{{ID: "p1", ResourceType: "document", Action: "read"}}

	req := CreateRequest{
		DelegateID: "carol", Type: TypePartial, PermissionIDs: []string{"p1"},
		ParentID: parent.ID, Reason: "second hop",
		ExpiresAt: parent.ExpiresAt.Add(time.Hour),
	}
	_, err := env.svc.Create(context.Background(), "bob", req)
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRedelegationCannotWidenParent(t *testing.T) {
	env := newTestEnv()
	parent := redelegationParent(env, true)
	env.perms.grants["bob"] = []permissions.Grant{
		{ID: "g2", Active: true, EffectiveFrom: time.Now().Add(-time.Hour)},
		{ID: "g3", Active: true, EffectiveFrom: time.Now().Add(-time.Hour)},
	}
	env.perms.perms["bob"] = []permissions.Permission{
		{ID: "p1", ResourceType: "document", Action: "read"},
		{ID: "p9", ResourceType: "document", Action: "delete"},
	}

	// Bob holds p9 directly, but the parent delegation does not name it.
	req := CreateRequest{
		DelegateID: "carol", Type: TypePartial, PermissionIDs: []string{"p1", "p9"},
		ParentID: parent.ID, Reason: "second hop",
		ExpiresAt: parent.ExpiresAt.Add(-time.Hour),
	}
	_, err := env.svc.Create(context.Background(), "bob", req)
	assert.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestRedelegationRequiresCanDelegate(t *testing.T) {
	env := newTestEnv()
	parent := redelegationParent(env, false)
	env.perms.grants["bob"] = []permissions.Grant{{ID: "g2", Active: true, EffectiveFrom: time.Now().Add(-time.Hour)}}
	env.perms.perms["bob"] = []permissions.Permission{{ID: "p1", ResourceType: "document", Action: "read"}}

	req := CreateRequest{
		DelegateID: "carol", Type: TypePartial, PermissionIDs: []string{"p1"},
		ParentID: parent.ID, Reason: "second hop",
		ExpiresAt: parent.ExpiresAt.Add(-time.Hour),
	}
	_, err := env.svc.Create(context.Background(), "bob", req)
	assert.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestRedelegationOnlyByParentDelegate(t *testing.T) {
	env := newTestEnv()
	parent := redelegationParent(env, true)
	env.perms.grants["carol"] = []permissions.Grant{{ID: "g4", Active: true, EffectiveFrom: time.Now().Add(-time.Hour)}}
	env.perms.perms["carol"] = []permissions.Permission{{ID: "p1", ResourceType: "document", Action: "read"}}

	req := CreateRequest{
		DelegateID: "bob", Type: TypePartial, PermissionIDs: []string{"p1"},
		ParentID: parent.ID, Reason: "second hop",
		ExpiresAt: parent.ExpiresAt.Add(-time.Hour),
	}
	_, err := env.svc.Create(context.Background(), "carol", req)
	assert.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestRedelegationDepthLimit(t *testing.T) {
	env := newTestEnv()
	deep, _ := env.repo.Create(context.Background(), Delegation{
		TenantID: "t1", DelegatorID: "alice", DelegateID: "bob",
		Type: TypePartial, PermissionIDs: []string{"p1"},
		CanDelegate: true, Active: true, Depth: maxDepth,
		EffectiveFrom: time.Now().Add(-time.Hour),
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	})
	env.perms.grants["bob"] = []permissions.Grant{{ID: "g2", Active: true, EffectiveFrom: time.Now().Add(-time.Hour)}}
	env.perms.perms["bob"] = []permissions.Permission{{ID: "p1", ResourceType: "document", Action: "read"}}

	req := CreateRequest{
		DelegateID: "carol", Type: TypePartial, PermissionIDs: []string{"p1"},
		ParentID: deep.ID, Reason: "one hop too far",
		ExpiresAt: deep.ExpiresAt.Add(-time.Hour),
	}
	_, err := env.svc.Create(context.Background(), "bob", req)
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRevokeCascades(t *testing.T) {
	env := newTestEnv()
	parent := redelegationParent(env, true)
	child, _ := env.repo.Create(context.Background(), Delegation{
		TenantID: "t1", DelegatorID: "bob", DelegateID: "carol",
		Type: TypePartial, PermissionIDs: []string{"p1"},
		ParentID: parent.ID, Depth: 1, Active: true,
		EffectiveFrom: time.Now().Add(-time.Hour),
		ExpiresAt:     time.Now().Add(12 * time.Hour),
	})

	require.NoError(t, env.svc.Revoke(context.Background(), "alice", parent.ID))
	assert.False(t, env.repo.delegations[parent.ID].Active)
	assert.False(t, env.repo.delegations[child.ID].Active)
	assert.NotNil(t, env.repo.delegations[child.ID].RevokedAt)
}

func TestRevokeOnlyByDelegator(t *testing.T) {
	env := newTestEnv()
	parent := redelegationParent(env, true)
	err := env.svc.Revoke(context.Background(), "bob", parent.ID)
	assert.ErrorIs(t, err, httpx.ErrForbidden)
	assert.True(t, env.repo.delegations[parent.ID].Active)
}
