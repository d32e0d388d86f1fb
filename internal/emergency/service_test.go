package emergency

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/users"
)

type mockRepository struct {
	requests map[string]Request
}

func newMockRepository() *mockRepository {
	return &mockRepository{requests: map[string]Request{}}
}

func (m *mockRepository) Get(ctx context.Context, id string) (Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return Request{}, httpx.ErrNotFound
	}
	return r, nil
}

func (m *mockRepository) Create(ctx context.Context, req Request) (Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.RequestedAt = time.Now()
	m.requests[req.ID] = req
	return req, nil
}

func (m *mockRepository) Decide(ctx context.Context, id, status, approverID, note string, expiresAt *time.Time) error {
	r, ok := m.requests[id]
	if !ok {
		return httpx.ErrNotFound
	}
	// Status-guarded update: only a pending row may be decided.
	if r.Status != StatusPending {
		return httpx.ErrConflict
	}
	now := time.Now()
	r.Status = status
	r.ApproverID = approverID
	r.Note = note
	r.DecidedAt = &now
	r.ExpiresAt = expiresAt
	m.requests[id] = r
	return nil
}

func (m *mockRepository) Revoke(ctx context.Context, id string) error {
	r, ok := m.requests[id]
	if !ok {
		return httpx.ErrNotFound
	}
	if r.Status != StatusActive {
		return httpx.ErrConflict
	}
	now := time.Now()
	r.Status = StatusRevoked
	r.RevokedAt = &now
	m.requests[id] = r
	return nil
}

func (m *mockRepository) ForRequester(ctx context.Context, requesterID string) ([]Request, error) {
	var out []Request
	for _, r := range m.requests {
		if r.RequesterID == requesterID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepository) Pending(ctx context.Context, tenantID string) ([]Request, error) {
	var out []Request
	for _, r := range m.requests {
		if r.TenantID == tenantID && r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepository) ActiveForUser(ctx context.Context, requesterID string) ([]Request, error) {
	var out []Request
	for _, r := range m.requests {
		if r.RequesterID == requesterID && r.Status == StatusActive {
			out = append(out, r)
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

type mockNotifier struct {
	requested []Request
	decided   []Request
}

func (m *mockNotifier) EmergencyRequested(ctx context.Context, req Request) error {
	m.requested = append(m.requested, req)
	return nil
}

func (m *mockNotifier) EmergencyDecided(ctx context.Context, req Request) error {
	m.decided = append(m.decided, req)
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
	notifier *mockNotifier
	auditor  *mockAuditor
}

func newTestEnv() *testEnv {
	userSrc := &mockUserSource{users: map[string]users.User{
		"dave":  {ID: "dave", TenantID: "t1", Status: users.StatusActive},
		"erin":  {ID: "erin", TenantID: "t1", Status: users.StatusActive},
		"zed":   {ID: "zed", TenantID: "t2", Status: users.StatusActive},
		"frank": {ID: "frank", TenantID: "t1", Status: users.StatusLocked},
	}}
	repo := newMockRepository()
	notifier := &mockNotifier{}
	auditor := &mockAuditor{}
	return &testEnv{
		svc:      NewService(repo, userSrc, notifier, auditor),
		repo:     repo,
		notifier: notifier,
		auditor:  auditor,
	}
}

func validRequest() CreateRequest {
	return CreateRequest{
		ResourceType:    "database",
		Action:          "restore",
		Justification:   "production incident 4417",
		DurationMinutes: 60,
	}
}

func TestRequestOpensPending(t *testing.T) {
	env := newTestEnv()
	r, err := env.svc.Request(context.Background(), "dave", validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	assert.Nil(t, r.ExpiresAt)
	require.Len(t, env.notifier.requested, 1)
	require.Len(t, env.auditor.events, 1)
	assert.Equal(t, "emergency.request", env.auditor.events[0].Action)

	// A pending request grants nothing.
	active, err := env.svc.ActiveForUser(context.Background(), "dave")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRequestRejectsShortJustification(t *testing.T) {
	env := newTestEnv()
	req := validRequest()
	req.Justification = "urgent"
	_, err := env.svc.Request(context.Background(), "dave", req)
	assert.Error(t, err)
}

func TestRequestCapsDuration(t *testing.T) {
	env := newTestEnv()
	req := validRequest()
	req.DurationMinutes = maxDurationMinutes + 1
	_, err := env.svc.Request(context.Background(), "dave", req)
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRequestRejectsLockedRequester(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Request(context.Background(), "frank", validRequest())
	assert.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestApproveActivatesWithWindow(t *testing.T) {
	env := newTestEnv()
	r, err := env.svc.Request(context.Background(), "dave", validRequest())
	require.NoError(t, err)

	decided, err := env.svc.Approve(context.Background(), "erin", r.ID, "go ahead")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, decided.Status)
	assert.Equal(t, "erin", decided.ApproverID)
	require.NotNil(t, decided.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(60*time.Minute), *decided.ExpiresAt, time.Minute)
	require.Len(t, env.notifier.decided, 1)

	assert.True(t, decided.IsActive(time.Now()))
	assert.True(t, decided.Covers("database", "restore", ""))
	assert.False(t, decided.Covers("database", "drop", ""))
}

func TestRequestScopedToResource(t *testing.T) {
	env := newTestEnv()
	req := validRequest()
	req.ResourceID = "db-primary"
	r, err := env.svc.Request(context.Background(), "dave", req)
	require.NoError(t, err)
	assert.Equal(t, "db-primary", r.ResourceID)

	decided, err := env.svc.Approve(context.Background(), "erin", r.ID, "go ahead")
	require.NoError(t, err)
	assert.True(t, decided.Covers("database", "restore", "db-primary"))
	assert.False(t, decided.Covers("database", "restore", "db-replica"))
	// A coarse check naming no resource is still answered by the scoped grant.
	assert.True(t, decided.Covers("database", "restore", ""))
}

func TestRejectClosesWithoutGrant(t *testing.T) {
	env := newTestEnv()
	r, err := env.svc.Request(context.Background(), "dave", validRequest())
	require.NoError(t, err)

	decided, err := env.svc.Reject(context.Background(), "erin", r.ID, "not justified")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, decided.Status)
	assert.Nil(t, decided.ExpiresAt)
	assert.False(t, decided.IsActive(time.Now()))
}

func TestSelfApprovalForbidden(t *testing.T) {
	env := newTestEnv()
	r, err := env.svc.Request(context.Background(), "dave", validRequest())
	require.NoError(t, err)

	_, err = env.svc.Approve(context.Background(), "dave", r.ID, "approving myself")
	assert.ErrorIs(t, err, httpx.ErrForbidden)
	assert.Equal(t, StatusPending, env.repo.requests[r.ID].Status)
}

func TestCrossTenantApproverRejected(t *testing.T) {
	env := newTestEnv()
	r, err := env.svc.Request(context.Background(), "dave", validRequest())
	require.NoError(t, err)

	_, err = env.svc.Approve(context.Background(), "zed", r.ID, "wrong tenant")
	assert.ErrorIs(t, err, httpx.ErrIsolation)
}

func TestDecideTwiceConflicts(t *testing.T) {
	env := newTestEnv()
	r, err := env.svc.Request(context.Background(), "dave", validRequest())
	require.NoError(t, err)

	_, err = env.svc.Approve(context.Background(), "erin", r.ID, "first")
	require.NoError(t, err)
	_, err = env.svc.Reject(context.Background(), "erin", r.ID, "second")
	assert.ErrorIs(t, err, httpx.ErrConflict)
	assert.Equal(t, StatusActive, env.repo.requests[r.ID].Status)
}

func TestRevokeCutsActiveGrant(t *testing.T) {
	env := newTestEnv()
	r, err := env.svc.Request(context.Background(), "dave", validRequest())
	require.NoError(t, err)
	_, err = env.svc.Approve(context.Background(), "erin", r.ID, "ok")
	require.NoError(t, err)

	require.NoError(t, env.svc.Revoke(context.Background(), "erin", r.ID))
	got := env.repo.requests[r.ID]
	assert.Equal(t, StatusRevoked, got.Status)
	assert.False(t, got.IsActive(time.Now()))
}

func TestRevokePendingConflicts(t *testing.T) {
	env := newTestEnv()
	r, err := env.svc.Request(context.Background(), "dave", validRequest())
	require.NoError(t, err)

	err = env.svc.Revoke(context.Background(), "erin", r.ID)
	assert.ErrorIs(t, err, httpx.ErrConflict)
}

func TestIsActiveLazyExpiry(t *testing.T) {
	expired := time.Now().Add(-time.Minute)
	r := Request{Status: StatusActive, ExpiresAt: &expired}
	assert.False(t, r.IsActive(time.Now()))

	live := time.Now().Add(time.Hour)
	r.ExpiresAt = &live
	assert.True(t, r.IsActive(time.Now()))

	// A row stuck ACTIVE with no window is unusable.
	r.ExpiresAt = nil
	assert.False(t, r.IsActive(time.Now()))
}
