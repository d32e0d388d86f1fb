package emergency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palisade-io/palisade/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for break-glass
// requests.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const requestColumns = `id, tenant_id, requester_id, resource_type, action, resource_id, justification, duration_minutes, status, approver_id, note, requested_at, decided_at, expires_at, revoked_at`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var approverID, note *string
	if err := row.Scan(&req.ID, &req.TenantID, &req.RequesterID, &req.ResourceType, &req.Action, &req.ResourceID, &req.Justification, &req.DurationMinutes, &req.Status, &approverID, &note, &req.RequestedAt, &req.DecidedAt, &req.ExpiresAt, &req.RevokedAt); err != nil {
		return Request{}, err
	}
	if approverID != nil {
		req.ApproverID = *approverID
	}
	if note != nil {
		req.Note = *note
	}
	return req, nil
}

// Get fetches a request.
func (r *Repository) Get(ctx context.Context, id string) (Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM emergency_access WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, httpx.ErrNotFound
	}
	return req, err
}

// Create inserts a pending request.
func (r *Repository) Create(ctx context.Context, req Request) (Request, error) {
	req.RequestedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO emergency_access (id, tenant_id, requester_id, resource_type, action, resource_id, justification, duration_minutes, status, requested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.TenantID, req.RequesterID, req.ResourceType, req.Action, req.ResourceID, req.Justification, req.DurationMinutes, req.Status, req.RequestedAt)
	return req, err
}

// Decide transitions a PENDING request to ACTIVE or REJECTED. The status
// guard in the WHERE clause makes the transition race-safe.
func (r *Repository) Decide(ctx context.Context, id, status, approverID, note string, expiresAt *time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE emergency_access SET status = $2, approver_id = $3, note = $4, decided_at = NOW(), expires_at = $5
		 WHERE id = $1 AND status = $6`,
		id, status, approverID, note, expiresAt, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrConflict
	}
	return nil
}

// Revoke transitions an ACTIVE request to REVOKED.
func (r *Repository) Revoke(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE emergency_access SET status = $2, revoked_at = NOW() WHERE id = $1 AND status = $3`,
		id, StatusRevoked, StatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrConflict
	}
	return nil
}

// ForRequester returns the user's requests, newest first.
func (r *Repository) ForRequester(ctx context.Context, requesterID string) ([]Request, error) {
	return r.query(ctx, `SELECT `+requestColumns+` FROM emergency_access WHERE requester_id = $1 ORDER BY requested_at DESC`, requesterID)
}

// Pending returns the tenant's undecided requests, oldest first.
func (r *Repository) Pending(ctx context.Context, tenantID string) ([]Request, error) {
	return r.query(ctx, `SELECT `+requestColumns+` FROM emergency_access WHERE tenant_id = $1 AND status = $2 ORDER BY requested_at`, tenantID, StatusPending)
}

// ActiveForUser returns ACTIVE grants of the user. Lapsed rows are filtered
// again at decision time.
func (r *Repository) ActiveForUser(ctx context.Context, requesterID string) ([]Request, error) {
	return r.query(ctx, `SELECT `+requestColumns+` FROM emergency_access WHERE requester_id = $1 AND status = $2`, requesterID, StatusActive)
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]Request, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

// ExpireLapsed marks lapsed ACTIVE grants EXPIRED. Hygiene only: reads
// already ignore them.
func (r *Repository) ExpireLapsed(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE emergency_access SET status = $1 WHERE status = $2 AND expires_at <= NOW()`,
		StatusExpired, StatusActive)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
