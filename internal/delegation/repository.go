package delegation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palisade-io/palisade/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for delegations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const delegationColumns = `id, tenant_id, delegator_id, delegate_id, type, permission_ids, role_ids, parent_id, depth, reason, can_delegate, active, effective_from, expires_at, created_at, revoked_at`

func scanDelegation(row pgx.Row) (Delegation, error) {
	var d Delegation
	var parentID *string
	if err := row.Scan(&d.ID, &d.TenantID, &d.DelegatorID, &d.DelegateID, &d.Type, &d.PermissionIDs, &d.RoleIDs, &parentID, &d.Depth, &d.Reason, &d.CanDelegate, &d.Active, &d.EffectiveFrom, &d.ExpiresAt, &d.CreatedAt, &d.RevokedAt); err != nil {
		return Delegation{}, err
	}
	if parentID != nil {
		d.ParentID = *parentID
	}
	return d, nil
}

// Get fetches a delegation.
func (r *Repository) Get(ctx context.Context, id string) (Delegation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+delegationColumns+` FROM user_delegations WHERE id = $1`, id)
	d, err := scanDelegation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delegation{}, httpx.ErrNotFound
	}
	return d, err
}

// Create inserts a delegation.
func (r *Repository) Create(ctx context.Context, d Delegation) (Delegation, error) {
	d.CreatedAt = time.Now().UTC()
	var parentID *string
	if d.ParentID != "" {
		parentID = &d.ParentID
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_delegations (id, tenant_id, delegator_id, delegate_id, type, permission_ids, role_ids, parent_id, depth, reason, can_delegate, active, effective_from, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.TenantID, d.DelegatorID, d.DelegateID, d.Type, d.PermissionIDs, d.RoleIDs, parentID, d.Depth, d.Reason, d.CanDelegate, d.Active, d.EffectiveFrom, d.ExpiresAt, d.CreatedAt)
	return d, err
}

// Revoke deactivates a delegation and every re-delegation carved from it,
// transitively.
func (r *Repository) Revoke(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id FROM user_delegations WHERE id = $1
			UNION
			SELECT d.id FROM user_delegations d JOIN chain c ON d.parent_id = c.id
		)
		UPDATE user_delegations SET active = FALSE, revoked_at = NOW()
		WHERE id IN (SELECT id FROM chain) AND active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// ForDelegate returns every delegation naming the user as delegate. Window
// filtering happens at decision time.
func (r *Repository) ForDelegate(ctx context.Context, delegateID string) ([]Delegation, error) {
	return r.query(ctx, `SELECT `+delegationColumns+` FROM user_delegations WHERE delegate_id = $1`, delegateID)
}

// ForDelegator returns every delegation the user handed out.
func (r *Repository) ForDelegator(ctx context.Context, delegatorID string) ([]Delegation, error) {
	return r.query(ctx, `SELECT `+delegationColumns+` FROM user_delegations WHERE delegator_id = $1`, delegatorID)
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]Delegation, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// DeactivateExpired flips lapsed delegations inactive. Hygiene only: reads
// already ignore expired rows.
func (r *Repository) DeactivateExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_delegations SET active = FALSE WHERE active AND expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
