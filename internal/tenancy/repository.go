package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palisade-io/palisade/internal/platform/httpx"
)

var kindTables = map[EntityKind]string{
	KindUser:       "users",
	KindRole:       "roles",
	KindPermission: "permissions",
	KindResource:   "resources",
}

// PGRepository is the PostgreSQL implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TenantOf returns the tenant id of the entity.
func (r *PGRepository) TenantOf(ctx context.Context, kind EntityKind, id string) (string, error) {
	table, ok := kindTables[kind]
	if !ok {
		return "", fmt.Errorf("tenancy: unknown entity kind %q", kind)
	}
	var tenantID string
	err := r.pool.QueryRow(ctx, `SELECT tenant_id FROM `+table+` WHERE id = $1`, id).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", httpx.ErrNotFound
	}
	return tenantID, err
}

// IsSystemAdmin reports whether the user carries the system admin flag.
func (r *PGRepository) IsSystemAdmin(ctx context.Context, userID string) (bool, error) {
	var admin bool
	err := r.pool.QueryRow(ctx, `SELECT system_admin FROM users WHERE id = $1 AND status = 'ACTIVE'`, userID).Scan(&admin)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return admin, err
}

// HasLivePermission checks direct grants and role assignments for a named
// permission with a currently open activation window.
func (r *PGRepository) HasLivePermission(ctx context.Context, userID, permission string) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1
	FROM user_permission_grants g
	JOIN permissions p ON p.id = g.permission_id
	WHERE g.user_id = $1 AND p.name = $2 AND g.active
	  AND g.effective_from <= NOW()
	  AND (g.expires_at IS NULL OR g.expires_at > NOW())
) OR EXISTS (
	SELECT 1
	FROM user_role_assignments a
	JOIN role_permissions rp ON rp.role_id = a.role_id
	JOIN permissions p ON p.id = rp.permission_id
	WHERE a.user_id = $1 AND p.name = $2 AND a.active
	  AND a.effective_from <= NOW()
	  AND (a.expires_at IS NULL OR a.expires_at > NOW())
)`
	var ok bool
	err := r.pool.QueryRow(ctx, query, userID, permission).Scan(&ok)
	return ok, err
}
