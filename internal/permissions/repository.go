package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palisade-io/palisade/internal/platform/db"
	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const permColumns = `id, tenant_id, name, resource_type, action, scope, risk_level, min_clearance, constraint_predicate, requires_approval, created_at, updated_at`

// DecodePredicate parses a stored constraint. A corrupt predicate is an
// error, never an absent constraint: a nil constraint passes every check,
// so dropping a bad row here would widen access.
func DecodePredicate(raw []byte) (*Predicate, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var pred Predicate
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, fmt.Errorf("permissions: corrupt constraint predicate: %w", err)
	}
	return &pred, nil
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	var clearance string
	var predicate []byte
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.ResourceType, &p.Action, &p.Scope, &p.RiskLevel, &clearance, &predicate, &p.RequiresApproval, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Permission{}, err
	}
	if clearance != "" {
		p.MinClearance = shared.ParseAccessLevel(clearance)
	}
	constraint, err := DecodePredicate(predicate)
	if err != nil {
		return Permission{}, err
	}
	p.Constraint = constraint
	return p, nil
}

// Get fetches a permission by id.
func (r *Repository) Get(ctx context.Context, id string) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permColumns+` FROM permissions WHERE id = $1`, id)
	p, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, httpx.ErrNotFound
	}
	return p, err
}

// List returns permissions of a tenant ordered by name.
func (r *Repository) List(ctx context.Context, tenantID string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permColumns+` FROM permissions WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Create inserts a permission.
func (r *Repository) Create(ctx context.Context, p Permission) (Permission, error) {
	var predicate []byte
	if p.Constraint != nil {
		var err error
		predicate, err = json.Marshal(p.Constraint)
		if err != nil {
			return Permission{}, err
		}
	}
	minClearance := ""
	if p.MinClearance > 0 {
		minClearance = p.MinClearance.String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permissions (id, tenant_id, name, resource_type, action, scope, risk_level, min_clearance, constraint_predicate, requires_approval, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.TenantID, p.Name, p.ResourceType, p.Action, p.Scope, p.RiskLevel, minClearance, predicate, p.RequiresApproval, p.CreatedAt, p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return Permission{}, httpx.ErrConflict
	}
	return p, err
}

// Delete removes a permission definition.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// CreateGrant inserts a direct user grant.
func (r *Repository) CreateGrant(ctx context.Context, g Grant) (Grant, error) {
	g.CreatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_permission_grants (id, user_id, permission_id, active, effective_from, expires_at, granted_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.ID, g.UserID, g.PermissionID, g.Active, g.EffectiveFrom, g.ExpiresAt, g.GrantedBy, g.CreatedAt)
	if db.IsUniqueViolation(err) {
		return Grant{}, httpx.ErrConflict
	}
	return g, err
}

// RevokeGrant deactivates a direct grant.
func (r *Repository) RevokeGrant(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE user_permission_grants SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// GrantsForUser returns all direct grants of a user joined with their
// permissions. Window filtering happens in the engine, at decision time.
func (r *Repository) GrantsForUser(ctx context.Context, userID string) ([]Grant, []Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.user_id, g.permission_id, g.active, g.effective_from, g.expires_at, g.granted_by, g.created_at,
		        `+prefixedPermColumns("p")+`
		 FROM user_permission_grants g
		 JOIN permissions p ON p.id = g.permission_id
		 WHERE g.user_id = $1`, userID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var grants []Grant
	var perms []Permission
	for rows.Next() {
		var g Grant
		var p Permission
		var clearance string
		var predicate []byte
		if err := rows.Scan(&g.ID, &g.UserID, &g.PermissionID, &g.Active, &g.EffectiveFrom, &g.ExpiresAt, &g.GrantedBy, &g.CreatedAt,
			&p.ID, &p.TenantID, &p.Name, &p.ResourceType, &p.Action, &p.Scope, &p.RiskLevel, &clearance, &predicate, &p.RequiresApproval, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, nil, err
		}
		if clearance != "" {
			p.MinClearance = shared.ParseAccessLevel(clearance)
		}
		constraint, err := DecodePredicate(predicate)
		if err != nil {
			return nil, nil, err
		}
		p.Constraint = constraint
		grants = append(grants, g)
		perms = append(perms, p)
	}
	return grants, perms, rows.Err()
}

func prefixedPermColumns(alias string) string {
	return alias + `.id, ` + alias + `.tenant_id, ` + alias + `.name, ` + alias + `.resource_type, ` + alias + `.action, ` + alias + `.scope, ` + alias + `.risk_level, ` + alias + `.min_clearance, ` + alias + `.constraint_predicate, ` + alias + `.requires_approval, ` + alias + `.created_at, ` + alias + `.updated_at`
}
