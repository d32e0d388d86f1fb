package roles

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palisade-io/palisade/internal/permissions"
	"github.com/palisade-io/palisade/internal/platform/db"
	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles, the parent
// edge list, role-permission assignments and user-role assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, tenant_id, name, description, level, status, max_users, required_clearance, requires_approval, time_restriction, geo_restriction, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	var clearance string
	var timeRestriction []byte
	var geo []string
	if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &r.Level, &r.Status, &r.MaxUsers, &clearance, &r.RequiresApproval, &timeRestriction, &geo, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Role{}, err
	}
	if clearance != "" {
		r.RequiredClearance = shared.ParseAccessLevel(clearance)
	}
	if len(timeRestriction) > 0 {
		_ = json.Unmarshal(timeRestriction, &r.TimeRestriction)
	}
	r.GeoRestriction = shared.GeoRestriction(geo)
	return r, nil
}

// Get fetches a role with its parent ids.
func (r *Repository) Get(ctx context.Context, id string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, httpx.ErrNotFound
	}
	if err != nil {
		return Role{}, err
	}
	parents, err := r.parentsOf(ctx, id)
	if err != nil {
		return Role{}, err
	}
	role.ParentIDs = parents
	return role, nil
}

func (r *Repository) parentsOf(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT parent_id FROM role_parents WHERE role_id = $1 ORDER BY parent_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var parents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		parents = append(parents, id)
	}
	return parents, rows.Err()
}

// List returns roles of a tenant ordered by level then name.
func (r *Repository) List(ctx context.Context, tenantID string) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 ORDER BY level, name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

// Create inserts a role.
func (r *Repository) Create(ctx context.Context, role Role) (Role, error) {
	timeRestriction, err := json.Marshal(role.TimeRestriction)
	if err != nil {
		return Role{}, err
	}
	clearance := ""
	if role.RequiredClearance > 0 {
		clearance = role.RequiredClearance.String()
	}
	now := time.Now().UTC()
	role.CreatedAt, role.UpdatedAt = now, now
	_, err = r.pool.Exec(ctx,
		`INSERT INTO roles (id, tenant_id, name, description, level, status, max_users, required_clearance, requires_approval, time_restriction, geo_restriction, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		role.ID, role.TenantID, role.Name, role.Description, role.Level, role.Status, role.MaxUsers, clearance, role.RequiresApproval, timeRestriction, []string(role.GeoRestriction), role.CreatedAt, role.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return Role{}, httpx.ErrConflict
	}
	return role, err
}

// SetStatus transitions a role's status.
func (r *Repository) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// Graph loads the tenant's full role set and parent edge list in two
// queries.
func (r *Repository) Graph(ctx context.Context, tenantID string) (Graph, error) {
	roleList, err := r.List(ctx, tenantID)
	if err != nil {
		return Graph{}, err
	}
	graph := Graph{Roles: make(map[string]Role, len(roleList)), Parents: map[string][]string{}}
	for _, role := range roleList {
		graph.Roles[role.ID] = role
	}
	rows, err := r.pool.Query(ctx,
		`SELECT rp.role_id, rp.parent_id FROM role_parents rp JOIN roles r ON r.id = rp.role_id WHERE r.tenant_id = $1`, tenantID)
	if err != nil {
		return Graph{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID, parentID string
		if err := rows.Scan(&roleID, &parentID); err != nil {
			return Graph{}, err
		}
		graph.Parents[roleID] = append(graph.Parents[roleID], parentID)
	}
	return graph, rows.Err()
}

// ReplaceParents atomically swaps a role's parent set. The validate callback
// sees the candidate graph inside the transaction; any error rolls the whole
// edit back, leaving no partial edge.
func (r *Repository) ReplaceParents(ctx context.Context, tenantID, roleID string, parents []string, validate func(Graph) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Lock the tenant's role rows, not just existing edges: two edits
		// inserting disjoint new edges would otherwise each validate a
		// snapshot missing the other's row and commit a cycle.
		if _, err := tx.Exec(ctx,
			`SELECT id FROM roles WHERE tenant_id = $1 FOR UPDATE`, tenantID); err != nil {
			return err
		}
		rows, err := tx.Query(ctx,
			`SELECT rp.role_id, rp.parent_id FROM role_parents rp JOIN roles r ON r.id = rp.role_id WHERE r.tenant_id = $1`, tenantID)
		if err != nil {
			return err
		}
		graph := Graph{Roles: map[string]Role{}, Parents: map[string][]string{}}
		for rows.Next() {
			var rid, pid string
			if err := rows.Scan(&rid, &pid); err != nil {
				rows.Close()
				return err
			}
			graph.Parents[rid] = append(graph.Parents[rid], pid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		graph.Parents[roleID] = parents
		if validate != nil {
			if err := validate(graph); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM role_parents WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, parentID := range parents {
			if _, err := tx.Exec(ctx, `INSERT INTO role_parents (role_id, parent_id) VALUES ($1, $2)`, roleID, parentID); err != nil {
				return err
			}
		}
		return nil
	})
}

// AttachPermission links a permission to a role.
func (r *Repository) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, permissionID)
	return err
}

// DetachPermission unlinks a permission from a role.
func (r *Repository) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// PermissionsByRole returns the direct permissions of each role in one
// query.
func (r *Repository) PermissionsByRole(ctx context.Context, roleIDs []string) (map[string][]permissions.Permission, error) {
	result := make(map[string][]permissions.Permission, len(roleIDs))
	if len(roleIDs) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT rp.role_id, p.id, p.tenant_id, p.name, p.resource_type, p.action, p.scope, p.risk_level, p.min_clearance, p.constraint_predicate, p.requires_approval, p.created_at, p.updated_at
		 FROM role_permissions rp
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id = ANY($1)`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID string
		var p permissions.Permission
		var clearance string
		var predicate []byte
		if err := rows.Scan(&roleID, &p.ID, &p.TenantID, &p.Name, &p.ResourceType, &p.Action, &p.Scope, &p.RiskLevel, &clearance, &predicate, &p.RequiresApproval, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if clearance != "" {
			p.MinClearance = shared.ParseAccessLevel(clearance)
		}
		constraint, err := permissions.DecodePredicate(predicate)
		if err != nil {
			return nil, err
		}
		p.Constraint = constraint
		result[roleID] = append(result[roleID], p)
	}
	return result, rows.Err()
}

// CreateAssignment inserts a user-role assignment.
func (r *Repository) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	a.CreatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_role_assignments (id, user_id, role_id, active, effective_from, expires_at, assigned_by, context_tag, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.UserID, a.RoleID, a.Active, a.EffectiveFrom, a.ExpiresAt, a.AssignedBy, a.ContextTag, a.CreatedAt)
	if db.IsUniqueViolation(err) {
		return Assignment{}, httpx.ErrConflict
	}
	return a, err
}

// DeactivateAssignment flips an assignment inactive.
func (r *Repository) DeactivateAssignment(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE user_role_assignments SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// AssignmentsForUser returns every assignment of the user. Window filtering
// happens at decision time.
func (r *Repository) AssignmentsForUser(ctx context.Context, userID string) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, role_id, active, effective_from, expires_at, assigned_by, context_tag, created_at
		 FROM user_role_assignments WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.Active, &a.EffectiveFrom, &a.ExpiresAt, &a.AssignedBy, &a.ContextTag, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// CountActiveAssignments counts live assignments of a role, for max-user
// caps.
func (r *Repository) CountActiveAssignments(ctx context.Context, roleID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_role_assignments
		 WHERE role_id = $1 AND active AND effective_from <= NOW() AND (expires_at IS NULL OR expires_at > NOW())`, roleID).Scan(&count)
	return count, err
}
