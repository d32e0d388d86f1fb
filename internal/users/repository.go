package users

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/shared"
)

// Repository provides PostgreSQL backed persistence for users.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, tenant_id, department_id, email, name, clearance, status, system_admin, time_restriction, geo_restriction, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	var clearance string
	var timeRestriction []byte
	var geo []string
	if err := row.Scan(&u.ID, &u.TenantID, &u.DepartmentID, &u.Email, &u.Name, &clearance, &u.Status, &u.SystemAdmin, &timeRestriction, &geo, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.Clearance = shared.ParseAccessLevel(clearance)
	u.GeoRestriction = shared.GeoRestriction(geo)
	if len(timeRestriction) > 0 {
		_ = json.Unmarshal(timeRestriction, &u.TimeRestriction)
	}
	return u, nil
}

// Get fetches a user by id.
func (r *Repository) Get(ctx context.Context, id string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, httpx.ErrNotFound
	}
	return u, err
}

// List returns users of a tenant ordered by creation time.
func (r *Repository) List(ctx context.Context, tenantID string, page shared.Pagination) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		tenantID, page.PerPage, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	timeRestriction, err := json.Marshal(u.TimeRestriction)
	if err != nil {
		return User{}, err
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err = r.pool.Exec(ctx,
		`INSERT INTO users (id, tenant_id, department_id, email, name, clearance, status, system_admin, time_restriction, geo_restriction, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.TenantID, u.DepartmentID, u.Email, u.Name, u.Clearance.String(), u.Status, u.SystemAdmin, timeRestriction, []string(u.GeoRestriction), u.CreatedAt, u.UpdatedAt)
	return u, err
}

// UpdateStatus transitions a user's status. This is the only removal path.
func (r *Repository) UpdateStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}
