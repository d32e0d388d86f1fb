package resources

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
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

const resourceColumns = `id, tenant_id, type, name, owner_id, department_id, classification, attributes, created_at, updated_at`

func scanResource(row pgx.Row) (Resource, error) {
	var res Resource
	var classification string
	var attrs []byte
	if err := row.Scan(&res.ID, &res.TenantID, &res.Type, &res.Name, &res.OwnerID, &res.DepartmentID, &classification, &attrs, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return Resource{}, err
	}
	res.Classification = shared.ParseAccessLevel(classification)
	if len(attrs) > 0 && string(attrs) != "null" {
		_ = json.Unmarshal(attrs, &res.Attributes)
	}
	return res, nil
}

// Get fetches a resource by id.
func (r *Repository) Get(ctx context.Context, id string) (Resource, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)
	res, err := scanResource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Resource{}, httpx.ErrNotFound
	}
	return res, err
}

// GetBatch fetches resources by id in one round trip, preserving only rows
// that exist. The engine batches its persistence reads through this.
func (r *Repository) GetBatch(ctx context.Context, ids []string) (map[string]Resource, error) {
	if len(ids) == 0 {
		return map[string]Resource{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]Resource, len(ids))
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result[res.ID] = res
	}
	return result, rows.Err()
}

// List returns resources of a tenant and type.
func (r *Repository) List(ctx context.Context, tenantID, resourceType string, page shared.Pagination) ([]Resource, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE tenant_id = $1 AND ($2 = '' OR type = $2) ORDER BY created_at LIMIT $3 OFFSET $4`,
		tenantID, resourceType, page.PerPage, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, rows.Err()
}

// ListFiltered returns tenant resources constrained by a row-level filter
// predicate rendered into the query itself, so rows the caller may not see
// never leave the database.
func (r *Repository) ListFiltered(ctx context.Context, resourceType string, clause string, args []any, page shared.Pagination) ([]Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE type = $1 AND ` + clause
	args = append([]any{resourceType}, args...)
	args = append(args, page.PerPage, page.Offset())
	query += ` ORDER BY created_at LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, rows.Err()
}

// Create inserts a resource.
func (r *Repository) Create(ctx context.Context, res Resource) (Resource, error) {
	attrs, err := json.Marshal(res.Attributes)
	if err != nil {
		return Resource{}, err
	}
	now := time.Now().UTC()
	res.CreatedAt, res.UpdatedAt = now, now
	_, err = r.pool.Exec(ctx,
		`INSERT INTO resources (id, tenant_id, type, name, owner_id, department_id, classification, attributes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		res.ID, res.TenantID, res.Type, res.Name, res.OwnerID, res.DepartmentID, res.Classification.String(), attrs, res.CreatedAt, res.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return Resource{}, httpx.ErrConflict
	}
	return res, err
}

// Delete removes a resource.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

