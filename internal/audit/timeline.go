package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TimelineRow is a single rendered audit entry.
type TimelineRow struct {
	At       time.Time `json:"at"`
	ActorID  string    `json:"actor_id"`
	Action   string    `json:"action"`
	Target   string    `json:"target"`
	TenantID string    `json:"tenant_id"`
	Outcome  string    `json:"outcome"`
	Reason   string    `json:"reason,omitempty"`
}

// TimelineFilters narrows the timeline query.
type TimelineFilters struct {
	TenantID string
	ActorID  string
	Action   string
	Outcome  string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// PagingInfo describes the window returned by Timeline.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// Service coordinates audit timeline reads.
type Service struct {
	pool *pgxpool.Pool
}

// NewService builds a timeline service.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Timeline returns a page of audit events, newest first. It fetches one row
// beyond the page to detect whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.pool == nil {
		return Result{}, fmt.Errorf("audit: service not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}

	query := strings.Builder{}
	query.WriteString(`SELECT occurred_at, actor_id, action, target, tenant_id, outcome, reason FROM audit_events WHERE 1=1`)
	args := make([]any, 0, 8)
	addFilter := func(clause, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		fmt.Fprintf(&query, " AND %s = $%d", clause, len(args))
	}
	addFilter("tenant_id", filters.TenantID)
	addFilter("actor_id", filters.ActorID)
	addFilter("action", filters.Action)
	addFilter("outcome", filters.Outcome)
	if !filters.From.IsZero() {
		args = append(args, filters.From)
		fmt.Fprintf(&query, " AND occurred_at >= $%d", len(args))
	}
	if !filters.To.IsZero() {
		args = append(args, filters.To)
		fmt.Fprintf(&query, " AND occurred_at < $%d", len(args))
	}
	args = append(args, pageSize+1, (page-1)*pageSize)
	fmt.Fprintf(&query, " ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	var result []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Target, &row.TenantID, &row.Outcome, &row.Reason); err != nil {
			return Result{}, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	hasNext := len(result) > pageSize
	if hasNext {
		result = result[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: result, Paging: paging}, nil
}
