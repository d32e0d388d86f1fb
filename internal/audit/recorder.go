// Package audit records authorization decisions and administrative changes.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Outcome values stored with each event.
const (
	OutcomeGranted  = "GRANTED"
	OutcomeDenied   = "DENIED"
	OutcomeApplied  = "APPLIED"
	OutcomeRejected = "REJECTED"
)

// Event is a single audit record. Every decision and every administrative
// mutation produces one.
type Event struct {
	ActorID  string
	Action   string
	Target   string
	TenantID string
	Outcome  string
	Reason   string
	// Meta carries before/after state for administrative mutations and
	// provenance for decisions.
	Meta map[string]any
	At   time.Time
}

// Recorder persists events into audit_events.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder returns a Recorder backed by the given pool.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record persists the event. Failure to record an administrative mutation is
// surfaced to the caller; the mutation must not be reported as applied.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if r == nil || r.pool == nil {
		return errors.New("audit: recorder not initialised")
	}
	if ev.ActorID == "" || ev.Action == "" {
		return errors.New("audit: event requires actor and action")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(ev.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_events (actor_id, action, target, tenant_id, outcome, reason, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ActorID, ev.Action, ev.Target, ev.TenantID, ev.Outcome, ev.Reason, metaJSON, ev.At)
	return err
}
