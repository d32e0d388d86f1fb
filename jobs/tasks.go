// Package jobs holds the background task definitions and the Asynq worker
// wiring.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotifyDelegation announces a new delegation to its delegate.
	TaskTypeNotifyDelegation = "notify:delegation"
	// TaskTypeNotifyEmergency announces break-glass lifecycle events.
	TaskTypeNotifyEmergency = "notify:emergency"
	// TaskTypeExpirySweep marks lapsed delegations and break-glass grants
	// in the database. Reads never trust the swept flags; the sweep only
	// keeps the tables tidy.
	TaskTypeExpirySweep = "sweep:expiry"
)

// DelegationNoticePayload describes a delegation hand-off.
type DelegationNoticePayload struct {
	DelegationID string    `json:"delegation_id"`
	TenantID     string    `json:"tenant_id"`
	DelegatorID  string    `json:"delegator_id"`
	DelegateID   string    `json:"delegate_id"`
	Type         string    `json:"type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// EmergencyNoticePayload describes a break-glass request event.
type EmergencyNoticePayload struct {
	RequestID   string `json:"request_id"`
	TenantID    string `json:"tenant_id"`
	RequesterID string `json:"requester_id"`
	Status      string `json:"status"`
}

// NewDelegationNoticeTask constructs an Asynq task.
func NewDelegationNoticeTask(payload DelegationNoticePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotifyDelegation, data), nil
}

// NewEmergencyNoticeTask constructs an Asynq task.
func NewEmergencyNoticeTask(payload EmergencyNoticePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotifyEmergency, data), nil
}

// NewExpirySweepTask constructs the periodic sweep task.
func NewExpirySweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeExpirySweep, nil)
}
