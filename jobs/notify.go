package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Notifier processes notification tasks. Delivery is structured log output;
// a mail or chat integration slots in behind the same handlers.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier constructs a Notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

// HandleDelegationNotice processes TaskTypeNotifyDelegation tasks.
func (n *Notifier) HandleDelegationNotice(ctx context.Context, t *asynq.Task) error {
	var payload DelegationNoticePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	n.logger.Info("delegation notice",
		slog.String("delegation_id", payload.DelegationID),
		slog.String("tenant_id", payload.TenantID),
		slog.String("delegator_id", payload.DelegatorID),
		slog.String("delegate_id", payload.DelegateID),
		slog.String("type", payload.Type),
		slog.Time("expires_at", payload.ExpiresAt))
	return nil
}

// HandleEmergencyNotice processes TaskTypeNotifyEmergency tasks.
func (n *Notifier) HandleEmergencyNotice(ctx context.Context, t *asynq.Task) error {
	var payload EmergencyNoticePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	n.logger.Info("emergency notice",
		slog.String("request_id", payload.RequestID),
		slog.String("tenant_id", payload.TenantID),
		slog.String("requester_id", payload.RequesterID),
		slog.String("status", payload.Status))
	return nil
}
