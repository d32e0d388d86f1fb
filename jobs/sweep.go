package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// DelegationStore is the sweep's view of the delegation table.
type DelegationStore interface {
	DeactivateExpired(ctx context.Context) (int64, error)
}

// EmergencyStore is the sweep's view of the break-glass table.
type EmergencyStore interface {
	ExpireLapsed(ctx context.Context) (int64, error)
}

// Sweeper flips lapsed rows to their terminal state. Decision reads apply
// the same window checks themselves, so a delayed or missed sweep never
// extends access.
type Sweeper struct {
	delegations DelegationStore
	emergencies EmergencyStore
	logger      *slog.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(delegations DelegationStore, emergencies EmergencyStore, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{delegations: delegations, emergencies: emergencies, logger: logger}
}

// HandleExpirySweep processes TaskTypeExpirySweep tasks.
func (s *Sweeper) HandleExpirySweep(ctx context.Context, t *asynq.Task) error {
	swept, err := s.delegations.DeactivateExpired(ctx)
	if err != nil {
		return err
	}
	expired, err := s.emergencies.ExpireLapsed(ctx)
	if err != nil {
		return err
	}
	if swept > 0 || expired > 0 {
		s.logger.Info("expiry sweep",
			slog.Int64("delegations", swept),
			slog.Int64("emergency_grants", expired))
	}
	return nil
}
