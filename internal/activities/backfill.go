package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/sync"
)

// Backfill exposes the sync scheduler as Temporal activities.
type Backfill struct {
	scheduler *sync.Scheduler
	logger    *zap.Logger
}

// NewBackfill creates the backfill activities.
func NewBackfill(scheduler *sync.Scheduler, logger *zap.Logger) *Backfill {
	return &Backfill{
		scheduler: scheduler,
		logger:    logger,
	}
}

// ProcessInstallation advances one installation's backfill by a single step.
// An error return means the step failed hard and the workflow's retry policy
// decides whether it runs again.
func (b *Backfill) ProcessInstallation(ctx context.Context, msg sync.Message) (*sync.Outcome, error) {
	outcome, err := b.scheduler.ProcessInstallation(ctx, msg)
	if err != nil {
		b.logger.Error("backfill step failed",
			zap.Int64("installation_id", msg.InstallationID),
			zap.String("jira_host", msg.JiraHost),
			zap.Error(err),
		)
		return nil, err
	}
	return outcome, nil
}
