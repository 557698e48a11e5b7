package store

import (
	"context"

	"github.com/clintrovert/praxis/pkg/types"
)

// Store persists subscriptions and per-repository sync state. The scheduler
// is the only writer of task state; the REST layer reads it for reporting.
type Store interface {
	CreateSubscription(ctx context.Context, installationID int64, jiraHost string) (*types.Subscription, error)
	// GetSubscription returns nil, nil when no subscription exists, so callers
	// can treat an uninstalled-mid-sync installation as a no-op.
	GetSubscription(ctx context.Context, jiraHost string, installationID int64) (*types.Subscription, error)
	DeleteSubscription(ctx context.Context, jiraHost string, installationID int64) error

	UpdateSyncStatus(ctx context.Context, subscriptionID int64, status types.SyncStatus) error
	SetSyncWarning(ctx context.Context, subscriptionID int64, warning string) error
	SetSyncedRepos(ctx context.Context, subscriptionID int64, count int) error

	ListRepoSyncStates(ctx context.Context, subscriptionID int64) ([]types.RepoSyncState, error)
	UpsertRepoSummary(ctx context.Context, subscriptionID int64, repo types.Repository) error
	UpdateTaskState(ctx context.Context, subscriptionID, repoID int64, task types.TaskType, status types.TaskStatus, cursor string) error

	// ResetSyncState marks every task pending again. A full reset also clears
	// cursors so the next backfill starts from the beginning.
	ResetSyncState(ctx context.Context, subscriptionID int64, clearCursors bool) error
}
