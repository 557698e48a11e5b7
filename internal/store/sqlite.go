package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clintrovert/praxis/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    installation_id INTEGER NOT NULL,
    jira_host       TEXT    NOT NULL,
    sync_status     TEXT    NOT NULL DEFAULT 'PENDING',
    sync_warning    TEXT    NOT NULL DEFAULT '',
    synced_repos    INTEGER NOT NULL DEFAULT 0,
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL,
    UNIQUE (installation_id, jira_host)
);

CREATE TABLE IF NOT EXISTS repo_sync_states (
    subscription_id INTEGER NOT NULL,
    repo_id         INTEGER NOT NULL,
    name            TEXT NOT NULL DEFAULT '',
    owner           TEXT NOT NULL DEFAULT '',
    full_name       TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL DEFAULT '',
    repo_updated_at TIMESTAMP,
    PRIMARY KEY (subscription_id, repo_id)
);

CREATE TABLE IF NOT EXISTS repo_sync_tasks (
    subscription_id INTEGER NOT NULL,
    repo_id         INTEGER NOT NULL,
    task_type       TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    cursor          TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (subscription_id, repo_id, task_type)
);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSubscription(ctx context.Context, installationID int64, jiraHost string) (*types.Subscription, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (installation_id, jira_host, sync_status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (installation_id, jira_host) DO UPDATE SET updated_at = excluded.updated_at`,
		installationID, jiraHost, types.SyncStatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return s.GetSubscription(ctx, jiraHost, installationID)
}

func (s *SQLiteStore) GetSubscription(ctx context.Context, jiraHost string, installationID int64) (*types.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, installation_id, jira_host, sync_status, sync_warning, synced_repos, created_at, updated_at
         FROM subscriptions WHERE jira_host = ? AND installation_id = ?`,
		jiraHost, installationID,
	)
	var sub types.Subscription
	err := row.Scan(&sub.ID, &sub.InstallationID, &sub.JiraHost, &sub.SyncStatus,
		&sub.SyncWarning, &sub.SyncedRepos, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (s *SQLiteStore) DeleteSubscription(ctx context.Context, jiraHost string, installationID int64) error {
	sub, err := s.GetSubscription(ctx, jiraHost, installationID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	for _, q := range []string{
		`DELETE FROM repo_sync_tasks WHERE subscription_id = ?`,
		`DELETE FROM repo_sync_states WHERE subscription_id = ?`,
		`DELETE FROM subscriptions WHERE id = ?`,
	} {
		if _, err := s.db.ExecContext(ctx, q, sub.ID); err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpdateSyncStatus(ctx context.Context, subscriptionID int64, status types.SyncStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET sync_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetSyncWarning(ctx context.Context, subscriptionID int64, warning string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET sync_warning = ?, updated_at = ? WHERE id = ?`,
		warning, time.Now().UTC(), subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("failed to set sync warning: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetSyncedRepos(ctx context.Context, subscriptionID int64, count int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET synced_repos = ?, updated_at = ? WHERE id = ?`,
		count, time.Now().UTC(), subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("failed to set synced repos: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRepoSyncStates(ctx context.Context, subscriptionID int64) ([]types.RepoSyncState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT repo_id, name, owner, full_name, url, repo_updated_at
         FROM repo_sync_states WHERE subscription_id = ?`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list repo sync states: %w", err)
	}
	defer rows.Close()

	byRepo := make(map[int64]*types.RepoSyncState)
	var order []int64
	for rows.Next() {
		var repo types.Repository
		var updatedAt sql.NullTime
		if err := rows.Scan(&repo.ID, &repo.Name, &repo.Owner, &repo.FullName, &repo.URL, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repo sync state: %w", err)
		}
		if updatedAt.Valid {
			repo.UpdatedAt = updatedAt.Time
		}
		byRepo[repo.ID] = &types.RepoSyncState{
			Repository: repo,
			Tasks:      make(map[types.TaskType]types.TaskState),
		}
		order = append(order, repo.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate repo sync states: %w", err)
	}

	taskRows, err := s.db.QueryContext(ctx,
		`SELECT repo_id, task_type, status, cursor FROM repo_sync_tasks WHERE subscription_id = ?`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list repo sync tasks: %w", err)
	}
	defer taskRows.Close()

	for taskRows.Next() {
		var repoID int64
		var task types.TaskType
		var state types.TaskState
		if err := taskRows.Scan(&repoID, &task, &state.Status, &state.Cursor); err != nil {
			return nil, fmt.Errorf("failed to scan repo sync task: %w", err)
		}
		if st, ok := byRepo[repoID]; ok {
			st.Tasks[task] = state
		}
	}
	if err := taskRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate repo sync tasks: %w", err)
	}

	states := make([]types.RepoSyncState, 0, len(order))
	for _, id := range order {
		states = append(states, *byRepo[id])
	}
	return states, nil
}

func (s *SQLiteStore) UpsertRepoSummary(ctx context.Context, subscriptionID int64, repo types.Repository) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repo_sync_states (subscription_id, repo_id, name, owner, full_name, url, repo_updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (subscription_id, repo_id) DO UPDATE SET
             name = excluded.name, owner = excluded.owner, full_name = excluded.full_name,
             url = excluded.url, repo_updated_at = excluded.repo_updated_at`,
		subscriptionID, repo.ID, repo.Name, repo.Owner, repo.FullName, repo.URL, repo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert repo summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTaskState(ctx context.Context, subscriptionID, repoID int64, task types.TaskType, status types.TaskStatus, cursor string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repo_sync_tasks (subscription_id, repo_id, task_type, status, cursor)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (subscription_id, repo_id, task_type) DO UPDATE SET
             status = excluded.status, cursor = excluded.cursor`,
		subscriptionID, repoID, task, status, cursor,
	)
	if err != nil {
		return fmt.Errorf("failed to update task state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetSyncState(ctx context.Context, subscriptionID int64, clearCursors bool) error {
	query := `UPDATE repo_sync_tasks SET status = 'pending' WHERE subscription_id = ?`
	if clearCursors {
		query = `UPDATE repo_sync_tasks SET status = 'pending', cursor = '' WHERE subscription_id = ?`
	}
	if _, err := s.db.ExecContext(ctx, query, subscriptionID); err != nil {
		return fmt.Errorf("failed to reset sync state: %w", err)
	}
	return s.SetSyncedRepos(ctx, subscriptionID, 0)
}
