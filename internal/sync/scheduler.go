package sync

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/githubapp"
	"github.com/clintrovert/praxis/internal/jira"
	"github.com/clintrovert/praxis/internal/metrics"
	"github.com/clintrovert/praxis/internal/store"
	"github.com/clintrovert/praxis/pkg/types"
)

const (
	// timeoutBackoff is how long to wait before retrying after a request
	// timed out.
	timeoutBackoff = 5 * time.Second
	// abuseBackoff is how long to back off after a secondary rate limit.
	abuseBackoff = 60 * time.Second
	// dedupBackoff is the base delay when another worker holds the job, with
	// up to the same again in jitter so contending workers spread out.
	dedupBackoff = 60 * time.Second

	// discoveryPageSize is the page size used while enumerating repositories.
	discoveryPageSize = 100
)

// Scheduler drives one installation's backfill forward by a single step per
// call: discover repositories, or fetch-and-submit one page of one task.
type Scheduler struct {
	store        store.Store
	github       *githubapp.ClientFactory
	dedup        *Deduplicator
	jiraUsername string
	jiraAPIToken string
	requeueDelay time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(
	st store.Store,
	github *githubapp.ClientFactory,
	dedup *Deduplicator,
	jiraUsername, jiraAPIToken string,
	requeueDelay time.Duration,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		store:        st,
		github:       github,
		dedup:        dedup,
		jiraUsername: jiraUsername,
		jiraAPIToken: jiraAPIToken,
		requeueDelay: requeueDelay,
		now:          time.Now,
		logger:       logger,
	}
}

// ProcessInstallation advances the backfill for one installation. The caller
// requeues per the returned Outcome; a returned error means the step failed
// hard and the installation was marked FAILED.
func (s *Scheduler) ProcessInstallation(ctx context.Context, msg Message) (*Outcome, error) {
	logger := s.logger.With(
		zap.Int64("installationID", msg.InstallationID),
		zap.String("jiraHost", msg.JiraHost),
	)

	sub, err := s.store.GetSubscription(ctx, msg.JiraHost, msg.InstallationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		logger.Info("no subscription for job, dropping")
		return &Outcome{}, nil
	}
	if sub.SyncStatus == types.SyncStatusComplete {
		logger.Info("backfill already complete, dropping")
		return &Outcome{}, nil
	}
	if sub.SyncStatus == types.SyncStatusFailed {
		// A new inbound job is the retry signal for a failed backfill. Flip it
		// back to active and resume from the persisted task state.
		logger.Info("re-driving failed backfill")
		if err := s.store.UpdateSyncStatus(ctx, sub.ID, types.SyncStatusActive); err != nil {
			return nil, fmt.Errorf("failed to reactivate subscription: %w", err)
		}
		sub.SyncStatus = types.SyncStatusActive
	}

	jobKey := fmt.Sprintf("%s:%d", msg.JiraHost, msg.InstallationID)
	var outcome *Outcome
	res, jobErr := s.dedup.Execute(ctx, jobKey, func(ctx context.Context) error {
		var err error
		outcome, err = s.processOnce(ctx, logger, sub, msg)
		return err
	})
	switch res {
	case DedupOtherWorker:
		logger.Info("another worker is processing this installation")
		delay := dedupBackoff + time.Duration(rand.Int63n(int64(dedupBackoff)))
		return &Outcome{Requeue: true, RequeueDelayMillis: delay.Milliseconds()}, nil
	case DedupNotSure:
		logger.Warn("in-progress flag state unclear, retrying later")
		return &Outcome{Requeue: true, RequeueDelayMillis: dedupBackoff.Milliseconds()}, nil
	}
	if jobErr != nil {
		return nil, jobErr
	}
	return outcome, nil
}

func (s *Scheduler) processOnce(ctx context.Context, logger *zap.Logger, sub *types.Subscription, msg Message) (*Outcome, error) {
	if sub.SyncStatus == types.SyncStatusPending {
		if err := s.discoverRepos(ctx, logger, sub); err != nil {
			return s.handleError(ctx, logger, sub, nil, err)
		}
		if err := s.store.UpdateSyncStatus(ctx, sub.ID, types.SyncStatusActive); err != nil {
			return nil, fmt.Errorf("failed to activate subscription: %w", err)
		}
		return &Outcome{Requeue: true, RequeueDelayMillis: s.requeueDelay.Milliseconds()}, nil
	}

	tasks := s.taskTypesFor(ctx, logger, sub)

	states, err := s.store.ListRepoSyncStates(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repo sync states: %w", err)
	}
	if err := s.store.SetSyncedRepos(ctx, sub.ID, countFullySynced(states, tasks)); err != nil {
		return nil, fmt.Errorf("failed to update synced repo count: %w", err)
	}

	next := selectNextTask(states, tasks)
	if next == nil {
		return s.finalize(ctx, logger, sub, msg)
	}
	return s.runTask(ctx, logger, sub, next)
}

// discoverRepos enumerates every repository the installation can access and
// records a summary row for each.
func (s *Scheduler) discoverRepos(ctx context.Context, logger *zap.Logger, sub *types.Subscription) error {
	client, err := s.github.InstallationClient(sub.InstallationID, sub.JiraHost)
	if err != nil {
		return err
	}

	count := 0
	for page := 1; ; page++ {
		repos, err := client.ListInstallationRepos(ctx, page, discoveryPageSize)
		if err != nil {
			return err
		}
		for _, r := range repos {
			if err := s.store.UpsertRepoSummary(ctx, sub.ID, repoSummary(r)); err != nil {
				return fmt.Errorf("failed to record repository %d: %w", r.GetID(), err)
			}
		}
		count += len(repos)
		if len(repos) < discoveryPageSize {
			break
		}
	}

	if err := s.store.SetSyncedRepos(ctx, sub.ID, 0); err != nil {
		return fmt.Errorf("failed to reset synced repo count: %w", err)
	}
	logger.Info("repository discovery complete", zap.Int("repos", count))
	return nil
}

// taskTypesFor returns the task types to run for this installation. Security
// tasks are included only when the app holds the security-events permission;
// if the permission check itself fails, the base tasks still run.
func (s *Scheduler) taskTypesFor(ctx context.Context, logger *zap.Logger, sub *types.Subscription) []types.TaskType {
	appClient, err := s.github.AppClient(sub.JiraHost)
	if err != nil {
		logger.Warn("failed to build app client, skipping security tasks", zap.Error(err))
		return types.BaseTaskTypes
	}
	installation, err := appClient.GetInstallation(ctx, sub.InstallationID)
	if err != nil {
		logger.Warn("failed to read installation permissions, skipping security tasks", zap.Error(err))
		return types.BaseTaskTypes
	}
	switch installation.GetPermissions().GetSecurityEvents() {
	case "read", "write":
		return append(append([]types.TaskType{}, types.BaseTaskTypes...), types.SecurityTaskTypes...)
	default:
		return types.BaseTaskTypes
	}
}

// nextTask is the unit of work selectNextTask hands to runTask.
type nextTask struct {
	Repo   types.Repository
	Task   types.TaskType
	Cursor string
}

// selectNextTask picks the first unfinished task, visiting recently updated
// repositories first and task types in their fixed priority order. Failed and
// in-progress tasks are retried; only complete ones are skipped.
func selectNextTask(states []types.RepoSyncState, tasks []types.TaskType) *nextTask {
	sorted := append([]types.RepoSyncState{}, states...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Repository.UpdatedAt.After(sorted[j].Repository.UpdatedAt)
	})
	for _, state := range sorted {
		for _, task := range tasks {
			if !state.TaskComplete(task) {
				return &nextTask{
					Repo:   state.Repository,
					Task:   task,
					Cursor: state.Tasks[task].Cursor,
				}
			}
		}
	}
	return nil
}

func (s *Scheduler) runTask(ctx context.Context, logger *zap.Logger, sub *types.Subscription, next *nextTask) (*Outcome, error) {
	logger = logger.With(
		zap.String("task", string(next.Task)),
		zap.String("repo", next.Repo.FullName),
	)

	processor, err := processorFor(next.Task)
	if err != nil {
		return nil, err
	}
	client, err := s.github.InstallationClient(sub.InstallationID, sub.JiraHost)
	if err != nil {
		return s.handleError(ctx, logger, sub, next, err)
	}

	if next.Repo.Owner == "" || next.Repo.Name == "" {
		if err := s.resolveRepo(ctx, logger, sub, client, next); err != nil {
			return s.handleError(ctx, logger, sub, next, err)
		}
	}

	cursor, err := ParsePageCursor(next.Cursor)
	if err != nil {
		logger.Warn("unreadable cursor, restarting task from the beginning", zap.Error(err))
		cursor = PageCursor{PerPage: defaultPerPage, PageNo: 1}
	}

	if err := s.store.UpdateTaskState(ctx, sub.ID, next.Repo.ID, next.Task, types.TaskStatusInProgress, cursor.Serialise()); err != nil {
		return nil, fmt.Errorf("failed to mark task in progress: %w", err)
	}

	result, used, err := runPage(ctx, cursor, func(ctx context.Context, c PageCursor) (*PageResult, error) {
		payload, edges, err := processor(ctx, client, next.Repo, c.PageNo, c.PerPage)
		if err != nil {
			return nil, err
		}
		return &PageResult{Payload: payload, Edges: edges}, nil
	}, logger)
	if err != nil {
		return s.handleError(ctx, logger, sub, next, err)
	}

	if !result.Payload.Empty() {
		jiraClient, err := s.jiraClientFor(sub)
		if err != nil {
			return s.handleError(ctx, logger, sub, next, err)
		}
		if err := jiraClient.Submit(ctx, result.Payload); err != nil {
			return s.handleError(ctx, logger, sub, next, err)
		}
	}

	// Only an empty page ends the task. A short page can still be followed by
	// more data when items land while the backfill is paging.
	if result.Edges > 0 {
		advanced := used.CopyWithPageNo(used.PageNo + 1)
		if err := s.store.UpdateTaskState(ctx, sub.ID, next.Repo.ID, next.Task, types.TaskStatusInProgress, advanced.Serialise()); err != nil {
			return nil, fmt.Errorf("failed to advance task cursor: %w", err)
		}
		logger.Debug("page done, more to fetch", zap.Int("pageNo", advanced.PageNo))
		return &Outcome{Requeue: true, RequeueDelayMillis: s.requeueDelay.Milliseconds()}, nil
	}

	if err := s.completeTask(ctx, logger, sub, next); err != nil {
		return nil, err
	}
	return &Outcome{Requeue: true}, nil
}

// resolveRepo backfills the repository summary for state rows recorded before
// summaries were kept, so list calls have an owner and name to address.
func (s *Scheduler) resolveRepo(ctx context.Context, logger *zap.Logger, sub *types.Subscription, client *githubapp.InstallationClient, next *nextTask) error {
	repo, err := client.GetRepositoryByID(ctx, next.Repo.ID)
	if err != nil {
		return err
	}
	next.Repo = repoSummary(repo)
	logger.Info("resolved repository summary", zap.String("repo", next.Repo.FullName))
	if err := s.store.UpsertRepoSummary(ctx, sub.ID, next.Repo); err != nil {
		return fmt.Errorf("failed to record repository %d: %w", next.Repo.ID, err)
	}
	return nil
}

// completeTask marks one task done. The synced repository count catches up on
// the next scheduling pass, which recomputes it before picking a task.
func (s *Scheduler) completeTask(ctx context.Context, logger *zap.Logger, sub *types.Subscription, next *nextTask) error {
	if err := s.store.UpdateTaskState(ctx, sub.ID, next.Repo.ID, next.Task, types.TaskStatusComplete, ""); err != nil {
		return fmt.Errorf("failed to mark task complete: %w", err)
	}
	metrics.IncTaskStatus(string(next.Task), "complete")
	logger.Info("task complete")
	return nil
}

func repoSummary(r *github.Repository) types.Repository {
	return types.Repository{
		ID:        r.GetID(),
		Name:      r.GetName(),
		Owner:     r.GetOwner().GetLogin(),
		FullName:  r.GetFullName(),
		URL:       r.GetHTMLURL(),
		UpdatedAt: r.GetUpdatedAt().Time,
	}
}

func countFullySynced(states []types.RepoSyncState, tasks []types.TaskType) int {
	count := 0
	for _, state := range states {
		if state.FullySynced(tasks) {
			count++
		}
	}
	return count
}

// handleError classifies a task failure. Throttling and timeouts requeue with
// a backoff, a vanished repository counts as synced, and anything else fails
// the whole installation. next is nil during repository discovery.
func (s *Scheduler) handleError(ctx context.Context, logger *zap.Logger, sub *types.Subscription, next *nextTask, err error) (*Outcome, error) {
	if delay, ok := softRetryDelay(err, s.now()); ok {
		logger.Warn("transient failure, requeueing", zap.Duration("delay", delay), zap.Error(err))
		return &Outcome{Requeue: true, RequeueDelayMillis: delay.Milliseconds()}, nil
	}

	if githubapp.IsNotFound(err) && next != nil {
		// The repository disappeared after discovery. Nothing left to sync.
		logger.Info("resource gone, treating task as complete", zap.Error(err))
		if err := s.completeTask(ctx, logger, sub, next); err != nil {
			return nil, err
		}
		return &Outcome{Requeue: true}, nil
	}

	task := types.TaskType("discovery")
	if next != nil {
		task = next.Task
	}
	metrics.IncTaskStatus(string(task), "failed")
	if updateErr := s.store.UpdateSyncStatus(ctx, sub.ID, types.SyncStatusFailed); updateErr != nil {
		logger.Error("failed to mark subscription failed", zap.Error(updateErr))
	}
	return nil, fmt.Errorf("failed to sync %s for installation %d: %w", task, sub.InstallationID, err)
}

// softRetryDelay returns the backoff for errors worth retrying without
// consuming a failure attempt.
func softRetryDelay(err error, now time.Time) (time.Duration, bool) {
	if reset, ok := githubapp.RateLimitReset(err); ok {
		delay := reset.Sub(now)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}
	if githubapp.IsAbuseLimit(err) {
		return abuseBackoff, true
	}
	if githubapp.IsTimeout(err) {
		return timeoutBackoff, true
	}
	return 0, false
}

func (s *Scheduler) finalize(ctx context.Context, logger *zap.Logger, sub *types.Subscription, msg Message) (*Outcome, error) {
	if err := s.store.UpdateSyncStatus(ctx, sub.ID, types.SyncStatusComplete); err != nil {
		return nil, fmt.Errorf("failed to mark subscription complete: %w", err)
	}
	metrics.IncSyncComplete()
	if !msg.StartTime.IsZero() {
		metrics.ObserveFullSyncDuration(s.now().Sub(msg.StartTime).Seconds())
	}
	logger.Info("backfill complete")

	// Best effort, the backfill is complete either way.
	if jiraClient, err := s.jiraClientFor(sub); err != nil {
		logger.Warn("failed to build jira client for completion notice", zap.Error(err))
	} else if err := jiraClient.NotifyBackfillComplete(ctx); err != nil {
		logger.Warn("failed to notify jira of completion", zap.Error(err))
	}

	return &Outcome{}, nil
}

func (s *Scheduler) jiraClientFor(sub *types.Subscription) (*jira.Client, error) {
	warn := func(ctx context.Context, message string) error {
		return s.store.SetSyncWarning(ctx, sub.ID, message)
	}
	return jira.NewClient(sub.JiraHost, s.jiraUsername, s.jiraAPIToken, sub.InstallationID, warn, s.logger)
}
