package sync

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/dynconfig"
	"github.com/clintrovert/praxis/internal/githubapp"
	"github.com/clintrovert/praxis/internal/store"
	"github.com/clintrovert/praxis/pkg/types"
)

func repoState(id int64, updatedAt time.Time, tasks map[types.TaskType]types.TaskState) types.RepoSyncState {
	if tasks == nil {
		tasks = make(map[types.TaskType]types.TaskState)
	}
	return types.RepoSyncState{
		Repository: types.Repository{ID: id, FullName: "org/repo", UpdatedAt: updatedAt},
		Tasks:      tasks,
	}
}

func TestSelectNextTask(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("MostRecentlyUpdatedRepoFirst", func(t *testing.T) {
		states := []types.RepoSyncState{
			repoState(1, base, nil),
			repoState(2, base.Add(time.Hour), nil),
		}
		next := selectNextTask(states, types.BaseTaskTypes)
		require.NotNil(t, next)
		assert.Equal(t, int64(2), next.Repo.ID)
		assert.Equal(t, types.TaskPull, next.Task)
	})

	t.Run("TaskPriorityOrderWithinRepo", func(t *testing.T) {
		states := []types.RepoSyncState{
			repoState(1, base, map[types.TaskType]types.TaskState{
				types.TaskPull:   {Status: types.TaskStatusComplete},
				types.TaskBranch: {Status: types.TaskStatusComplete},
			}),
		}
		next := selectNextTask(states, types.BaseTaskTypes)
		require.NotNil(t, next)
		assert.Equal(t, types.TaskCommit, next.Task)
	})

	t.Run("FailedAndInProgressAreRetried", func(t *testing.T) {
		states := []types.RepoSyncState{
			repoState(1, base, map[types.TaskType]types.TaskState{
				types.TaskPull: {Status: types.TaskStatusFailed, Cursor: `{"perPage":20,"pageNo":4}`},
			}),
		}
		next := selectNextTask(states, types.BaseTaskTypes)
		require.NotNil(t, next)
		assert.Equal(t, types.TaskPull, next.Task)
		assert.Equal(t, `{"perPage":20,"pageNo":4}`, next.Cursor)
	})

	t.Run("NilWhenEverythingComplete", func(t *testing.T) {
		tasks := make(map[types.TaskType]types.TaskState)
		for _, task := range types.BaseTaskTypes {
			tasks[task] = types.TaskState{Status: types.TaskStatusComplete}
		}
		states := []types.RepoSyncState{repoState(1, base, tasks)}
		assert.Nil(t, selectNextTask(states, types.BaseTaskTypes))
	})

	t.Run("SecurityTasksOnlyWhenListed", func(t *testing.T) {
		tasks := make(map[types.TaskType]types.TaskState)
		for _, task := range types.BaseTaskTypes {
			tasks[task] = types.TaskState{Status: types.TaskStatusComplete}
		}
		states := []types.RepoSyncState{repoState(1, base, tasks)}

		assert.Nil(t, selectNextTask(states, types.BaseTaskTypes))

		withSecurity := append(append([]types.TaskType{}, types.BaseTaskTypes...), types.SecurityTaskTypes...)
		next := selectNextTask(states, withSecurity)
		require.NotNil(t, next)
		assert.Equal(t, types.TaskCodeScanningAlert, next.Task)
	})

	t.Run("InputOrderPreserved", func(t *testing.T) {
		states := []types.RepoSyncState{
			repoState(1, base, nil),
			repoState(2, base.Add(time.Hour), nil),
		}
		selectNextTask(states, types.BaseTaskTypes)
		assert.Equal(t, int64(1), states[0].Repository.ID)
	})
}

func TestSoftRetryDelay(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	t.Run("RateLimitWaitsUntilReset", func(t *testing.T) {
		err := &github.RateLimitError{
			Response: &http.Response{StatusCode: http.StatusForbidden, Request: &http.Request{}},
			Rate:     github.Rate{Reset: github.Timestamp{Time: time.Unix(2000, 0)}},
		}
		delay, ok := softRetryDelay(err, now)
		require.True(t, ok)
		assert.Equal(t, 1_000_000*time.Millisecond, delay)
	})

	t.Run("RateLimitResetInPastMeansNoDelay", func(t *testing.T) {
		err := &github.RateLimitError{
			Response: &http.Response{StatusCode: http.StatusForbidden, Request: &http.Request{}},
			Rate:     github.Rate{Reset: github.Timestamp{Time: time.Unix(500, 0)}},
		}
		delay, ok := softRetryDelay(err, now)
		require.True(t, ok)
		assert.Equal(t, time.Duration(0), delay)
	})

	t.Run("AbuseLimitBacksOffAMinute", func(t *testing.T) {
		err := &github.AbuseRateLimitError{
			Response: &http.Response{StatusCode: http.StatusForbidden, Request: &http.Request{}},
		}
		delay, ok := softRetryDelay(err, now)
		require.True(t, ok)
		assert.Equal(t, 60*time.Second, delay)
	})

	t.Run("TimeoutBacksOffBriefly", func(t *testing.T) {
		delay, ok := softRetryDelay(context.DeadlineExceeded, now)
		require.True(t, ok)
		assert.Equal(t, 5*time.Second, delay)
	})

	t.Run("OtherErrorsAreHard", func(t *testing.T) {
		_, ok := softRetryDelay(errors.New("boom"), now)
		assert.False(t, ok)
	})
}

// fakeStore is an in-memory store.Store for driving the scheduler end to end.
type fakeStore struct {
	sub     *types.Subscription
	repos   map[int64]*types.RepoSyncState
	order   []int64
	history []int
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore(sub *types.Subscription) *fakeStore {
	return &fakeStore{sub: sub, repos: make(map[int64]*types.RepoSyncState)}
}

func (f *fakeStore) seedRepo(repo types.Repository, tasks map[types.TaskType]types.TaskState) {
	if tasks == nil {
		tasks = make(map[types.TaskType]types.TaskState)
	}
	f.repos[repo.ID] = &types.RepoSyncState{Repository: repo, Tasks: tasks}
	f.order = append(f.order, repo.ID)
}

func (f *fakeStore) CreateSubscription(_ context.Context, installationID int64, jiraHost string) (*types.Subscription, error) {
	f.sub = &types.Subscription{ID: 1, InstallationID: installationID, JiraHost: jiraHost, SyncStatus: types.SyncStatusPending}
	return f.sub, nil
}

func (f *fakeStore) GetSubscription(_ context.Context, jiraHost string, installationID int64) (*types.Subscription, error) {
	if f.sub == nil || f.sub.JiraHost != jiraHost || f.sub.InstallationID != installationID {
		return nil, nil
	}
	sub := *f.sub
	return &sub, nil
}

func (f *fakeStore) DeleteSubscription(context.Context, string, int64) error {
	f.sub = nil
	return nil
}

func (f *fakeStore) UpdateSyncStatus(_ context.Context, _ int64, status types.SyncStatus) error {
	f.sub.SyncStatus = status
	return nil
}

func (f *fakeStore) SetSyncWarning(_ context.Context, _ int64, warning string) error {
	f.sub.SyncWarning = warning
	return nil
}

func (f *fakeStore) SetSyncedRepos(_ context.Context, _ int64, count int) error {
	f.sub.SyncedRepos = count
	f.history = append(f.history, count)
	return nil
}

func (f *fakeStore) ListRepoSyncStates(context.Context, int64) ([]types.RepoSyncState, error) {
	states := make([]types.RepoSyncState, 0, len(f.order))
	for _, id := range f.order {
		state := *f.repos[id]
		tasks := make(map[types.TaskType]types.TaskState, len(state.Tasks))
		for task, ts := range state.Tasks {
			tasks[task] = ts
		}
		state.Tasks = tasks
		states = append(states, state)
	}
	return states, nil
}

func (f *fakeStore) UpsertRepoSummary(_ context.Context, _ int64, repo types.Repository) error {
	if state, ok := f.repos[repo.ID]; ok {
		state.Repository = repo
		return nil
	}
	f.seedRepo(repo, nil)
	return nil
}

func (f *fakeStore) UpdateTaskState(_ context.Context, _, repoID int64, task types.TaskType, status types.TaskStatus, cursor string) error {
	state, ok := f.repos[repoID]
	if !ok {
		return fmt.Errorf("no state row for repository %d", repoID)
	}
	state.Tasks[task] = types.TaskState{Status: status, Cursor: cursor}
	return nil
}

func (f *fakeStore) ResetSyncState(_ context.Context, _ int64, clearCursors bool) error {
	for _, state := range f.repos {
		for task, ts := range state.Tasks {
			ts.Status = types.TaskStatusPending
			if clearCursors {
				ts.Cursor = ""
			}
			state.Tasks[task] = ts
		}
	}
	return nil
}

const widgetsRepoJSON = `{"id":777,"name":"widgets","full_name":"acme/widgets","owner":{"login":"acme"},"html_url":"https://github.test/acme/widgets","updated_at":"2024-03-01T00:00:00Z"}`

// githubStub serves the app auth endpoints every scheduler step needs, plus
// whatever the test registers.
func githubStub(t *testing.T, configure func(mux *http.ServeMux)) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/app/installations/{id}/access_tokens", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"token":"installation-token","expires_at":%q}`, time.Now().Add(time.Hour).Format(time.RFC3339))
	})
	mux.HandleFunc("GET /api/v3/app/installations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"id":42,"permissions":{}}`)
	})
	if configure != nil {
		configure(mux)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func emptyJSONList(w http.ResponseWriter, _ *http.Request) {
	io.WriteString(w, `[]`)
}

// serveRepoLists registers every per-task list endpoint for acme/widgets,
// empty unless the test supplies a pulls handler.
func serveRepoLists(mux *http.ServeMux, pulls http.HandlerFunc) {
	if pulls == nil {
		pulls = emptyJSONList
	}
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls", pulls)
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/branches", emptyJSONList)
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/commits", emptyJSONList)
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/actions/runs", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"total_count":0,"workflow_runs":[]}`)
	})
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/deployments", emptyJSONList)
}

func jiraStub(t *testing.T) (string, *[]string) {
	t.Helper()
	paths := &[]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*paths = append(*paths, r.URL.Path)
		io.WriteString(w, `{}`)
	}))
	t.Cleanup(srv.Close)
	return srv.URL, paths
}

func newTestScheduler(t *testing.T, st store.Store, githubURL string) *Scheduler {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	locate := func(int64) (*rsa.PrivateKey, error) { return key, nil }

	settings := dynconfig.NewStatic(nil)
	holder := githubapp.NewAppTokenHolder(locate, settings, githubapp.SystemClock)
	cache := githubapp.NewInstallationTokenCache(settings, githubapp.SystemClock)
	factory := githubapp.NewClientFactory(42, githubURL, holder, cache, settings, zap.NewNop())

	dedup, _ := newTestDeduplicator(t)
	return NewScheduler(st, factory, dedup, "bot@example.com", "secret", time.Millisecond, zap.NewNop())
}

func allBaseComplete() map[types.TaskType]types.TaskState {
	tasks := make(map[types.TaskType]types.TaskState)
	for _, task := range types.BaseTaskTypes {
		tasks[task] = types.TaskState{Status: types.TaskStatusComplete}
	}
	return tasks
}

func TestProcessInstallation(t *testing.T) {
	ctx := context.Background()
	widgets := types.Repository{
		ID:       777,
		Name:     "widgets",
		Owner:    "acme",
		FullName: "acme/widgets",
		URL:      "https://github.test/acme/widgets",
	}

	t.Run("RunsToCompletion", func(t *testing.T) {
		var pullPages []string
		githubURL := githubStub(t, func(mux *http.ServeMux) {
			mux.HandleFunc("GET /api/v3/installation/repositories", func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprintf(w, `{"total_count":1,"repositories":[%s]}`, widgetsRepoJSON)
			})
			serveRepoLists(mux, func(w http.ResponseWriter, r *http.Request) {
				page := r.URL.Query().Get("page")
				pullPages = append(pullPages, page)
				if page == "1" {
					io.WriteString(w, `[{"number":1,"title":"tidy readme","state":"open","head":{"ref":"main"},"base":{"ref":"main"}}]`)
					return
				}
				io.WriteString(w, `[]`)
			})
		})
		jiraURL, jiraPaths := jiraStub(t)

		fs := newFakeStore(&types.Subscription{ID: 1, InstallationID: 42, JiraHost: jiraURL, SyncStatus: types.SyncStatusPending})
		s := newTestScheduler(t, fs, githubURL)
		msg := Message{InstallationID: 42, JiraHost: jiraURL, StartTime: time.Now().Add(-time.Minute)}

		steps := 0
		for ; steps < 25; steps++ {
			out, err := s.ProcessInstallation(ctx, msg)
			require.NoError(t, err)
			if !out.Requeue {
				break
			}
		}
		require.Less(t, steps, 25, "backfill never converged")

		assert.Equal(t, types.SyncStatusComplete, fs.sub.SyncStatus)
		assert.Equal(t, 1, fs.sub.SyncedRepos)
		for _, task := range types.BaseTaskTypes {
			assert.True(t, fs.repos[777].TaskComplete(task), string(task))
		}
		// A non-empty page advances the cursor; only the empty follow-up ends
		// the task.
		assert.Equal(t, []string{"1", "2"}, pullPages)
		assert.Contains(t, *jiraPaths, "/rest/devinfo/0.10/github/migrationComplete")
	})

	t.Run("ReactivatesFailedBackfill", func(t *testing.T) {
		githubURL := githubStub(t, func(mux *http.ServeMux) {
			serveRepoLists(mux, nil)
		})
		jiraURL, _ := jiraStub(t)

		fs := newFakeStore(&types.Subscription{ID: 1, InstallationID: 42, JiraHost: jiraURL, SyncStatus: types.SyncStatusFailed})
		fs.seedRepo(widgets, nil)
		s := newTestScheduler(t, fs, githubURL)

		out, err := s.ProcessInstallation(ctx, Message{InstallationID: 42, JiraHost: jiraURL})
		require.NoError(t, err)
		assert.True(t, out.Requeue, "a new job must resume a failed backfill")
		assert.Equal(t, types.SyncStatusActive, fs.sub.SyncStatus)
		assert.True(t, fs.repos[777].TaskComplete(types.TaskPull))
	})

	t.Run("CompletedBackfillIsDropped", func(t *testing.T) {
		githubURL := githubStub(t, nil)
		jiraURL, jiraPaths := jiraStub(t)

		fs := newFakeStore(&types.Subscription{ID: 1, InstallationID: 42, JiraHost: jiraURL, SyncStatus: types.SyncStatusComplete})
		s := newTestScheduler(t, fs, githubURL)

		out, err := s.ProcessInstallation(ctx, Message{InstallationID: 42, JiraHost: jiraURL})
		require.NoError(t, err)
		assert.False(t, out.Requeue)
		assert.Equal(t, types.SyncStatusComplete, fs.sub.SyncStatus)
		assert.Empty(t, *jiraPaths)
	})

	t.Run("HardFailureIsNotSwallowedOnRetry", func(t *testing.T) {
		githubURL := githubStub(t, func(mux *http.ServeMux) {
			mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, `{"message":"boom"}`)
			})
		})
		jiraURL, _ := jiraStub(t)

		fs := newFakeStore(&types.Subscription{ID: 1, InstallationID: 42, JiraHost: jiraURL, SyncStatus: types.SyncStatusActive})
		fs.seedRepo(widgets, nil)
		s := newTestScheduler(t, fs, githubURL)
		msg := Message{InstallationID: 42, JiraHost: jiraURL}

		_, err := s.ProcessInstallation(ctx, msg)
		require.Error(t, err)
		assert.Equal(t, types.SyncStatusFailed, fs.sub.SyncStatus)

		// The queue's retry must reach GitHub again rather than report a
		// finished no-op.
		_, err = s.ProcessInstallation(ctx, msg)
		require.Error(t, err)
		assert.Equal(t, types.SyncStatusFailed, fs.sub.SyncStatus)
	})

	t.Run("VanishedRepositoryCompletesTasks", func(t *testing.T) {
		githubURL := githubStub(t, func(mux *http.ServeMux) {
			mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `{"message":"Not Found"}`)
			})
		})
		jiraURL, _ := jiraStub(t)

		fs := newFakeStore(&types.Subscription{ID: 1, InstallationID: 42, JiraHost: jiraURL, SyncStatus: types.SyncStatusActive})
		fs.seedRepo(widgets, nil)
		s := newTestScheduler(t, fs, githubURL)

		out, err := s.ProcessInstallation(ctx, Message{InstallationID: 42, JiraHost: jiraURL})
		require.NoError(t, err)
		assert.True(t, out.Requeue)
		assert.Equal(t, types.SyncStatusActive, fs.sub.SyncStatus)
		assert.True(t, fs.repos[777].TaskComplete(types.TaskPull))
	})

	t.Run("LegacyStateRowResolvesRepoSummary", func(t *testing.T) {
		githubURL := githubStub(t, func(mux *http.ServeMux) {
			mux.HandleFunc("GET /api/v3/repositories/777", func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, widgetsRepoJSON)
			})
			serveRepoLists(mux, nil)
		})
		jiraURL, _ := jiraStub(t)

		fs := newFakeStore(&types.Subscription{ID: 1, InstallationID: 42, JiraHost: jiraURL, SyncStatus: types.SyncStatusActive})
		fs.seedRepo(types.Repository{ID: 777}, nil)
		s := newTestScheduler(t, fs, githubURL)

		out, err := s.ProcessInstallation(ctx, Message{InstallationID: 42, JiraHost: jiraURL})
		require.NoError(t, err)
		assert.True(t, out.Requeue)
		assert.Equal(t, "acme", fs.repos[777].Repository.Owner)
		assert.Equal(t, "widgets", fs.repos[777].Repository.Name)
		assert.True(t, fs.repos[777].TaskComplete(types.TaskPull))
	})

	t.Run("SyncedCountRefreshesWithoutTaskCompletion", func(t *testing.T) {
		githubURL := githubStub(t, nil)
		jiraURL, jiraPaths := jiraStub(t)

		fs := newFakeStore(&types.Subscription{ID: 1, InstallationID: 42, JiraHost: jiraURL, SyncStatus: types.SyncStatusActive})
		fs.seedRepo(widgets, allBaseComplete())
		s := newTestScheduler(t, fs, githubURL)

		out, err := s.ProcessInstallation(ctx, Message{InstallationID: 42, JiraHost: jiraURL})
		require.NoError(t, err)
		assert.False(t, out.Requeue)
		assert.Equal(t, types.SyncStatusComplete, fs.sub.SyncStatus)
		assert.Equal(t, 1, fs.sub.SyncedRepos)
		assert.Contains(t, *jiraPaths, "/rest/devinfo/0.10/github/migrationComplete")
	})
}

func TestCountFullySynced(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	done := make(map[types.TaskType]types.TaskState)
	for _, task := range types.BaseTaskTypes {
		done[task] = types.TaskState{Status: types.TaskStatusComplete}
	}
	states := []types.RepoSyncState{
		repoState(1, base, done),
		repoState(2, base, map[types.TaskType]types.TaskState{
			types.TaskPull: {Status: types.TaskStatusComplete},
		}),
		repoState(3, base, nil),
	}
	assert.Equal(t, 1, countFullySynced(states, types.BaseTaskTypes))
}
