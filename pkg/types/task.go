package types

// TaskType is one category of synced data for a repository.
type TaskType string

const (
	TaskPull              TaskType = "pull"
	TaskBranch            TaskType = "branch"
	TaskCommit            TaskType = "commit"
	TaskBuild             TaskType = "build"
	TaskDeployment        TaskType = "deployment"
	TaskCodeScanningAlert TaskType = "codeScanningAlert"
)

// BaseTaskTypes is the fixed priority order in which tasks are attempted for
// a repository. Security tasks are appended per installation when the app has
// been granted the security-events permission.
var BaseTaskTypes = []TaskType{TaskPull, TaskBranch, TaskCommit, TaskBuild, TaskDeployment}

// SecurityTaskTypes require the security-events permission on the installation.
var SecurityTaskTypes = []TaskType{TaskCodeScanningAlert}

// TaskStatus is the per-repository, per-task progress state.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusComplete   TaskStatus = "complete"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskState holds the progress of one task type for one repository. Cursor is
// an opaque string owned by the sync package.
type TaskState struct {
	Status TaskStatus
	Cursor string
}

// RepoSyncState is one repository's full backfill state under a subscription.
type RepoSyncState struct {
	Repository Repository
	Tasks      map[TaskType]TaskState
}

// TaskComplete reports whether the given task type has finished for this
// repository. A missing entry means the task has not started.
func (r RepoSyncState) TaskComplete(task TaskType) bool {
	return r.Tasks[task].Status == TaskStatusComplete
}

// FullySynced reports whether every tracked task type is complete.
func (r RepoSyncState) FullySynced(tasks []TaskType) bool {
	for _, t := range tasks {
		if !r.TaskComplete(t) {
			return false
		}
	}
	return true
}
