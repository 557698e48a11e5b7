package sync

import (
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clintrovert/praxis/pkg/types"
)

func TestProcessorFor(t *testing.T) {
	for _, task := range append(append([]types.TaskType{}, types.BaseTaskTypes...), types.SecurityTaskTypes...) {
		p, err := processorFor(task)
		require.NoError(t, err, "task %s", task)
		assert.NotNil(t, p)
	}

	_, err := processorFor(types.TaskType("nope"))
	assert.Error(t, err)
}

func TestPullRequestStatus(t *testing.T) {
	merged := time.Now()
	assert.Equal(t, "MERGED", pullRequestStatus(&github.PullRequest{
		State:    github.String("closed"),
		MergedAt: &github.Timestamp{Time: merged},
	}))
	assert.Equal(t, "DECLINED", pullRequestStatus(&github.PullRequest{State: github.String("closed")}))
	assert.Equal(t, "OPEN", pullRequestStatus(&github.PullRequest{State: github.String("open")}))
}

func TestBuildState(t *testing.T) {
	assert.Equal(t, "successful", buildState("completed", "success"))
	assert.Equal(t, "failed", buildState("completed", "failure"))
	assert.Equal(t, "failed", buildState("completed", "timed_out"))
	assert.Equal(t, "cancelled", buildState("completed", "cancelled"))
	assert.Equal(t, "in_progress", buildState("in_progress", ""))
	assert.Equal(t, "in_progress", buildState("queued", ""))
	assert.Equal(t, "unknown", buildState("completed", "neutral"))
}

func TestEnvironmentType(t *testing.T) {
	assert.Equal(t, "production", environmentType("Production"))
	assert.Equal(t, "production", environmentType("eu-prod-2"))
	assert.Equal(t, "staging", environmentType("staging"))
	assert.Equal(t, "testing", environmentType("qa-1"))
	assert.Equal(t, "development", environmentType("dev"))
	assert.Equal(t, "unmapped", environmentType("sandbox"))
}

func TestSeverityAppearance(t *testing.T) {
	assert.Equal(t, "removed", severityAppearance("critical"))
	assert.Equal(t, "removed", severityAppearance("error"))
	assert.Equal(t, "moved", severityAppearance("warning"))
	assert.Equal(t, "new", severityAppearance("note"))
	assert.Equal(t, "default", severityAppearance(""))
}

func TestShortSHA(t *testing.T) {
	assert.Equal(t, "abcdef0", shortSHA("abcdef0123456789"))
	assert.Equal(t, "abc", shortSHA("abc"))
}
