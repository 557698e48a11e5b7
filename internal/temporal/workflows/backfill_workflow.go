package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/clintrovert/praxis/internal/sync"
)

// ProcessInstallationActivity is the registered name of the activity that
// advances a backfill by one step.
const ProcessInstallationActivity = "ProcessInstallation"

// maxIterationsPerRun caps how many activity round-trips one workflow run
// accumulates before continuing as new, keeping event history bounded.
const maxIterationsPerRun = 500

// BackfillInput identifies the installation a backfill workflow drives.
type BackfillInput struct {
	InstallationID int64     `json:"installationId"`
	JiraHost       string    `json:"jiraHost"`
	StartTime      time.Time `json:"startTime"`
}

// BackfillWorkflow repeatedly runs the process-installation activity until it
// reports there is nothing left to do. Transient failures are requeued with
// the delay the activity asks for; hard failures burn through the activity
// retry policy and then fail the workflow.
func BackfillWorkflow(ctx workflow.Context, input BackfillInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("starting backfill workflow",
		"installation_id", input.InstallationID,
		"jira_host", input.JiraHost,
	)

	if input.StartTime.IsZero() {
		input.StartTime = workflow.Now(ctx)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	msg := sync.Message{
		InstallationID: input.InstallationID,
		JiraHost:       input.JiraHost,
		StartTime:      input.StartTime,
	}

	for iteration := 0; ; iteration++ {
		var outcome sync.Outcome
		if err := workflow.ExecuteActivity(ctx, ProcessInstallationActivity, msg).Get(ctx, &outcome); err != nil {
			logger.Error("backfill step failed permanently", "error", err)
			return err
		}
		if !outcome.Requeue {
			logger.Info("backfill workflow finished",
				"installation_id", input.InstallationID,
				"iterations", iteration+1,
			)
			return nil
		}
		if outcome.RequeueDelayMillis > 0 {
			if err := workflow.Sleep(ctx, time.Duration(outcome.RequeueDelayMillis)*time.Millisecond); err != nil {
				return err
			}
		}
		if iteration+1 >= maxIterationsPerRun {
			return workflow.NewContinueAsNewError(ctx, BackfillWorkflow, input)
		}
	}
}
