package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/temporal/workflows"
)

// Client wraps Temporal client functionality.
type Client struct {
	temporalClient client.Client
	logger         *zap.Logger
	taskQueue      string
}

// NewClient creates a new Temporal client.
func NewClient(address, namespace, taskQueue string, logger *zap.Logger) (*Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  address,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}

	return &Client{
		temporalClient: c,
		logger:         logger,
		taskQueue:      taskQueue,
	}, nil
}

// StartBackfill starts a backfill workflow for one installation. The workflow
// ID carries the start time so a restart gets a fresh workflow rather than
// colliding with an earlier run.
func (c *Client) StartBackfill(ctx context.Context, installationID int64, jiraHost string, startTime time.Time) (string, error) {
	workflowID := fmt.Sprintf("backfill-%d-%d", installationID, startTime.Unix())

	workflowOptions := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: c.taskQueue,
	}

	input := workflows.BackfillInput{
		InstallationID: installationID,
		JiraHost:       jiraHost,
		StartTime:      startTime,
	}

	we, err := c.temporalClient.ExecuteWorkflow(ctx, workflowOptions, workflows.BackfillWorkflow, input)
	if err != nil {
		return "", fmt.Errorf("failed to start backfill workflow: %w", err)
	}

	c.logger.Info("started backfill workflow",
		zap.String("workflow_id", we.GetID()),
		zap.String("run_id", we.GetRunID()),
		zap.Int64("installation_id", installationID),
		zap.String("jira_host", jiraHost),
	)

	return we.GetID(), nil
}

// CancelBackfill cancels a running backfill workflow.
func (c *Client) CancelBackfill(ctx context.Context, workflowID string) error {
	return c.temporalClient.CancelWorkflow(ctx, workflowID, "")
}

// Raw exposes the underlying Temporal client for worker registration.
func (c *Client) Raw() client.Client {
	return c.temporalClient
}

// Close closes the Temporal client.
func (c *Client) Close() {
	c.temporalClient.Close()
}
