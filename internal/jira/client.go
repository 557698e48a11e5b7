package jira

import (
	"context"
	"fmt"
	"net/http"

	jira "github.com/andygrunwald/go-jira"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/metrics"
)

const issueKeyLimitWarning = "Exceeded issue key reference limit. Some issues may not be linked."

// WarningSink persists a human-readable warning against the installation so
// operators can see data was dropped.
type WarningSink func(ctx context.Context, message string) error

// Client submits backfill payloads to one Jira host. It is the only component
// allowed to call the bulk endpoints, and it validates payload sizes first.
type Client struct {
	jc             *jira.Client
	installationID int64
	warn           WarningSink
	logger         *zap.Logger
}

// NewClient creates a client for the given Jira host.
func NewClient(jiraHost, username, apiToken string, installationID int64, warn WarningSink, logger *zap.Logger) (*Client, error) {
	tp := jira.BasicAuthTransport{
		Username: username,
		Password: apiToken,
	}
	jc, err := jira.NewClient(tp.Client(), jiraHost)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}
	return &Client{
		jc:             jc,
		installationID: installationID,
		warn:           warn,
		logger:         logger,
	}, nil
}

// Submit routes a task payload to the matching bulk endpoint.
func (c *Client) Submit(ctx context.Context, payload *Payload) error {
	if payload.Empty() {
		return nil
	}
	switch {
	case payload.Repository != nil:
		return c.SubmitDevinfo(ctx, payload.Repository)
	case len(payload.Builds) > 0:
		return c.SubmitBuilds(ctx, payload.Builds)
	case len(payload.Deployments) > 0:
		return c.SubmitDeployments(ctx, payload.Deployments)
	default:
		return c.SubmitRemoteLinks(ctx, payload.RemoteLinks)
	}
}

// SubmitDevinfo sends a repository's development information, deduplicating
// issue keys, truncating over-limit key lists (recording a warning) and
// splitting commits into chunks the API accepts.
func (c *Client) SubmitDevinfo(ctx context.Context, repo *DevinfoRepository) error {
	DedupeIssueKeys(repo)
	if !WithinIssueKeyLimit(repo) {
		TruncateIssueKeys(repo)
		c.recordWarning(ctx)
	}

	for _, chunk := range ChunkCommits(repo.Commits, CommitChunkSize) {
		repo.Commits = chunk
		body := map[string]interface{}{
			"preventTransitions": true,
			"repositories":       []*DevinfoRepository{repo},
			"properties": map[string]interface{}{
				"installationId": c.installationID,
			},
		}
		if err := c.post(ctx, "/rest/devinfo/0.10/bulk", body); err != nil {
			return err
		}
	}
	return nil
}

// SubmitBuilds sends CI builds, capping each build's issue keys.
func (c *Client) SubmitBuilds(ctx context.Context, builds []Build) error {
	truncated := false
	for i := range builds {
		keys, dropped := GovernKeys(builds[i].IssueKeys)
		builds[i].IssueKeys = keys
		truncated = truncated || dropped
	}
	if truncated {
		c.recordWarning(ctx)
	}
	body := map[string]interface{}{
		"builds": builds,
		"properties": map[string]interface{}{
			"installationId": c.installationID,
		},
	}
	return c.post(ctx, "/rest/builds/0.1/bulk", body)
}

// SubmitDeployments sends deployments, capping each association value list.
func (c *Client) SubmitDeployments(ctx context.Context, deployments []Deployment) error {
	truncated := false
	for i := range deployments {
		associations, dropped := GovernAssociations(deployments[i].Associations)
		deployments[i].Associations = associations
		truncated = truncated || dropped
	}
	if truncated {
		c.recordWarning(ctx)
	}
	body := map[string]interface{}{
		"deployments": deployments,
		"properties": map[string]interface{}{
			"installationId": c.installationID,
		},
	}
	return c.post(ctx, "/rest/deployments/0.1/bulk", body)
}

// SubmitRemoteLinks sends security remote links, capping association values.
func (c *Client) SubmitRemoteLinks(ctx context.Context, links []RemoteLink) error {
	truncated := false
	for i := range links {
		associations, dropped := GovernAssociations(links[i].Associations)
		links[i].Associations = associations
		truncated = truncated || dropped
	}
	if truncated {
		c.recordWarning(ctx)
	}
	body := map[string]interface{}{
		"remoteLinks": links,
		"properties": map[string]interface{}{
			"installationId": c.installationID,
		},
	}
	return c.post(ctx, "/rest/remotelinks/1.0/bulk", body)
}

// NotifyBackfillComplete tells Jira the historical sync finished. Callers
// treat failures as best-effort.
func (c *Client) NotifyBackfillComplete(ctx context.Context) error {
	return c.post(ctx, "/rest/devinfo/0.10/github/migrationComplete", map[string]interface{}{
		"installationId": c.installationID,
	})
}

func (c *Client) recordWarning(ctx context.Context) {
	if c.warn == nil {
		return
	}
	if err := c.warn(ctx, issueKeyLimitWarning); err != nil {
		c.logger.Warn("failed to record sync warning", zap.Error(err))
	}
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	req, err := c.jc.NewRequestWithContext(ctx, http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("failed to build jira request: %w", err)
	}
	resp, err := c.jc.Do(req, nil)
	if err != nil {
		status := 0
		if resp != nil && resp.Response != nil {
			status = resp.StatusCode
		}
		c.logger.Error("jira submission failed",
			zap.String("method", http.MethodPost),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Error(err),
		)
		metrics.IncJiraSubmit("failed")
		return fmt.Errorf("failed to submit to jira %s: %w", path, err)
	}
	metrics.IncJiraSubmit("ok")
	return nil
}
