package sync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/clintrovert/praxis/internal/githubapp"
	"github.com/clintrovert/praxis/internal/jira"
	"github.com/clintrovert/praxis/pkg/types"
)

// Processor fetches one page of a task's data and transforms the items that
// reference Jira issues into the downstream payload shape.
type Processor func(ctx context.Context, client *githubapp.InstallationClient, repo types.Repository, page, perPage int) (*jira.Payload, int, error)

// processorFor returns the processor implementing the given task type.
func processorFor(task types.TaskType) (Processor, error) {
	switch task {
	case types.TaskPull:
		return processPulls, nil
	case types.TaskBranch:
		return processBranches, nil
	case types.TaskCommit:
		return processCommits, nil
	case types.TaskBuild:
		return processBuilds, nil
	case types.TaskDeployment:
		return processDeployments, nil
	case types.TaskCodeScanningAlert:
		return processCodeScanningAlerts, nil
	default:
		return nil, fmt.Errorf("no processor for task type %q", task)
	}
}

func processPulls(ctx context.Context, client *githubapp.InstallationClient, repo types.Repository, page, perPage int) (*jira.Payload, int, error) {
	prs, err := client.ListPullRequests(ctx, repo.Owner, repo.Name, page, perPage)
	if err != nil {
		return nil, 0, err
	}

	var out []jira.PullRequest
	for _, pr := range prs {
		keys := ExtractIssueKeys(pr.GetTitle(), pr.GetHead().GetRef())
		if len(keys) == 0 {
			continue
		}
		out = append(out, jira.PullRequest{
			ID:                strconv.Itoa(pr.GetNumber()),
			DisplayID:         fmt.Sprintf("#%d", pr.GetNumber()),
			Title:             pr.GetTitle(),
			Status:            pullRequestStatus(pr),
			Author:            pr.GetUser().GetLogin(),
			SourceBranch:      pr.GetHead().GetRef(),
			DestinationBranch: pr.GetBase().GetRef(),
			URL:               pr.GetHTMLURL(),
			LastUpdate:        pr.GetUpdatedAt().Format(time.RFC3339),
			CommentCount:      pr.GetComments(),
			UpdateSequenceID:  updateSequence(),
			IssueKeys:         keys,
		})
	}
	if len(out) == 0 {
		return nil, len(prs), nil
	}
	return &jira.Payload{Repository: devinfoRepo(repo, func(r *jira.DevinfoRepository) {
		r.PullRequests = out
	})}, len(prs), nil
}

func processBranches(ctx context.Context, client *githubapp.InstallationClient, repo types.Repository, page, perPage int) (*jira.Payload, int, error) {
	branches, err := client.ListBranches(ctx, repo.Owner, repo.Name, page, perPage)
	if err != nil {
		return nil, 0, err
	}

	var out []jira.Branch
	for _, b := range branches {
		keys := ExtractIssueKeys(b.GetName())
		if len(keys) == 0 {
			continue
		}
		branch := jira.Branch{
			ID:                   b.GetName(),
			Name:                 b.GetName(),
			URL:                  repo.URL + "/tree/" + b.GetName(),
			CreatePullRequestURL: repo.URL + "/compare/" + b.GetName(),
			UpdateSequenceID:     updateSequence(),
			IssueKeys:            keys,
		}
		if sha := b.GetCommit().GetSHA(); sha != "" {
			branch.LastCommit = &jira.Commit{
				ID:               sha,
				DisplayID:        shortSHA(sha),
				Hash:             sha,
				URL:              repo.URL + "/commit/" + sha,
				UpdateSequenceID: updateSequence(),
				IssueKeys:        keys,
			}
		}
		out = append(out, branch)
	}
	if len(out) == 0 {
		return nil, len(branches), nil
	}
	return &jira.Payload{Repository: devinfoRepo(repo, func(r *jira.DevinfoRepository) {
		r.Branches = out
	})}, len(branches), nil
}

func processCommits(ctx context.Context, client *githubapp.InstallationClient, repo types.Repository, page, perPage int) (*jira.Payload, int, error) {
	commits, err := client.ListCommits(ctx, repo.Owner, repo.Name, page, perPage)
	if err != nil {
		return nil, 0, err
	}

	var out []jira.Commit
	for _, c := range commits {
		message := c.GetCommit().GetMessage()
		keys := ExtractIssueKeys(message)
		if len(keys) == 0 {
			continue
		}
		out = append(out, jira.Commit{
			ID:               c.GetSHA(),
			DisplayID:        shortSHA(c.GetSHA()),
			Hash:             c.GetSHA(),
			Message:          message,
			AuthorTimestamp:  c.GetCommit().GetAuthor().GetDate().Format(time.RFC3339),
			URL:              c.GetHTMLURL(),
			UpdateSequenceID: updateSequence(),
			IssueKeys:        keys,
		})
	}
	if len(out) == 0 {
		return nil, len(commits), nil
	}
	return &jira.Payload{Repository: devinfoRepo(repo, func(r *jira.DevinfoRepository) {
		r.Commits = out
	})}, len(commits), nil
}

func processBuilds(ctx context.Context, client *githubapp.InstallationClient, repo types.Repository, page, perPage int) (*jira.Payload, int, error) {
	runs, err := client.ListWorkflowRuns(ctx, repo.Owner, repo.Name, page, perPage)
	if err != nil {
		return nil, 0, err
	}

	var out []jira.Build
	for _, run := range runs {
		keys := ExtractIssueKeys(run.GetHeadBranch(), run.GetHeadCommit().GetMessage())
		if len(keys) == 0 {
			continue
		}
		out = append(out, jira.Build{
			PipelineID:           strconv.FormatInt(run.GetWorkflowID(), 10),
			BuildNumber:          int64(run.GetRunNumber()),
			DisplayName:          run.GetName(),
			State:                buildState(run.GetStatus(), run.GetConclusion()),
			LastUpdated:          run.GetUpdatedAt().Format(time.RFC3339),
			URL:                  run.GetHTMLURL(),
			UpdateSequenceNumber: updateSequence(),
			IssueKeys:            keys,
		})
	}
	if len(out) == 0 {
		return nil, len(runs), nil
	}
	return &jira.Payload{Builds: out}, len(runs), nil
}

func processDeployments(ctx context.Context, client *githubapp.InstallationClient, repo types.Repository, page, perPage int) (*jira.Payload, int, error) {
	deployments, err := client.ListDeployments(ctx, repo.Owner, repo.Name, page, perPage)
	if err != nil {
		return nil, 0, err
	}

	var out []jira.Deployment
	for _, d := range deployments {
		keys := ExtractIssueKeys(d.GetRef(), d.GetDescription())
		if len(keys) == 0 {
			continue
		}
		env := d.GetEnvironment()
		out = append(out, jira.Deployment{
			DeploymentSequenceNumber: d.GetID(),
			UpdateSequenceNumber:     updateSequence(),
			DisplayName:              fmt.Sprintf("Deploy %s to %s", d.GetRef(), env),
			URL:                      repo.URL + "/deployments",
			Description:              d.GetDescription(),
			State:                    "unknown",
			LastUpdated:              d.GetUpdatedAt().Format(time.RFC3339),
			Pipeline: jira.Pipeline{
				ID:          strconv.FormatInt(d.GetID(), 10),
				DisplayName: d.GetTask(),
				URL:         repo.URL + "/deployments",
			},
			Environment: jira.Environment{
				ID:          env,
				DisplayName: env,
				Type:        environmentType(env),
			},
			Associations: []jira.Association{{
				AssociationType: jira.AssociationTypeIssueKeys,
				Values:          keys,
			}},
		})
	}
	if len(out) == 0 {
		return nil, len(deployments), nil
	}
	return &jira.Payload{Deployments: out}, len(deployments), nil
}

func processCodeScanningAlerts(ctx context.Context, client *githubapp.InstallationClient, repo types.Repository, page, perPage int) (*jira.Payload, int, error) {
	alerts, err := client.ListCodeScanningAlerts(ctx, repo.Owner, repo.Name, page, perPage)
	if err != nil {
		return nil, 0, err
	}

	var out []jira.RemoteLink
	for _, a := range alerts {
		keys := ExtractIssueKeys(a.GetMostRecentInstance().GetRef(), a.GetRule().GetName())
		if len(keys) == 0 {
			continue
		}
		severity := a.GetRule().GetSeverity()
		out = append(out, jira.RemoteLink{
			ID:          fmt.Sprintf("%d-%d", repo.ID, a.GetNumber()),
			DisplayName: fmt.Sprintf("Alert #%d", a.GetNumber()),
			URL:         a.GetHTMLURL(),
			Type:        "security",
			Description: a.GetRule().GetDescription(),
			Status: &jira.LinkStatus{
				Appearance: severityAppearance(severity),
				Label:      severity,
			},
			LastUpdated:          a.GetUpdatedAt().Format(time.RFC3339),
			UpdateSequenceNumber: updateSequence(),
			Associations: []jira.Association{{
				AssociationType: jira.AssociationTypeIssueKeys,
				Values:          keys,
			}},
		})
	}
	if len(out) == 0 {
		return nil, len(alerts), nil
	}
	return &jira.Payload{RemoteLinks: out}, len(alerts), nil
}

func devinfoRepo(repo types.Repository, fill func(*jira.DevinfoRepository)) *jira.DevinfoRepository {
	r := &jira.DevinfoRepository{
		ID:               strconv.FormatInt(repo.ID, 10),
		Name:             repo.FullName,
		URL:              repo.URL,
		UpdateSequenceID: updateSequence(),
	}
	fill(r)
	return r
}

func pullRequestStatus(pr *github.PullRequest) string {
	switch {
	case pr.MergedAt != nil:
		return "MERGED"
	case pr.GetState() == "closed":
		return "DECLINED"
	default:
		return "OPEN"
	}
}

func buildState(status, conclusion string) string {
	if status != "completed" {
		return "in_progress"
	}
	switch conclusion {
	case "success":
		return "successful"
	case "cancelled", "skipped":
		return "cancelled"
	case "failure", "timed_out", "startup_failure":
		return "failed"
	default:
		return "unknown"
	}
}

func environmentType(env string) string {
	lower := strings.ToLower(env)
	switch {
	case strings.Contains(lower, "prod"):
		return "production"
	case strings.Contains(lower, "stag"):
		return "staging"
	case strings.Contains(lower, "test"), strings.Contains(lower, "qa"):
		return "testing"
	case strings.Contains(lower, "dev"):
		return "development"
	default:
		return "unmapped"
	}
}

func severityAppearance(severity string) string {
	switch strings.ToLower(severity) {
	case "critical", "high", "error":
		return "removed"
	case "medium", "warning":
		return "moved"
	case "low", "note":
		return "new"
	default:
		return "default"
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func updateSequence() int64 {
	return time.Now().UnixMilli()
}
