package githubapp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/clintrovert/praxis/internal/dynconfig"
)

const (
	defaultRequestTimeout = 30 * time.Second
	requestTimeoutKey     = "github.request_timeout"
)

// ClientFactory builds per-installation GitHub clients. The token caches it
// holds are process-wide; the clients themselves are cheap and built per job.
type ClientFactory struct {
	appID              int64
	baseURL            string
	appTokens          *AppTokenHolder
	installationTokens *InstallationTokenCache
	settings           dynconfig.Provider
	logger             *zap.Logger
}

// NewClientFactory creates a factory. baseURL is empty for github.com.
func NewClientFactory(
	appID int64,
	baseURL string,
	appTokens *AppTokenHolder,
	installationTokens *InstallationTokenCache,
	settings dynconfig.Provider,
	logger *zap.Logger,
) *ClientFactory {
	return &ClientFactory{
		appID:              appID,
		baseURL:            baseURL,
		appTokens:          appTokens,
		installationTokens: installationTokens,
		settings:           settings,
		logger:             logger,
	}
}

// AppClient returns a client authenticated as the app itself.
func (f *ClientFactory) AppClient(jiraHost string) (*AppClient, error) {
	httpClient := &http.Client{
		Timeout: f.settings.GetDurationForHost(requestTimeoutKey, jiraHost, defaultRequestTimeout),
		Transport: &appTokenTransport{
			holder: f.appTokens,
			app:    AppIdentity{AppID: f.appID, JiraHost: jiraHost},
		},
	}
	gh, err := f.newGitHubClient(httpClient)
	if err != nil {
		return nil, err
	}
	return &AppClient{gh: gh, logger: f.logger}, nil
}

// InstallationClient returns a client authenticated as one installation.
// Tokens come from the shared installation token cache; expired tokens are
// re-minted through the app client.
func (f *ClientFactory) InstallationClient(installationID int64, jiraHost string) (*InstallationClient, error) {
	appClient, err := f.AppClient(jiraHost)
	if err != nil {
		return nil, err
	}

	mint := func(ctx context.Context) (AuthToken, error) {
		return appClient.CreateInstallationToken(ctx, installationID)
	}

	source := &installationTokenSource{
		cache:          f.installationTokens,
		installationID: installationID,
		appID:          f.appID,
		mint:           mint,
	}
	httpClient := oauth2.NewClient(context.Background(), source)
	httpClient.Timeout = f.settings.GetDurationForHost(requestTimeoutKey, jiraHost, defaultRequestTimeout)

	gh, err := f.newGitHubClient(httpClient)
	if err != nil {
		return nil, err
	}
	return &InstallationClient{gh: gh, installationID: installationID, logger: f.logger}, nil
}

func (f *ClientFactory) newGitHubClient(httpClient *http.Client) (*github.Client, error) {
	gh := github.NewClient(httpClient)
	if f.baseURL == "" {
		return gh, nil
	}
	gh, err := gh.WithEnterpriseURLs(f.baseURL, f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure enterprise base URL: %w", err)
	}
	return gh, nil
}

// appTokenTransport signs every request with a Bearer app assertion.
type appTokenTransport struct {
	holder *AppTokenHolder
	app    AppIdentity
}

func (t *appTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.holder.GetAppToken(t.app)
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token.Token)
	clone.Header.Set("Accept", "application/vnd.github.v3+json")
	return http.DefaultTransport.RoundTrip(clone)
}

// installationTokenSource adapts the installation token cache to oauth2.
type installationTokenSource struct {
	cache          *InstallationTokenCache
	installationID int64
	appID          int64
	mint           MintFunc
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.cache.GetInstallationToken(context.Background(), s.installationID, s.appID, s.mint)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token.Token, Expiry: token.ExpiresAt}, nil
}

// AppClient talks to GitHub authenticated as the app, not any installation.
type AppClient struct {
	gh     *github.Client
	logger *zap.Logger
}

// GetInstallation fetches the installation record, including its granted
// permissions.
func (c *AppClient) GetInstallation(ctx context.Context, installationID int64) (*github.Installation, error) {
	installation, _, err := c.gh.Apps.GetInstallation(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get installation %d: %w", installationID, err)
	}
	return installation, nil
}

// CreateInstallationToken exchanges the app assertion for a token scoped to
// one installation.
func (c *AppClient) CreateInstallationToken(ctx context.Context, installationID int64) (AuthToken, error) {
	token, _, err := c.gh.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return AuthToken{}, fmt.Errorf("failed to create installation token: %w", err)
	}
	return AuthToken{Token: token.GetToken(), ExpiresAt: token.GetExpiresAt().Time}, nil
}

// InstallationClient talks to GitHub on behalf of one installation. All list
// calls fetch exactly one page.
type InstallationClient struct {
	gh             *github.Client
	installationID int64
	logger         *zap.Logger
}

// InstallationID returns the installation this client is scoped to.
func (c *InstallationClient) InstallationID() int64 {
	return c.installationID
}

// GetRepositoryByID fetches a repository summary by its numeric id.
func (c *InstallationClient) GetRepositoryByID(ctx context.Context, repoID int64) (*github.Repository, error) {
	repo, _, err := c.gh.Repositories.GetByID(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %d: %w", repoID, err)
	}
	return repo, nil
}

// ListInstallationRepos lists one page of repositories the installation can
// access.
func (c *InstallationClient) ListInstallationRepos(ctx context.Context, page, perPage int) ([]*github.Repository, error) {
	repos, _, err := c.gh.Apps.ListRepos(ctx, &github.ListOptions{Page: page, PerPage: perPage})
	if err != nil {
		return nil, err
	}
	return repos.Repositories, nil
}

// ListPullRequests lists one page of pull requests, most recently created
// first.
func (c *InstallationClient) ListPullRequests(ctx context.Context, owner, repo string, page, perPage int) ([]*github.PullRequest, error) {
	prs, _, err := c.gh.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	})
	return prs, err
}

// ListBranches lists one page of branches.
func (c *InstallationClient) ListBranches(ctx context.Context, owner, repo string, page, perPage int) ([]*github.Branch, error) {
	branches, _, err := c.gh.Repositories.ListBranches(ctx, owner, repo, &github.BranchListOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	})
	return branches, err
}

// ListCommits lists one page of commits on the default branch.
func (c *InstallationClient) ListCommits(ctx context.Context, owner, repo string, page, perPage int) ([]*github.RepositoryCommit, error) {
	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	})
	return commits, err
}

// ListWorkflowRuns lists one page of workflow runs (builds).
func (c *InstallationClient) ListWorkflowRuns(ctx context.Context, owner, repo string, page, perPage int) ([]*github.WorkflowRun, error) {
	runs, _, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, &github.ListWorkflowRunsOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	})
	if err != nil {
		return nil, err
	}
	return runs.WorkflowRuns, nil
}

// ListDeployments lists one page of deployments.
func (c *InstallationClient) ListDeployments(ctx context.Context, owner, repo string, page, perPage int) ([]*github.Deployment, error) {
	deployments, _, err := c.gh.Repositories.ListDeployments(ctx, owner, repo, &github.DeploymentsListOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	})
	return deployments, err
}

// ListCodeScanningAlerts lists one page of code scanning alerts.
func (c *InstallationClient) ListCodeScanningAlerts(ctx context.Context, owner, repo string, page, perPage int) ([]*github.Alert, error) {
	alerts, _, err := c.gh.CodeScanning.ListAlertsForRepo(ctx, owner, repo, &github.AlertListOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	})
	return alerts, err
}
