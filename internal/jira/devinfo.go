package jira

// Payload shapes for the Jira development-information, builds, deployments
// and remote-links bulk APIs. Only the fields the backfill produces are
// modelled.

// DevinfoRepository is one repository's worth of development information.
type DevinfoRepository struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	URL              string        `json:"url"`
	UpdateSequenceID int64         `json:"updateSequenceId"`
	Commits          []Commit      `json:"commits,omitempty"`
	Branches         []Branch      `json:"branches,omitempty"`
	PullRequests     []PullRequest `json:"pullRequests,omitempty"`
}

type Commit struct {
	ID               string   `json:"id"`
	DisplayID        string   `json:"displayId"`
	Hash             string   `json:"hash"`
	Message          string   `json:"message"`
	AuthorTimestamp  string   `json:"authorTimestamp"`
	FileCount        int      `json:"fileCount"`
	URL              string   `json:"url"`
	UpdateSequenceID int64    `json:"updateSequenceId"`
	IssueKeys        []string `json:"issueKeys"`
}

type Branch struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	URL                  string   `json:"url"`
	CreatePullRequestURL string   `json:"createPullRequestUrl,omitempty"`
	LastCommit           *Commit  `json:"lastCommit,omitempty"`
	UpdateSequenceID     int64    `json:"updateSequenceId"`
	IssueKeys            []string `json:"issueKeys"`
}

type PullRequest struct {
	ID                string   `json:"id"`
	DisplayID         string   `json:"displayId"`
	Title             string   `json:"title"`
	Status            string   `json:"status"`
	Author            string   `json:"author,omitempty"`
	SourceBranch      string   `json:"sourceBranch"`
	DestinationBranch string   `json:"destinationBranch,omitempty"`
	URL               string   `json:"url"`
	LastUpdate        string   `json:"lastUpdate"`
	CommentCount      int      `json:"commentCount"`
	UpdateSequenceID  int64    `json:"updateSequenceId"`
	IssueKeys         []string `json:"issueKeys"`
}

// Build is one CI run for the builds bulk API.
type Build struct {
	PipelineID           string   `json:"pipelineId"`
	BuildNumber          int64    `json:"buildNumber"`
	DisplayName          string   `json:"displayName"`
	State                string   `json:"state"`
	LastUpdated          string   `json:"lastUpdated"`
	URL                  string   `json:"url"`
	UpdateSequenceNumber int64    `json:"updateSequenceNumber"`
	IssueKeys            []string `json:"issueKeys"`
}

// Association links a deployment or remote link to a set of issues.
type Association struct {
	AssociationType string   `json:"associationType"`
	Values          []string `json:"values"`
}

// AssociationTypeIssueKeys is the association type carrying issue keys.
const AssociationTypeIssueKeys = "issueIdOrKeys"

// Deployment is one deployment for the deployments bulk API.
type Deployment struct {
	DeploymentSequenceNumber int64         `json:"deploymentSequenceNumber"`
	UpdateSequenceNumber     int64         `json:"updateSequenceNumber"`
	DisplayName              string        `json:"displayName"`
	URL                      string        `json:"url"`
	Description              string        `json:"description,omitempty"`
	State                    string        `json:"state"`
	LastUpdated              string        `json:"lastUpdated"`
	Pipeline                 Pipeline      `json:"pipeline"`
	Environment              Environment   `json:"environment"`
	Associations             []Association `json:"associations"`
}

type Pipeline struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	URL         string `json:"url"`
}

type Environment struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
}

// RemoteLink is one security-alert style link for the remote links bulk API.
type RemoteLink struct {
	ID                   string        `json:"id"`
	DisplayName          string        `json:"displayName"`
	URL                  string        `json:"url"`
	Type                 string        `json:"type"`
	Description          string        `json:"description,omitempty"`
	Status               *LinkStatus   `json:"status,omitempty"`
	LastUpdated          string        `json:"lastUpdated"`
	UpdateSequenceNumber int64         `json:"updateSequenceNumber"`
	Associations         []Association `json:"associations"`
}

type LinkStatus struct {
	Appearance string `json:"appearance"`
	Label      string `json:"label"`
}

// Payload is the downstream-shaped output of one task page. At most one of
// the fields is populated, matching the task type that produced it.
type Payload struct {
	Repository  *DevinfoRepository
	Builds      []Build
	Deployments []Deployment
	RemoteLinks []RemoteLink
}

// Empty reports whether there is nothing to submit.
func (p *Payload) Empty() bool {
	if p == nil {
		return true
	}
	return p.Repository == nil && len(p.Builds) == 0 && len(p.Deployments) == 0 && len(p.RemoteLinks) == 0
}
