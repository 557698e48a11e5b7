package jira

// IssueKeyLimit is the maximum number of issue-key references the Jira bulk
// APIs accept on a single item or association.
const IssueKeyLimit = 500

// CommitChunkSize is the maximum number of commits per devinfo bulk request.
const CommitChunkSize = 400

// WithinIssueKeyLimit reports whether every commit, branch and pull request
// in the repository payload stays at or under the issue-key limit.
func WithinIssueKeyLimit(repo *DevinfoRepository) bool {
	if repo == nil {
		return true
	}
	for _, c := range repo.Commits {
		if len(c.IssueKeys) > IssueKeyLimit {
			return false
		}
	}
	for _, b := range repo.Branches {
		if len(b.IssueKeys) > IssueKeyLimit {
			return false
		}
		if b.LastCommit != nil && len(b.LastCommit.IssueKeys) > IssueKeyLimit {
			return false
		}
	}
	for _, pr := range repo.PullRequests {
		if len(pr.IssueKeys) > IssueKeyLimit {
			return false
		}
	}
	return true
}

// TruncateIssueKeys slices every issue-key list in the payload down to the
// limit, in place.
func TruncateIssueKeys(repo *DevinfoRepository) {
	updateIssueKeys(repo, truncateKeys)
}

// DedupeIssueKeys removes duplicate issue keys per item, in place. Run before
// counting against the limit so duplicates do not trigger truncation.
func DedupeIssueKeys(repo *DevinfoRepository) {
	updateIssueKeys(repo, uniqueKeys)
}

func updateIssueKeys(repo *DevinfoRepository, fn func([]string) []string) {
	if repo == nil {
		return
	}
	for i := range repo.Commits {
		repo.Commits[i].IssueKeys = fn(repo.Commits[i].IssueKeys)
	}
	for i := range repo.Branches {
		repo.Branches[i].IssueKeys = fn(repo.Branches[i].IssueKeys)
		if repo.Branches[i].LastCommit != nil {
			repo.Branches[i].LastCommit.IssueKeys = fn(repo.Branches[i].LastCommit.IssueKeys)
		}
	}
	for i := range repo.PullRequests {
		repo.PullRequests[i].IssueKeys = fn(repo.PullRequests[i].IssueKeys)
	}
}

// GovernKeys dedupes one issue-key list and caps it at the limit. The second
// result reports whether anything was dropped by the cap.
func GovernKeys(keys []string) ([]string, bool) {
	keys = uniqueKeys(keys)
	if len(keys) <= IssueKeyLimit {
		return keys, false
	}
	return keys[:IssueKeyLimit], true
}

// GovernAssociations dedupes and caps the values of every issue-key
// association. The second result reports whether anything was dropped.
func GovernAssociations(associations []Association) ([]Association, bool) {
	truncated := false
	for i := range associations {
		if associations[i].AssociationType != AssociationTypeIssueKeys {
			continue
		}
		values, dropped := GovernKeys(associations[i].Values)
		associations[i].Values = values
		truncated = truncated || dropped
	}
	return associations, truncated
}

// DedupCommits removes duplicate commits by id, keeping first occurrence.
// Pages can overlap between runs, so the same commit may be seen twice.
func DedupCommits(commits []Commit) []Commit {
	seen := make(map[string]struct{}, len(commits))
	out := commits[:0:0]
	for _, c := range commits {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ChunkCommits dedupes the whole commit list, then splits it into contiguous
// chunks of at most size commits. An empty list yields a single empty chunk
// so the rest of the payload is still submitted.
func ChunkCommits(commits []Commit, size int) [][]Commit {
	deduped := DedupCommits(commits)
	if len(deduped) == 0 {
		return [][]Commit{nil}
	}
	var chunks [][]Commit
	for start := 0; start < len(deduped); start += size {
		end := start + size
		if end > len(deduped) {
			end = len(deduped)
		}
		chunks = append(chunks, deduped[start:end])
	}
	return chunks
}

func truncateKeys(keys []string) []string {
	if len(keys) <= IssueKeyLimit {
		return keys
	}
	return keys[:IssueKeyLimit]
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
