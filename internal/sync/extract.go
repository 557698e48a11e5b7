package sync

import "regexp"

var issueKeyPattern = regexp.MustCompile(`[A-Z][A-Z0-9]+-\d+`)

// ExtractIssueKeys finds Jira issue keys in the given texts, deduplicated in
// order of first appearance.
func ExtractIssueKeys(texts ...string) []string {
	var keys []string
	seen := make(map[string]struct{})
	for _, text := range texts {
		for _, key := range issueKeyPattern.FindAllString(text, -1) {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}
