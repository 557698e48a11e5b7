package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/githubapp"
	"github.com/clintrovert/praxis/internal/jira"
)

// pageSizeLadder is the sequence of page sizes tried when GitHub rejects a
// page as too expensive. A failure at size one is terminal.
var pageSizeLadder = []int{20, 10, 5, 1}

// PageResult is the output of fetching and transforming one page.
type PageResult struct {
	// Payload holds the items that reference Jira issues, ready to submit.
	// Nil when nothing on the page referenced an issue.
	Payload *jira.Payload
	// Edges is the raw number of items on the page, before filtering. It
	// drives pagination, so pages of unlinked items still advance the cursor.
	Edges int
}

// ProcessFunc fetches one page at the cursor's position and size.
type ProcessFunc func(ctx context.Context, cursor PageCursor) (*PageResult, error)

// runPage executes process at the cursor, degrading the page size when GitHub
// reports the request was too large. Returns the result together with the
// cursor actually used, which may be a rescaled copy of the input.
func runPage(ctx context.Context, cursor PageCursor, process ProcessFunc, logger *zap.Logger) (*PageResult, PageCursor, error) {
	for i, size := range pageSizeLadder {
		scaled := cursor.Scale(size)
		result, err := process(ctx, scaled)
		if err == nil {
			return result, scaled, nil
		}
		if i == len(pageSizeLadder)-1 || !githubapp.IsRetryableWithSmallerRequest(err) {
			return nil, scaled, err
		}
		logger.Warn("page too large, retrying with smaller page size",
			zap.Int("perPage", size),
			zap.Int("nextPerPage", pageSizeLadder[i+1]),
			zap.Error(err),
		)
	}
	// Unreachable, the ladder always returns on its last rung.
	return nil, cursor, nil
}
