package githubapp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
)

// RateLimitReset reports whether err is a primary rate limit from GitHub and
// returns the instant at which the limit resets.
func RateLimitReset(err error) (time.Time, bool) {
	var rateLimited *github.RateLimitError
	if errors.As(err, &rateLimited) {
		return rateLimited.Rate.Reset.Time, true
	}
	return time.Time{}, false
}

// IsAbuseLimit reports whether GitHub flagged the traffic as abusive
// (secondary rate limit).
func IsAbuseLimit(err error) bool {
	var abuse *github.AbuseRateLimitError
	return errors.As(err, &abuse)
}

// IsTimeout reports whether the request failed on the client-side request
// timeout or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNotFound reports whether GitHub answered 404, which during a backfill
// means the repository was deleted after discovery.
func IsNotFound(err error) bool {
	var resp *github.ErrorResponse
	return errors.As(err, &resp) && resp.Response != nil && resp.Response.StatusCode == http.StatusNotFound
}

// IsRetryableWithSmallerRequest reports whether every sub-error attached to
// the response is of the "result too large" class, in which case the same
// query can be retried with a smaller page size.
func IsRetryableWithSmallerRequest(err error) bool {
	var resp *github.ErrorResponse
	if !errors.As(err, &resp) || len(resp.Errors) == 0 {
		return false
	}
	for _, sub := range resp.Errors {
		if !isIgnorableSubError(sub) {
			return false
		}
	}
	return true
}

func isIgnorableSubError(e github.Error) bool {
	return e.Code == "MAX_NODE_LIMIT_EXCEEDED" ||
		strings.HasPrefix(e.Message, "Something went wrong while executing your query")
}
