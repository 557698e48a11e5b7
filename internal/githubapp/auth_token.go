package githubapp

import (
	"time"
)

// ExpirationSafetyMargin is how long before its real expiry a token is
// treated as expired, so renewal happens proactively rather than on a 401.
const ExpirationSafetyMargin = time.Minute

// AuthToken is a credential for the GitHub API together with its expiry.
// Immutable once created.
type AuthToken struct {
	Token     string
	ExpiresAt time.Time
}

// AboutToExpire reports whether the token is within the safety margin of its
// expiry at the given instant.
func (t AuthToken) AboutToExpire(now time.Time) bool {
	return !now.Add(ExpirationSafetyMargin).Before(t.ExpiresAt)
}

// Clock abstracts time.Now so expiry boundaries are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the Clock used outside of tests.
var SystemClock Clock = systemClock{}
