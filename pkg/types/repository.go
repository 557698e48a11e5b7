package types

import (
	"time"
)

// Repository is the summary of a GitHub repository kept alongside its sync
// state. Legacy rows may lack it; the scheduler backfills it on first use.
type Repository struct {
	ID        int64
	Name      string
	Owner     string
	FullName  string
	URL       string
	UpdatedAt time.Time
}
