package types

import (
	"time"
)

// SyncStatus is the installation-level backfill status.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "PENDING"
	SyncStatusActive   SyncStatus = "ACTIVE"
	SyncStatusComplete SyncStatus = "COMPLETE"
	SyncStatusFailed   SyncStatus = "FAILED"
)

// Subscription pairs one GitHub app installation with one Jira host. It is
// created when the app is installed and removed on uninstall; every backfill
// job reads it.
type Subscription struct {
	ID             int64
	InstallationID int64
	JiraHost       string
	SyncStatus     SyncStatus
	SyncWarning    string
	SyncedRepos    int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
