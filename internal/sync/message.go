package sync

import "time"

// Message identifies one installation backfill job. It is the payload carried
// between scheduler invocations of the same backfill.
type Message struct {
	InstallationID int64     `json:"installationId"`
	JiraHost       string    `json:"jiraHost"`
	StartTime      time.Time `json:"startTime"`
}

// Outcome tells the caller whether to run the scheduler again for this
// installation, and after how long. A zero Outcome means the backfill is over
// (complete, failed or no longer subscribed).
type Outcome struct {
	Requeue            bool  `json:"requeue"`
	RequeueDelayMillis int64 `json:"requeueDelayMillis"`
}
