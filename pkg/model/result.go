package model

import "time"

// Outcome is the terminal classification of one node's update attempt.
type Outcome string

const (
	OutcomeUpToDate     Outcome = "up_to_date"
	OutcomeUpdated      Outcome = "updated"
	OutcomeFailed       Outcome = "failed"
	OutcomeNodeNotFound Outcome = "node_not_found"
	OutcomeNodeBusy     Outcome = "node_busy"
)

// Succeeded reports whether the outcome leaves the node on the remote revision.
func (o Outcome) Succeeded() bool {
	return o == OutcomeUpToDate || o == OutcomeUpdated
}

// Result details used by the service surface and alerting.
const (
	DetailRemoteUnavailable = "remote unavailable"
	DetailBackupFailed      = "backup failed"
	DetailRolledBack        = "update failed, rolled back"
	DetailRollbackFailed    = "update failed AND rollback failed"
)

// UpdateResult is the outcome of one node's update attempt. It is a value
// type and is not modified after the executor returns it.
type UpdateResult struct {
	NodeID         string     `json:"node_id"`
	Outcome        Outcome    `json:"outcome"`
	Detail         string     `json:"detail"`
	Reason         string     `json:"reason,omitempty"`
	LocalRevision  RevisionID `json:"local_revision,omitempty"`
	RemoteRevision RevisionID `json:"remote_revision,omitempty"`
	RolledBack     bool       `json:"rolled_back,omitempty"`
	Critical       bool       `json:"critical,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
}

// Duration returns how long the attempt took.
func (r UpdateResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
