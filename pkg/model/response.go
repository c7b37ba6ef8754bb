package model

import "fmt"

// NodeResponse is the per-node body returned by the HTTP service. Exactly
// one of Message and Error is set; Outcome is always present.
type NodeResponse struct {
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Outcome Outcome `json:"outcome"`
}

// NewNodeResponse renders an update result for the service surface.
func NewNodeResponse(res UpdateResult) NodeResponse {
	id := res.NodeID
	out := NodeResponse{Outcome: res.Outcome}
	switch res.Outcome {
	case OutcomeUpdated:
		out.Message = fmt.Sprintf("Node %s updated successfully.", id)
	case OutcomeUpToDate:
		out.Message = fmt.Sprintf("Node %s is already up to date.", id)
	case OutcomeNodeNotFound:
		out.Error = fmt.Sprintf("Node %s does not exist.", id)
	case OutcomeNodeBusy:
		out.Error = fmt.Sprintf("Node %s is busy: an update is already in progress.", id)
	default:
		switch res.Detail {
		case DetailRolledBack:
			out.Error = fmt.Sprintf("Update failed for %s. Rolled back.", id)
		case DetailRollbackFailed:
			out.Error = fmt.Sprintf("Update failed for %s AND rollback failed.", id)
		case DetailBackupFailed:
			out.Error = fmt.Sprintf("Backup failed for %s. Update skipped.", id)
		case DetailRemoteUnavailable:
			out.Error = fmt.Sprintf("Could not retrieve the latest revision for %s. Update skipped.", id)
		default:
			out.Error = fmt.Sprintf("Update failed for %s: %s.", id, res.Detail)
		}
	}
	return out
}

// Succeeded reports whether the response describes a node left on the
// remote revision.
func (r NodeResponse) Succeeded() bool {
	return r.Outcome.Succeeded()
}
