package model

import "time"

// LockState is what a node's lease file says about the node right now.
type LockState string

const (
	LockStateFree    LockState = "free"
	LockStateHeld    LockState = "held"
	LockStateExpired LockState = "expired"
)

// LockPolicy sets how long an acquired lease stays valid.
type LockPolicy struct {
	LeaseTTL time.Duration `json:"lease_ttl"`
}

// LockRecord is the lease written to <workingPath>.lock by the process
// updating that node.
type LockRecord struct {
	NodeID      string    `json:"node_id"`
	HolderNonce string    `json:"holder_nonce"`
	PID         int       `json:"pid"`
	Purpose     string    `json:"purpose,omitempty"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired reports whether the lease ran out before now.
func (l *LockRecord) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
