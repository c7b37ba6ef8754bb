package model

import "time"

// AuditRecord is a single line in the update log.
type AuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}
