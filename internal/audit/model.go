// Package audit provides audit logging for admin operations, tracking who
// changed detective visibility and when for compliance and incident response.
package audit

import (
	"time"
)

// AuditLog represents a single audit event in the system.
type AuditLog struct {
	ID         string
	UserID     string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string // "success" or "failure"
	CreatedAt  time.Time

	// Optional metadata
	RequestID string
	IPAddress string
	UserAgent string
}

// LogEntry represents the input for creating an audit log entry.
type LogEntry struct {
	UserID     string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string // "success" or "failure"

	// Optional metadata
	RequestID string
	IPAddress string
	UserAgent string
}
