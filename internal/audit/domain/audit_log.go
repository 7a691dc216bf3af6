package domain

import "time"

// AuditLog represents an audit event. UserID is empty for anonymous events such as failed logins.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
