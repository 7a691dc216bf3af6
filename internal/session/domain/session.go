package domain

import "time"

// Session binds an opaque bearer token to a user. Only the token hash is stored;
// UserID never changes after creation.
type Session struct {
	ID         string
	UserID     string
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  *time.Time // nil when the session never expires
	RevokedAt  *time.Time // nil when not revoked
	LastSeenAt *time.Time
}

// Active reports whether the session may still authenticate requests at now.
func (s *Session) Active(now time.Time) bool {
	if s == nil || s.RevokedAt != nil {
		return false
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return false
	}
	return true
}
