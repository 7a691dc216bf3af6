package middleware

import (
	"context"

	sessiondomain "speech-to-text/backend/internal/session/domain"
)

type contextKey struct{ name string }

var (
	sessionKey       = contextKey{"session"}
	sessionHolderKey = contextKey{"session_holder"}
	clientIPKey      = contextKey{"client_ip"}
)

// sessionHolder lets an outer middleware see the session attached further down the chain.
type sessionHolder struct {
	session *sessiondomain.Session
}

func withSessionHolder(ctx context.Context, h *sessionHolder) context.Context {
	return context.WithValue(ctx, sessionHolderKey, h)
}

// WithSession returns a context carrying the authenticated session.
func WithSession(ctx context.Context, s *sessiondomain.Session) context.Context {
	if h, ok := ctx.Value(sessionHolderKey).(*sessionHolder); ok {
		h.session = s
	}
	return context.WithValue(ctx, sessionKey, s)
}

// GetSession returns the authenticated session and true if set; otherwise nil, false.
func GetSession(ctx context.Context) (*sessiondomain.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*sessiondomain.Session)
	return s, ok && s != nil
}

// GetUserID returns the authenticated user id and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	s, ok := GetSession(ctx)
	if !ok {
		return "", false
	}
	return s.UserID, true
}

// GetSessionID returns the authenticated session id and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	s, ok := GetSession(ctx)
	if !ok {
		return "", false
	}
	return s.ID, true
}

// WithClientIP returns a context carrying the caller's IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the IP stored by the ClientIP middleware, or "" if none.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}
