package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"speech-to-text/backend/internal/platform/httpx"
	sessiondomain "speech-to-text/backend/internal/session/domain"
	sessionservice "speech-to-text/backend/internal/session/service"
)

const bearerPrefix = "bearer "

// SessionResolver resolves an opaque token to an active session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*sessiondomain.Session, error)
}

// RequireSession rejects requests without a valid session token with 401 and puts the
// session into the context otherwise. The token is read from the Authorization Bearer header,
// then from the cookie named cookieName; the first one that resolves wins.
func RequireSession(sessions SessionResolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, token := range candidateTokens(r, cookieName) {
				s, err := sessions.Resolve(r.Context(), token)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
					return
				}
				if !errors.Is(err, sessionservice.ErrInvalidSession) {
					httpx.WriteInternal(w, r, err)
					return
				}
			}
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func candidateTokens(r *http.Request, cookieName string) []string {
	var out []string
	if t := extractBearer(r.Header.Get("Authorization")); t != "" {
		out = append(out, t)
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		out = append(out, c.Value)
	}
	return out
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
