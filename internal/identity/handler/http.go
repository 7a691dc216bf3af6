// Package handler exposes registration, login and logout over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"speech-to-text/backend/internal/identity/service"
	"speech-to-text/backend/internal/platform/httpx"
	"speech-to-text/backend/internal/server/middleware"
	sessiondomain "speech-to-text/backend/internal/session/domain"
)

// AuthService is the subset of the identity service used by the handlers.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*service.AuthResult, error)
	Login(ctx context.Context, username, password string) (*service.AuthResult, error)
	Logout(ctx context.Context, s *sessiondomain.Session) error
}

// CookieConfig controls the session cookie set on login.
type CookieConfig struct {
	Name   string
	Secure bool
}

// Handler serves /register, /login and /logout.
type Handler struct {
	auth   AuthService
	cookie CookieConfig
}

// NewHandler returns a Handler.
func NewHandler(auth AuthService, cookie CookieConfig) *Handler {
	if cookie.Name == "" {
		cookie.Name = "session_id"
	}
	return &Handler{auth: auth, cookie: cookie}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the session token for clients that prefer the Authorization header.
type LoginResponse struct {
	Result string `json:"result"`
	Token  string `json:"token"`
}

// Register creates an account. Duplicate usernames and invalid input are 400.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrInvalidBody.Error())
		return
	}
	_, err := h.auth.Register(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, httpx.OK)
	case errors.Is(err, service.ErrUsernameTaken), errors.Is(err, service.ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httpx.WriteInternal(w, r, err)
	}
}

// Login verifies credentials, sets the session cookie and returns the token in the body.
// Unknown users and wrong passwords produce the same 401 response; missing fields are a 400.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrInvalidBody.Error())
		return
	}
	res, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			httpx.WriteError(w, http.StatusUnauthorized, service.ErrInvalidCredentials.Error())
		case errors.Is(err, service.ErrValidation):
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			httpx.WriteInternal(w, r, err)
		}
		return
	}
	cookie := &http.Cookie{
		Name:     h.cookie.Name,
		Value:    res.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if res.ExpiresAt != nil {
		cookie.Expires = *res.ExpiresAt
	}
	http.SetCookie(w, cookie)
	httpx.WriteJSON(w, http.StatusOK, LoginResponse{Result: "ok", Token: res.Token})
}

// Logout revokes the caller's session and clears the cookie. Requires an authenticated request.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.auth.Logout(r.Context(), sess); err != nil {
		httpx.WriteInternal(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	httpx.WriteJSON(w, http.StatusOK, httpx.OK)
}
