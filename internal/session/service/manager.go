// Package service issues, resolves and revokes opaque session tokens.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"speech-to-text/backend/internal/security"
	"speech-to-text/backend/internal/session/domain"
	"speech-to-text/backend/internal/session/repository"
)

// ErrInvalidSession is returned by Resolve for empty, unknown, revoked or expired tokens.
var ErrInvalidSession = errors.New("invalid session")

// Manager implements the session lifecycle on top of a Repository.
type Manager struct {
	repo repository.Repository
	ttl  time.Duration
	nowF func() time.Time
}

// NewManager returns a Manager. ttl <= 0 issues sessions that never expire.
func NewManager(repo repository.Repository, ttl time.Duration) *Manager {
	return &Manager{repo: repo, ttl: ttl, nowF: time.Now}
}

// Issue creates a session for userID and returns the raw token together with the stored session.
// The raw token is not persisted anywhere.
func (m *Manager) Issue(ctx context.Context, userID string) (string, *domain.Session, error) {
	if userID == "" {
		return "", nil, errors.New("session: user id is required")
	}
	token, err := security.NewSessionToken()
	if err != nil {
		return "", nil, err
	}
	now := m.nowF().UTC()
	s := &domain.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: security.HashSessionToken(token),
		CreatedAt: now,
	}
	if m.ttl > 0 {
		exp := now.Add(m.ttl)
		s.ExpiresAt = &exp
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return "", nil, err
	}
	return token, s, nil
}

// Resolve maps a raw token to its active session.
func (m *Manager) Resolve(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	hash := security.HashSessionToken(token)
	s, err := m.repo.GetByTokenHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	now := m.nowF().UTC()
	if s == nil || !s.Active(now) {
		return nil, ErrInvalidSession
	}
	if err := m.repo.UpdateLastSeen(ctx, hash, now); err != nil {
		log.Warn("session: update last seen failed", "session_id", s.ID, "err", err)
	}
	return s, nil
}

// Revoke invalidates s. Later Resolve calls with its token return ErrInvalidSession.
func (m *Manager) Revoke(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return ErrInvalidSession
	}
	return m.repo.Revoke(ctx, s.TokenHash, m.nowF().UTC())
}
