package repository

import (
	"context"
	"time"

	"speech-to-text/backend/internal/session/domain"
)

// Repository defines persistence for sessions, keyed by token hash.
// GetByTokenHash returns (nil, nil) when no session matches.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	Revoke(ctx context.Context, tokenHash string, at time.Time) error
	UpdateLastSeen(ctx context.Context, tokenHash string, at time.Time) error
}
