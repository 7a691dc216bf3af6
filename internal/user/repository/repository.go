package repository

import (
	"context"
	"errors"

	"speech-to-text/backend/internal/user/domain"
)

// ErrDuplicateUsername is returned by Create when the username is already registered.
var ErrDuplicateUsername = errors.New("username already registered")

// Repository defines persistence for users. Get methods return (nil, nil) when no user matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	// Create inserts u atomically; a concurrent or prior user with the same username yields ErrDuplicateUsername.
	Create(ctx context.Context, u *domain.User) error
}
