package domain

import (
	"errors"
	"strings"
	"time"
)

// MaxUsernameLength bounds usernames accepted at registration.
const MaxUsernameLength = 64

// User is a registered account. Users are never mutated or deleted after creation.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// NormalizeUsername trims surrounding whitespace. Usernames are otherwise case-sensitive.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Username == "" {
		return errors.New("username is required")
	}
	if len(u.Username) > MaxUsernameLength {
		return errors.New("username is too long")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
