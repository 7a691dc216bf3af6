package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"speech-to-text/backend/internal/security"
	sessiondomain "speech-to-text/backend/internal/session/domain"
	userdomain "speech-to-text/backend/internal/user/domain"
	userrepo "speech-to-text/backend/internal/user/repository"
)

// Sentinel errors for auth service; handler maps them to HTTP status codes.
var (
	ErrUsernameTaken      = errors.New("username already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrValidation         = errors.New("validation failed")
)

// Audit actions recorded by the auth service.
const (
	ActionRegister     = "register"
	ActionLoginSuccess = "login_success"
	ActionLoginFailure = "login_failure"
	ActionLogout       = "logout"
)

// AuthResult holds the outcome of Register (UserID only) or Login (token and session too).
type AuthResult struct {
	UserID    string
	Token     string
	SessionID string
	ExpiresAt *time.Time
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByUsername(ctx context.Context, username string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// Sessions is the part of the session manager the auth service needs.
type Sessions interface {
	Issue(ctx context.Context, userID string) (string, *sessiondomain.Session, error)
	Revoke(ctx context.Context, s *sessiondomain.Session) error
}

// AuditLogger records auth events. Best-effort.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// AuthService implements register, credential verification, login and logout.
type AuthService struct {
	userRepo UserRepo
	sessions Sessions
	hasher   *security.Hasher
	audit    AuditLogger
}

// NewAuthService returns an AuthService with the given dependencies. audit may be nil.
func NewAuthService(userRepo UserRepo, sessions Sessions, hasher *security.Hasher, audit AuditLogger) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		sessions: sessions,
		hasher:   hasher,
		audit:    audit,
	}
}

// Register creates a user with the given username and password.
// Returns ErrValidation for malformed input and ErrUsernameTaken when the name exists.
func (s *AuthService) Register(ctx context.Context, username, password string) (*AuthResult, error) {
	username = userdomain.NormalizeUsername(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}
	existing, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hashed,
		CreatedAt:    time.Now().UTC(),
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	// The existence check above is advisory; the repository decides under concurrency.
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrDuplicateUsername) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	s.logEvent(ctx, user.ID, ActionRegister, "user")
	return &AuthResult{UserID: user.ID}, nil
}

// Verify checks username and password. Unknown users and wrong passwords both return
// ErrInvalidCredentials after comparable bcrypt work; a missing field returns ErrValidation.
func (s *AuthService) Verify(ctx context.Context, username, password string) (string, error) {
	username = userdomain.NormalizeUsername(username)
	if username == "" || password == "" {
		return "", fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if user == nil {
		s.hasher.CompareDummy([]byte(password))
		return "", ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return user.ID, nil
}

// Login verifies credentials and issues a new session token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	userID, err := s.Verify(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.logEvent(ctx, "", ActionLoginFailure, "session")
		}
		return nil, err
	}
	token, sess, err := s.sessions.Issue(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, userID, ActionLoginSuccess, "session")
	return &AuthResult{
		UserID:    userID,
		Token:     token,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// Logout revokes the given session.
func (s *AuthService) Logout(ctx context.Context, sess *sessiondomain.Session) error {
	if err := s.sessions.Revoke(ctx, sess); err != nil {
		return err
	}
	s.logEvent(ctx, sess.UserID, ActionLogout, "session")
	return nil
}

func (s *AuthService) logEvent(ctx context.Context, userID, action, resource string) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, userID, action, resource, "")
}

func validateCredentials(username, password string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if len(username) > userdomain.MaxUsernameLength {
		return fmt.Errorf("%w: username must be at most %d characters", ErrValidation, userdomain.MaxUsernameLength)
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	if len(password) > security.MaxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, security.MaxPasswordBytes)
	}
	return nil
}
