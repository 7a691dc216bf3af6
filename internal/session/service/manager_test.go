package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"speech-to-text/backend/internal/session/domain"
	"speech-to-text/backend/internal/session/repository"
)

func TestManager_IssueAndResolve(t *testing.T) {
	repo := repository.NewMemoryRepository()
	m := NewManager(repo, 0)
	ctx := context.Background()

	token, s, err := m.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("Issue returned empty token")
	}
	if s.TokenHash == token {
		t.Error("session must store the token hash, not the raw token")
	}
	if s.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil with ttl 0", s.ExpiresAt)
	}

	got, err := m.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "user-1")
	}
	if got.ID != s.ID {
		t.Errorf("ID = %q, want %q", got.ID, s.ID)
	}
}

func TestManager_ResolveInvalid(t *testing.T) {
	m := NewManager(repository.NewMemoryRepository(), 0)
	ctx := context.Background()
	for _, token := range []string{"", "garbage", "another-unknown-token"} {
		if _, err := m.Resolve(ctx, token); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("Resolve(%q) err = %v, want ErrInvalidSession", token, err)
		}
	}
}

func TestManager_Revoke(t *testing.T) {
	m := NewManager(repository.NewMemoryRepository(), 0)
	ctx := context.Background()
	token, s, _ := m.Issue(ctx, "user-1")
	other, _, _ := m.Issue(ctx, "user-1")

	if err := m.Revoke(ctx, s); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Resolve(ctx, token); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Resolve revoked err = %v, want ErrInvalidSession", err)
	}
	if _, err := m.Resolve(ctx, other); err != nil {
		t.Errorf("other session should stay valid: %v", err)
	}
}

func TestManager_Expiry(t *testing.T) {
	m := NewManager(repository.NewMemoryRepository(), time.Hour)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.nowF = func() time.Time { return now }
	ctx := context.Background()

	token, s, err := m.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if s.ExpiresAt == nil || !s.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("ExpiresAt = %v, want %v", s.ExpiresAt, now.Add(time.Hour))
	}
	if _, err := m.Resolve(ctx, token); err != nil {
		t.Fatalf("Resolve before expiry: %v", err)
	}
	now = now.Add(time.Hour)
	if _, err := m.Resolve(ctx, token); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Resolve after expiry err = %v, want ErrInvalidSession", err)
	}
}

func TestManager_TokensAreUnique(t *testing.T) {
	m := NewManager(repository.NewMemoryRepository(), 0)
	ctx := context.Background()
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, _, err := m.Issue(ctx, "user-1")
			if err != nil {
				t.Errorf("Issue: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[token] {
				t.Errorf("duplicate token %q", token)
			}
			seen[token] = true
		}()
	}
	wg.Wait()
}

type failingRepo struct{ repository.Repository }

func (failingRepo) GetByTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	return nil, errors.New("store down")
}

func TestManager_ResolveStoreError(t *testing.T) {
	m := NewManager(failingRepo{}, 0)
	_, err := m.Resolve(context.Background(), "token")
	if err == nil || errors.Is(err, ErrInvalidSession) {
		t.Errorf("store failure should surface as a non-session error, got %v", err)
	}
}

func TestManager_IssueRequiresUser(t *testing.T) {
	m := NewManager(repository.NewMemoryRepository(), 0)
	if _, _, err := m.Issue(context.Background(), ""); err == nil {
		t.Error("Issue with empty user id should fail")
	}
}
