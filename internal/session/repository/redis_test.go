package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"speech-to-text/backend/internal/session/domain"
)

func TestRedisRepository_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis unavailable: %v", err)
	}

	repo := NewRedisRepository(rdb)
	hash := uuid.NewString()
	exp := time.Now().Add(time.Minute).UTC()
	s := &domain.Session{ID: uuid.NewString(), UserID: "u1", TokenHash: hash, CreatedAt: time.Now().UTC(), ExpiresAt: &exp}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ttl, err := rdb.TTL(ctx, redisKeyPrefix+hash).Result()
	if err != nil || ttl <= 0 {
		t.Errorf("TTL = %v, %v; want positive", ttl, err)
	}

	got, err := repo.GetByTokenHash(ctx, hash)
	if err != nil || got == nil || got.UserID != "u1" {
		t.Fatalf("GetByTokenHash = %+v, %v", got, err)
	}
	if err := repo.UpdateLastSeen(ctx, hash, time.Now()); err != nil {
		t.Fatalf("UpdateLastSeen: %v", err)
	}
	if err := repo.Revoke(ctx, hash, time.Now()); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	got, err = repo.GetByTokenHash(ctx, hash)
	if err != nil || got != nil {
		t.Errorf("after Revoke GetByTokenHash = %+v, %v; want nil, nil", got, err)
	}
	if err := repo.UpdateLastSeen(ctx, hash, time.Now()); err != nil {
		t.Errorf("UpdateLastSeen after revoke: %v", err)
	}
	if n, _ := rdb.Exists(ctx, redisKeyPrefix+hash).Result(); n != 0 {
		t.Error("UpdateLastSeen must not resurrect a revoked session")
	}
}
