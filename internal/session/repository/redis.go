package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"speech-to-text/backend/internal/session/domain"
)

const redisKeyPrefix = "session:"

// RedisRepository stores sessions as JSON values under session:<token hash>.
// Expiring sessions get a matching key TTL; revocation deletes the key.
type RedisRepository struct {
	rdb redis.UniversalClient
	now func() time.Time
}

// NewRedisRepository returns a session repository backed by rdb.
func NewRedisRepository(rdb redis.UniversalClient) *RedisRepository {
	return &RedisRepository{rdb: rdb, now: time.Now}
}

type redisSession struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	ttl := time.Duration(0)
	if s.ExpiresAt != nil {
		ttl = s.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return nil
		}
	}
	payload, err := json.Marshal(redisSession{
		ID: s.ID, UserID: s.UserID, CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt, LastSeenAt: s.LastSeenAt,
	})
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, redisKeyPrefix+s.TokenHash, payload, ttl).Err()
}

func (r *RedisRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	raw, err := r.rdb.Get(ctx, redisKeyPrefix+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rs redisSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:         rs.ID,
		UserID:     rs.UserID,
		TokenHash:  tokenHash,
		CreatedAt:  rs.CreatedAt,
		ExpiresAt:  rs.ExpiresAt,
		LastSeenAt: rs.LastSeenAt,
	}, nil
}

func (r *RedisRepository) Revoke(ctx context.Context, tokenHash string, _ time.Time) error {
	return r.rdb.Del(ctx, redisKeyPrefix+tokenHash).Err()
}

// UpdateLastSeen rewrites the value only while the key still exists, keeping its TTL,
// so it cannot resurrect a session revoked in between.
func (r *RedisRepository) UpdateLastSeen(ctx context.Context, tokenHash string, at time.Time) error {
	s, err := r.GetByTokenHash(ctx, tokenHash)
	if err != nil || s == nil {
		return err
	}
	seen := at
	payload, err := json.Marshal(redisSession{
		ID: s.ID, UserID: s.UserID, CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt, LastSeenAt: &seen,
	})
	if err != nil {
		return err
	}
	err = r.rdb.SetArgs(ctx, redisKeyPrefix+tokenHash, payload, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
