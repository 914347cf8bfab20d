package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const refreshKeyPrefix = "auth:refresh:"

// RedisTokenStore keeps refresh tokens in Redis. Expiry is enforced by
// key TTL, so expired records vanish on their own and PurgeExpired is a
// no-op; validation still checks expires_at explicitly.
type RedisTokenStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, now: time.Now}
}

func (s *RedisTokenStore) key(value string) string { return refreshKeyPrefix + value }

func (s *RedisTokenStore) Create(ctx context.Context, t *Token) error {
	if t.Type != TokenTypeRefresh {
		return fmt.Errorf("redis token store: unsupported token type %q", t.Type)
	}
	ttl := t.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("redis token store: token already expired")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return s.client.Set(ctx, s.key(t.Value), data, ttl).Err()
}

func (s *RedisTokenStore) FindRefresh(ctx context.Context, value string) (*Token, error) {
	data, err := s.client.Get(ctx, s.key(value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &t, nil
}

func (s *RedisTokenStore) Revoke(ctx context.Context, value, byIP string) error {
	t, err := s.FindRefresh(ctx, value)
	if err != nil {
		return err
	}
	if t.Revoked {
		return nil
	}
	t.Revoked = true
	t.RevokedByIP = byIP

	// Recompute the TTL from the record's own expiry. KEEPTTL on a key
	// that expired between the read and the write would recreate it with
	// no TTL at all.
	ttl := t.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		_ = s.client.Del(ctx, s.key(value)).Err()
		return ErrNotFound
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return s.client.Set(ctx, s.key(value), data, ttl).Err()
}

func (s *RedisTokenStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
