package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"stockdash/services"
)

const refreshKeyPrefix = "stockdash:refresh:"

// RefreshStore keeps opaque refresh tokens. Consume is single use.
type RefreshStore interface {
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	Consume(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, token string) error
}

// RedisRefreshStore stores refresh tokens as expiring Redis keys
type RedisRefreshStore struct {
	client *redis.Client
}

func NewRedisRefreshStore(client *redis.Client) *RedisRefreshStore {
	return &RedisRefreshStore{client: client}
}

func (s *RedisRefreshStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, refreshKeyPrefix+token, userID, ttl).Err(); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (s *RedisRefreshStore) Consume(ctx context.Context, token string) (string, error) {
	userID, err := s.client.GetDel(ctx, refreshKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("refresh token not found: %w", services.ErrUnauthorized)
	}
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	return userID, nil
}

func (s *RedisRefreshStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, refreshKeyPrefix+token).Err()
}

type refreshEntry struct {
	userID    string
	expiresAt time.Time
}

// MemoryRefreshStore is the in-process fallback when Redis is disabled
type MemoryRefreshStore struct {
	mu      sync.Mutex
	entries map[string]refreshEntry
	now     func() time.Time
}

func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{entries: make(map[string]refreshEntry), now: time.Now}
}

func (s *MemoryRefreshStore) Save(_ context.Context, token, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = refreshEntry{userID: userID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryRefreshStore) Consume(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	delete(s.entries, token)
	if !ok || s.now().After(entry.expiresAt) {
		return "", fmt.Errorf("refresh token not found: %w", services.ErrUnauthorized)
	}
	return entry.userID, nil
}

func (s *MemoryRefreshStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
	return nil
}
