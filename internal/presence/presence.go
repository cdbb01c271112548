package presence

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps the online/offline state of upstream users. The memory
// implementation is per-instance; the Redis one lets several gateway
// instances agree on presence.
type Store interface {
	Set(ctx context.Context, userID string, online bool) error
	Online(ctx context.Context, userID string) (bool, error)
	Snapshot(ctx context.Context) ([]string, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{online: make(map[string]struct{})}
}

func (s *MemoryStore) Set(_ context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if online {
		s.online[userID] = struct{}{}
	} else {
		delete(s.online, userID)
	}
	return nil
}

func (s *MemoryStore) Online(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok, nil
}

func (s *MemoryStore) Snapshot(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	return out, nil
}

// RedisStore mirrors presence into TTL'd keys so stale entries expire on
// their own when an instance dies without cleaning up.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl == 0 {
		ttl = 90 * time.Second
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + ":presence:" + userID
}

func (s *RedisStore) Set(ctx context.Context, userID string, online bool) error {
	if online {
		return s.client.Set(ctx, s.key(userID), "1", s.ttl).Err()
	}
	return s.client.Del(ctx, s.key(userID)).Err()
}

func (s *RedisStore) Online(ctx context.Context, userID string) (bool, error) {
	_, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) Snapshot(ctx context.Context) ([]string, error) {
	pattern := s.prefix + ":presence:*"
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		out = append(out, key[len(s.prefix)+len(":presence:"):])
	}
	return out, iter.Err()
}
