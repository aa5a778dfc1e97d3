package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds in-flight markers. Release only removes a marker still owned by token.
type Store interface {
	Lock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisStore struct {
	client redis.UniversalClient
	log    *slog.Logger
}

func NewRedisStore(client redis.UniversalClient, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{
		client: client,
		log:    log,
	}
}

func (s *RedisStore) Lock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	acquired, err := s.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		s.log.Error("failed to acquire idempotency lock", slog.String("key", key), slog.Any("error", err))
		return false, err
	}

	return acquired, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{lockKey(key)}, token).Err(); err != nil {
		s.log.Error("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
		return err
	}

	return nil
}

func lockKey(key string) string {
	return fmt.Sprintf("idempotency:%s:lock", key)
}

// MemoryStore is the single-process Store used with the in-memory database driver.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

type memoryLock struct {
	token     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]memoryLock),
		now:   time.Now,
	}
}

func (s *MemoryStore) Lock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if held, ok := s.locks[key]; ok && now.Before(held.expiresAt) {
		return false, nil
	}
	s.locks[key] = memoryLock{token: token, expiresAt: now.Add(ttl)}

	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.locks[key]; ok && held.token == token {
		delete(s.locks, key)
	}

	return nil
}
