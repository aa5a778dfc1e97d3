package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userStateKeyPattern = "user:state:%d"
	defaultStateTTL     = time.Hour
)

// RedisStorage persists user states in Redis. States expire after ttl so an abandoned
// conversation falls back to idle on its own.
type RedisStorage struct {
	client redis.UniversalClient
	log    *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStorage initializes a Redis-backed Storage implementation.
func NewRedisStorage(client redis.UniversalClient, ttl time.Duration, log *slog.Logger) *RedisStorage {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}

	return &RedisStorage{
		client: client,
		log:    log,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetState returns the stored user state or ErrStateNotFound when absent.
func (s *RedisStorage) GetState(ctx context.Context, userID int64) (*UserState, error) {
	data, err := s.client.Get(ctx, redisUserStateKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}

		s.log.ErrorContext(ctx, "failed to get state from redis", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, err
	}

	var state UserState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.ErrorContext(ctx, "failed to decode user state", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, err
	}

	return &state, nil
}

func (s *RedisStorage) SetState(ctx context.Context, userID int64, state *UserState) error {
	state.UpdatedAt = s.now()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode user state: %w", err)
	}

	if err := s.client.Set(ctx, redisUserStateKey(userID), data, s.ttl).Err(); err != nil {
		s.log.ErrorContext(ctx, "failed to save state in redis", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}

	return nil
}

func (s *RedisStorage) ClearState(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, redisUserStateKey(userID)).Err(); err != nil {
		s.log.ErrorContext(ctx, "failed to clear user state", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}

	return nil
}

func redisUserStateKey(userID int64) string {
	return fmt.Sprintf(userStateKeyPattern, userID)
}
