// Package usercache caches delivery addresses so the notification consumer rarely touches the database.
package usercache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache provides Redis-backed caching of chat ids keyed by user id.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCache constructs a chat-id cache backed by the provided Redis client.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// ChatID fetches a cached chat id. ok is false on a miss.
func (c *Cache) ChatID(ctx context.Context, userID int64) (chatID int64, ok bool, err error) {
	if c == nil || c.client == nil {
		return 0, false, nil
	}

	raw, err := c.client.Get(ctx, cacheKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get cached chat id: %w", err)
	}

	chatID, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode cached chat id: %w", err)
	}

	return chatID, true, nil
}

// SetChatID stores the chat id for the configured TTL.
func (c *Cache) SetChatID(ctx context.Context, userID, chatID int64) error {
	if c == nil || c.client == nil {
		return nil
	}

	if err := c.client.Set(ctx, cacheKey(userID), strconv.FormatInt(chatID, 10), c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached chat id: %w", err)
	}

	return nil
}

// Invalidate removes the cached entry if it exists.
func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}

	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete cached chat id: %w", err)
	}

	return nil
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("chat:%d", userID)
}
