package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const processedEventPrefix = "webhook:processed:"

// EventCache remembers provider event ids that were already applied.
// It is a fast path only; database uniqueness stays authoritative.
type EventCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewEventCache(client *goredis.Client, ttl time.Duration) *EventCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EventCache{client: client, ttl: ttl}
}

func (c *EventCache) Seen(ctx context.Context, eventID string) (bool, error) {
	if c.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, nil
	}

	_, err := c.client.Get(ctx, processedEventPrefix+eventID).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read processed event: %w", err)
	}
	return true, nil
}

func (c *EventCache) Remember(ctx context.Context, eventID string) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil
	}

	if err := c.client.Set(ctx, processedEventPrefix+eventID, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("store processed event: %w", err)
	}
	return nil
}
