// Package cache drops cached product listings once stock has changed.
package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

type Invalidator interface {
	InvalidateProducts(ctx context.Context) error
}

type RedisInvalidator struct {
	client  *redis.Client
	pattern string
	logger  *slog.Logger
}

// NewRedisInvalidator removes keys written by the catalog under keyPrefix.
func NewRedisInvalidator(client *redis.Client, keyPrefix string, logger *slog.Logger) *RedisInvalidator {
	return &RedisInvalidator{
		client:  client,
		pattern: fmt.Sprintf("%s:*products_list_*", keyPrefix),
		logger:  logger.With(slog.String("component", "cache-invalidator")),
	}
}

func (c *RedisInvalidator) InvalidateProducts(ctx context.Context) error {
	var (
		cursor  uint64
		deleted int64
	)

	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scan product cache keys: %w", err)
		}

		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("delete product cache keys: %w", err)
			}
			deleted += n
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Debug("product cache invalidated", slog.Int64("keys", deleted))
	return nil
}

type NoopInvalidator struct{}

func (NoopInvalidator) InvalidateProducts(context.Context) error { return nil }
