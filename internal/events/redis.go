package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"photoflow/internal/config"
)

// Connect opens the redis connection backing the ingestion event stream.
// The same client serves the health probe.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}
