package rediscache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"hydra_bot/internal/memory"
	"hydra_bot/internal/modules/config"
)

func Module() fx.Option {
	return fx.Module("rediscache",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				if err := client.Ping(ctx).Err(); err != nil {
					return nil, fmt.Errorf("failed to reach redis: %w", err)
				}
				return client, nil
			},
			func(client *redis.Client) *memory.RedisStore {
				return memory.NewRedisStore(client)
			},
			func(store *memory.RedisStore) memory.Store { return store },
		),
	)
}
