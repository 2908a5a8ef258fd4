package memory

import (
	"context"
	"time"
)

// Handler receives the key that changed and the value that was written.
// Handlers run on the writer's notification path; they must not assume
// any ordering between distinct keys.
type Handler func(key string, value interface{})

// Store is the shared fact memory: latest observed value per
// "{symbol}:{index}[_{interval}]" key, with publish-on-write
// notification and pattern search.
//
// Two implementations exist behind this contract: RedisStore shared by
// every process of a live deployment, and LocalStore isolated per
// backtest run. The evaluator never knows which one it talks to.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, notify bool, ttl time.Duration) error
	SetAll(ctx context.Context, keyValues map[string]interface{}, notify bool) error
	Get(ctx context.Context, key string) (interface{}, error)
	// GetAll maps every requested key; absent keys map to nil, never
	// an error.
	GetAll(ctx context.Context, keys ...string) (map[string]interface{}, error)
	// Search returns all facts whose key matches the glob pattern
	// ("*" when empty).
	Search(ctx context.Context, pattern string) (map[string]interface{}, error)
	Del(ctx context.Context, key string) error
	FlushAll(ctx context.Context) error

	Subscribe(key string, h Handler)
	Unsubscribe(key string)
}
