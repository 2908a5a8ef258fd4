package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"hydra_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// RedisStore is the live fact memory, shared out-of-process so that
// every monitor and engine instance observes the same facts. Values
// are stored as JSON; notification rides redis pub/sub with the fact
// key as the channel.
type RedisStore struct {
	client *redis.Client

	mu       sync.Mutex
	handlers map[string][]Handler
	sub      *redis.PubSub
	cancel   context.CancelFunc
}

func NewRedisStore(client *redis.Client) *RedisStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &RedisStore{
		client:   client,
		handlers: make(map[string][]Handler),
		sub:      client.Subscribe(ctx),
		cancel:   cancel,
	}
	go s.dispatch(ctx)

	logger.Info("Redis memory started!")
	return s
}

func (s *RedisStore) Close() {
	s.cancel()
	_ = s.sub.Close()
}

func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, notify bool, ttl time.Duration) error {
	raw, err := sonic.Marshal(value)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return err
	}

	if notify {
		return s.client.Publish(ctx, key, raw).Err()
	}
	return nil
}

func (s *RedisStore) SetAll(ctx context.Context, keyValues map[string]interface{}, notify bool) error {
	pairs := make([]interface{}, 0, len(keyValues)*2)
	raws := make(map[string][]byte, len(keyValues))
	for k, v := range keyValues {
		raw, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		raws[k] = raw
		pairs = append(pairs, k, raw)
	}

	if err := s.client.MSet(ctx, pairs...).Err(); err != nil {
		return err
	}

	if notify {
		for k, raw := range raws {
			if err := s.client.Publish(ctx, k, raw).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (interface{}, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (s *RedisStore) GetAll(ctx context.Context, keys ...string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, k := range keys {
		switch v := values[i].(type) {
		case nil:
			out[k] = nil
		case string:
			decoded, err := decode([]byte(v))
			if err != nil {
				return nil, err
			}
			out[k] = decoded
		default:
			out[k] = v
		}
	}
	return out, nil
}

func (s *RedisStore) Search(ctx context.Context, pattern string) (map[string]interface{}, error) {
	if pattern == "" {
		pattern = "*"
	}

	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, err
	}
	return s.GetAll(ctx, keys...)
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) FlushAll(ctx context.Context) error {
	return s.client.FlushAll(ctx).Err()
}

func (s *RedisStore) Subscribe(key string, h Handler) {
	s.mu.Lock()
	existing := len(s.handlers[key])
	s.handlers[key] = append(s.handlers[key], h)
	s.mu.Unlock()

	if existing > 0 {
		return
	}

	ctx := context.Background()
	if strings.HasPrefix(key, "*") {
		_ = s.sub.PSubscribe(ctx, key)
	} else {
		_ = s.sub.Subscribe(ctx, key)
	}
}

func (s *RedisStore) Unsubscribe(key string) {
	s.mu.Lock()
	delete(s.handlers, key)
	s.mu.Unlock()

	ctx := context.Background()
	if strings.HasPrefix(key, "*") {
		_ = s.sub.PUnsubscribe(ctx, key)
	} else {
		_ = s.sub.Unsubscribe(ctx, key)
	}
}

func (s *RedisStore) dispatch(ctx context.Context) {
	ch := s.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			value, err := decode([]byte(msg.Payload))
			if err != nil {
				logger.Error("memory message decode on %s: %v", msg.Channel, err)
				continue
			}

			s.mu.Lock()
			var hs []Handler
			for key, list := range s.handlers {
				if key == msg.Channel {
					hs = append(hs, list...)
					continue
				}
				if strings.HasPrefix(key, "*") && msg.Pattern == key {
					hs = append(hs, list...)
				}
			}
			s.mu.Unlock()

			for _, h := range hs {
				func() {
					defer func() {
						if p := recover(); p != nil {
							logger.Error("memory handler panic on %s: %v", msg.Channel, p)
						}
					}()
					h(msg.Channel, value)
				}()
			}
		}
	}
}

func decode(raw []byte) (interface{}, error) {
	var v interface{}
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
