package memory

import (
	"context"
	"path"
	"sync"
	"time"

	"hydra_bot/pkg/logger"
)

// LocalStore is the isolated in-memory implementation used for
// deterministic replay. One instance lives for exactly one backtest
// run and is dropped with it; nothing is shared between runs.
type LocalStore struct {
	mu       sync.RWMutex
	facts    map[string]interface{}
	handlers map[string][]Handler
	expiries map[string]time.Time
}

func NewLocalStore() *LocalStore {
	return &LocalStore{
		facts:    make(map[string]interface{}),
		handlers: make(map[string][]Handler),
		expiries: make(map[string]time.Time),
	}
}

func (s *LocalStore) Set(_ context.Context, key string, value interface{}, notify bool, ttl time.Duration) error {
	s.mu.Lock()
	s.facts[key] = value
	if ttl > 0 {
		s.expiries[key] = time.Now().Add(ttl)
	} else {
		delete(s.expiries, key)
	}
	s.mu.Unlock()

	if notify {
		s.publish(key, value)
	}
	return nil
}

func (s *LocalStore) SetAll(ctx context.Context, keyValues map[string]interface{}, notify bool) error {
	s.mu.Lock()
	for k, v := range keyValues {
		s.facts[k] = v
	}
	s.mu.Unlock()

	if notify {
		for k, v := range keyValues {
			s.publish(k, v)
		}
	}
	return nil
}

func (s *LocalStore) Get(_ context.Context, key string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if exp, ok := s.expiries[key]; ok && time.Now().After(exp) {
		return nil, nil
	}
	return s.facts[key], nil
}

func (s *LocalStore) GetAll(ctx context.Context, keys ...string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		v, _ := s.Get(ctx, k)
		out[k] = v
	}
	return out, nil
}

func (s *LocalStore) Search(ctx context.Context, pattern string) (map[string]interface{}, error) {
	if pattern == "" {
		pattern = "*"
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.facts))
	for k := range s.facts {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	return s.GetAll(ctx, keys...)
}

func (s *LocalStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.facts, key)
	delete(s.expiries, key)
	s.mu.Unlock()
	return nil
}

func (s *LocalStore) FlushAll(_ context.Context) error {
	s.mu.Lock()
	s.facts = make(map[string]interface{})
	s.expiries = make(map[string]time.Time)
	s.mu.Unlock()
	return nil
}

func (s *LocalStore) Subscribe(key string, h Handler) {
	s.mu.Lock()
	s.handlers[key] = append(s.handlers[key], h)
	s.mu.Unlock()
}

func (s *LocalStore) Unsubscribe(key string) {
	s.mu.Lock()
	delete(s.handlers, key)
	s.mu.Unlock()
}

// publish runs subscribers synchronously in registration order, each
// isolated: a panicking handler does not stop the rest.
func (s *LocalStore) publish(key string, value interface{}) {
	s.mu.RLock()
	hs := make([]Handler, len(s.handlers[key]))
	copy(hs, s.handlers[key])
	s.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("memory handler panic on %s: %v", key, p)
				}
			}()
			h(key, value)
		}()
	}
}
