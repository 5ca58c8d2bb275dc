package oauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore holds outstanding handshake states. Take must look up and delete in one step.
type StateStore interface {
	Put(ctx context.Context, state, provider string, ttl time.Duration) error
	// Take returns the provider bound to state and removes it. ok is false when absent or expired.
	Take(ctx context.Context, state string) (provider string, ok bool, err error)
}

// RedisStateStore keeps states under "<prefix>:state:<token>".
type RedisStateStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStateStore returns a StateStore on rdb. prefix defaults to "oauth".
func NewRedisStateStore(rdb *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "oauth"
	}
	return &RedisStateStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStateStore) key(state string) string {
	return s.prefix + ":state:" + state
}

func (s *RedisStateStore) Put(ctx context.Context, state, provider string, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.key(state), provider, ttl).Err()
}

// Take uses GETDEL so two callbacks carrying the same state cannot both succeed.
func (s *RedisStateStore) Take(ctx context.Context, state string) (string, bool, error) {
	v, err := s.rdb.GetDel(ctx, s.key(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

type stateEntry struct {
	provider  string
	expiresAt time.Time
}

// MemoryStateStore is an in-process StateStore for single-instance development and tests.
type MemoryStateStore struct {
	mu   sync.Mutex
	m    map[string]stateEntry
	nowF func() time.Time
}

// NewMemoryStateStore returns an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{m: make(map[string]stateEntry), nowF: time.Now}
}

func (s *MemoryStateStore) Put(ctx context.Context, state, provider string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[state] = stateEntry{provider: provider, expiresAt: s.nowF().Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Take(ctx context.Context, state string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[state]
	if !ok {
		return "", false, nil
	}
	delete(s.m, state)
	if !e.expiresAt.After(s.nowF()) {
		return "", false, nil
	}
	return e.provider, true, nil
}
