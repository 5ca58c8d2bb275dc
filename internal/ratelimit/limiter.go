// Package ratelimit throttles challenge issuance per identity key with a fixed window counter.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLimited is returned when the key has used up its window.
	ErrLimited = errors.New("rate limited")
	// ErrUnavailable wraps store failures. Callers decide whether to fail open.
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Limiter allows at most a fixed number of events per key per window.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// RedisLimiter counts events under "<prefix>:<key>"; the counter expires with the window.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter returns a limiter allowing max events per window. max <= 0 disables limiting.
func NewRedisLimiter(rdb *redis.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, max: max, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	if l.max <= 0 {
		return nil
	}
	k := l.prefix + ":" + key
	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count > int64(l.max) {
		return ErrLimited
	}
	return nil
}

type window struct {
	count int
	reset time.Time
}

// MemoryLimiter is the in-process equivalent of RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	windows map[string]*window
	nowF    func() time.Time
}

// NewMemoryLimiter returns a limiter allowing max events per window. max <= 0 disables limiting.
func NewMemoryLimiter(max int, win time.Duration) *MemoryLimiter {
	return &MemoryLimiter{max: max, window: win, windows: make(map[string]*window), nowF: time.Now}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) error {
	if l.max <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(l.window)}
		l.windows[key] = w
	}
	w.count++
	if w.count > l.max {
		return ErrLimited
	}
	return nil
}
