package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, "challenge", 3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, "alice@example.com"); err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, "alice@example.com"); !errors.Is(err, ErrLimited) {
		t.Fatalf("4th Allow: want ErrLimited, got %v", err)
	}
	if err := l.Allow(ctx, "bob@example.com"); err != nil {
		t.Errorf("other key should be unaffected: %v", err)
	}
	if ttl := mr.TTL("challenge:alice@example.com"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Allow(ctx, "alice@example.com"); err != nil {
		t.Errorf("new window should allow: %v", err)
	}
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, "", 1, time.Minute)
	_ = rdb.Close()
	if err := l.Allow(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("want ErrUnavailable, got %v", err)
	}
}

func TestLimiters_Disabled(t *testing.T) {
	_, rdb := newTestRedis(t)
	for _, l := range []Limiter{NewRedisLimiter(rdb, "", 0, time.Minute), NewMemoryLimiter(0, time.Minute)} {
		for i := 0; i < 10; i++ {
			if err := l.Allow(context.Background(), "k"); err != nil {
				t.Fatalf("disabled limiter returned %v", err)
			}
		}
	}
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(2, time.Minute)
	now := time.Now()
	l.nowF = func() time.Time { return now }

	_ = l.Allow(ctx, "k")
	_ = l.Allow(ctx, "k")
	if err := l.Allow(ctx, "k"); !errors.Is(err, ErrLimited) {
		t.Fatalf("want ErrLimited, got %v", err)
	}
	now = now.Add(time.Minute)
	if err := l.Allow(ctx, "k"); err != nil {
		t.Errorf("new window should allow: %v", err)
	}
}
