package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList records refresh token ids (jti) that may no longer be exchanged.
// Entries live only as long as the token itself would have.
type RevocationList interface {
	// Revoke marks jti revoked for ttl. It reports true only for the call that revoked it.
	Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisRevocationList keeps revoked ids under "<prefix>:revoked:<jti>".
type RedisRevocationList struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisRevocationList returns a RevocationList on rdb. prefix defaults to "session".
func NewRedisRevocationList(rdb *redis.Client, prefix string) *RedisRevocationList {
	if prefix == "" {
		prefix = "session"
	}
	return &RedisRevocationList{rdb: rdb, prefix: prefix}
}

func (l *RedisRevocationList) key(jti string) string {
	return l.prefix + ":revoked:" + jti
}

// Revoke uses SET NX so that of two concurrent rotations of one token only one wins.
func (l *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	return l.rdb.SetNX(ctx, l.key(jti), 1, ttl).Result()
}

func (l *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryRevocationList is an in-process RevocationList for single-instance development and tests.
type MemoryRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	nowF    func() time.Time
}

// NewMemoryRevocationList returns an empty in-memory revocation list.
func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{revoked: make(map[string]time.Time), nowF: time.Now}
}

func (l *MemoryRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	if exp, ok := l.revoked[jti]; ok && exp.After(now) {
		return false, nil
	}
	l.revoked[jti] = now.Add(ttl)
	return true, nil
}

func (l *MemoryRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.revoked[jti]
	if !ok {
		return false, nil
	}
	if !exp.After(l.nowF()) {
		delete(l.revoked, jti)
		return false, nil
	}
	return true, nil
}
