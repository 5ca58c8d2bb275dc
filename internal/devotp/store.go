// Package devotp keeps the last OTP issued per identity key so a developer can read it back
// (GET /dev/otp) when no real email or SMS transport is configured. Never enabled in production.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds plain OTPs by identity key for dev-only retrieval.
type Store interface {
	// Put stores code for key until expiresAt, replacing any earlier code.
	Put(ctx context.Context, key, code string, expiresAt time.Time)
	// Get returns the code for key if present and not expired.
	Get(ctx context.Context, key string) (code string, ok bool)
	// Delete drops the code for key once its challenge is consumed.
	Delete(ctx context.Context, key string)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev OTP store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: time.Now,
	}
}

// Put stores code for key until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, key, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for key if present and not expired. Expired entries are dropped.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		if cur, ok := s.m[key]; ok && cur == e {
			delete(s.m, key)
		}
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}

// Delete removes the code for key.
func (s *MemoryStore) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}
