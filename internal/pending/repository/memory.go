package repository

import (
	"context"
	"sync"
	"time"

	"otp-identity/backend/internal/pending/domain"
)

// MemoryRepository is an in-process Repository. Used when DATABASE_URL is unset outside production, and by tests.
type MemoryRepository struct {
	mu    sync.Mutex
	byKey map[string]*domain.PendingIdentity
}

// NewMemoryRepository returns an empty in-memory pending identity repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byKey: make(map[string]*domain.PendingIdentity)}
}

// Upsert replaces any entry for p.Key with a copy of p.
func (r *MemoryRepository) Upsert(ctx context.Context, p *domain.PendingIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byKey[p.Key] = &cp
	return nil
}

// GetByKey returns a copy of the entry for key, or nil.
func (r *MemoryRepository) GetByKey(ctx context.Context, key string) (*domain.PendingIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// RefreshChallenge resets the challenge of the entry with id.
func (r *MemoryRepository) RefreshChallenge(ctx context.Context, id, codeHash string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.findLocked(id)
	if p == nil {
		return false, nil
	}
	p.Challenge.CodeHash = codeHash
	p.Challenge.Attempts = 0
	p.Challenge.CreatedAt = now
	return true, nil
}

// IncrementAttempts adds one attempt while attempts < max.
func (r *MemoryRepository) IncrementAttempts(ctx context.Context, id string, max int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.findLocked(id)
	if p == nil || p.Challenge.Attempts >= max {
		return 0, false, nil
	}
	p.Challenge.Attempts++
	return p.Challenge.Attempts, true, nil
}

// ConsumeIf runs check against the entry with id and deletes it when check passes.
func (r *MemoryRepository) ConsumeIf(ctx context.Context, id string, check func(domain.Challenge) error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.findLocked(id)
	if p == nil {
		return false, nil
	}
	if err := check(p.Challenge); err != nil {
		return true, err
	}
	delete(r.byKey, p.Key)
	return true, nil
}

// DeleteExpired removes entries whose challenge started before the cutoff.
func (r *MemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, p := range r.byKey {
		if p.Challenge.CreatedAt.Before(before) {
			delete(r.byKey, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live entries.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

func (r *MemoryRepository) findLocked(id string) *domain.PendingIdentity {
	for _, p := range r.byKey {
		if p.ID == id {
			return p
		}
	}
	return nil
}
