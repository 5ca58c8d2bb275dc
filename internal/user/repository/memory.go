package repository

import (
	"context"
	"sync"
	"time"

	"otp-identity/backend/internal/user/domain"
)

// MemoryRepository is an in-process Repository enforcing the same uniqueness rules as the users table.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

// NewMemoryRepository returns an empty in-memory user repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*domain.User)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id }), nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Email == email }), nil
}

func (r *MemoryRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	if phone == "" {
		return nil, nil
	}
	return r.find(func(u *domain.User) bool { return u.Phone == phone }), nil
}

func (r *MemoryRepository) GetByOAuth(ctx context.Context, provider, subject string) (*domain.User, error) {
	if provider == "" || subject == "" {
		return nil, nil
	}
	return r.find(func(u *domain.User) bool { return u.OAuthProvider == provider && u.OAuthID == subject }), nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.ID == u.ID || existing.Email == u.Email ||
			(u.Phone != "" && existing.Phone == u.Phone) ||
			(u.OAuthProvider != "" && existing.OAuthProvider == u.OAuthProvider && existing.OAuthID == u.OAuthID) {
			return ErrDuplicate
		}
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *MemoryRepository) LinkOAuth(ctx context.Context, userID, provider, subject string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	if u.OAuthProvider != "" && (u.OAuthProvider != provider || u.OAuthID != subject) {
		return false, nil
	}
	for _, other := range r.users {
		if other.ID != userID && other.OAuthProvider == provider && other.OAuthID == subject {
			return false, nil
		}
	}
	u.OAuthProvider, u.OAuthID = provider, subject
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) SetProfileImage(ctx context.Context, userID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.ProfileImage = url
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepository) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		t := at
		u.LastLoginAt = &t
	}
	return nil
}

func (r *MemoryRepository) SetPassword(ctx context.Context, userID, passwordHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = at
	return true, nil
}

func (r *MemoryRepository) UpdateProfile(ctx context.Context, userID string, p domain.ProfileUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		p.Apply(u)
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
	return nil
}

// SetStatus changes a user's status. There is no admin surface for this; tests use it.
func (r *MemoryRepository) SetStatus(userID string, status domain.UserStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.Status = status
	}
}

// Count returns the number of users.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *MemoryRepository) find(match func(*domain.User) bool) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp
		}
	}
	return nil
}
