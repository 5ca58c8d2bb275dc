package repository

import (
	"context"
	"errors"
	"time"

	"otp-identity/backend/internal/user/domain"
)

// ErrDuplicate is returned by Create when the email, phone or provider pair is already taken.
var ErrDuplicate = errors.New("user already exists")

// Repository defines persistence for users. Getters return nil, nil when no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	GetByOAuth(ctx context.Context, provider, subject string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// LinkOAuth records the provider pair when the user has none. It reports false when the
	// user carries a different pair (or is gone); linking the same pair again is a no-op true.
	LinkOAuth(ctx context.Context, userID, provider, subject string) (bool, error)
	SetProfileImage(ctx context.Context, userID, url string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	// SetPassword replaces the password hash. It reports false when the user is gone.
	SetPassword(ctx context.Context, userID, passwordHash string, at time.Time) (bool, error)
	// UpdateProfile applies the non-nil fields of p.
	UpdateProfile(ctx context.Context, userID string, p domain.ProfileUpdate) error
	// Delete removes the user. Deleting a missing user is not an error.
	Delete(ctx context.Context, userID string) error
}
