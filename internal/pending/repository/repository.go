package repository

import (
	"context"
	"time"

	"otp-identity/backend/internal/pending/domain"
)

// Repository defines persistence for pending identities. At most one row exists per identity key.
type Repository interface {
	// Upsert replaces any pending identity for p.Key with p in one atomic step. p must have ID set.
	Upsert(ctx context.Context, p *domain.PendingIdentity) error
	// GetByKey returns the pending identity for key, or nil if none exists.
	GetByKey(ctx context.Context, key string) (*domain.PendingIdentity, error)
	// RefreshChallenge replaces the code hash, resets attempts to 0 and restarts the clock at now.
	// Returns false if the row no longer exists.
	RefreshChallenge(ctx context.Context, id, codeHash string, now time.Time) (bool, error)
	// IncrementAttempts atomically adds one failed attempt while attempts < max.
	// ok is false when the row is missing or already at max (nothing was counted).
	IncrementAttempts(ctx context.Context, id string, max int) (attempts int, ok bool, err error)
	// ConsumeIf locks the row, passes its current challenge to check and deletes the row when
	// check returns nil. An error from check is returned unchanged and leaves the row in place.
	// found is false when the row is already gone.
	ConsumeIf(ctx context.Context, id string, check func(domain.Challenge) error) (found bool, err error)
	// DeleteExpired removes rows whose challenge was created before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
