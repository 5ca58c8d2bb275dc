// Package session issues and rotates the access/refresh token pair handed to a signed-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"otp-identity/backend/internal/security"
	"otp-identity/backend/internal/user/domain"
)

var (
	// ErrInvalidRefreshToken is returned for a refresh token that is malformed, expired, revoked or already rotated.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	// ErrUserInactive is returned when refreshing for a user that is gone or disabled.
	ErrUserInactive = errors.New("user is inactive")
)

// Pair is the credential pair returned to a client.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// UserLookup loads the current state of a user on refresh.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// Issuer mints token pairs and enforces single use of refresh tokens.
type Issuer struct {
	tokens  *security.TokenProvider
	revoked RevocationList
	users   UserLookup
	nowF    func() time.Time
}

// NewIssuer returns an Issuer signing with tokens and tracking rotated refresh tokens in revoked.
func NewIssuer(tokens *security.TokenProvider, revoked RevocationList, users UserLookup) *Issuer {
	return &Issuer{tokens: tokens, revoked: revoked, users: users, nowF: time.Now}
}

// Issue returns a fresh pair for u.
func (i *Issuer) Issue(ctx context.Context, u *domain.User) (*Pair, error) {
	access, _, accessExp, err := i.tokens.Issue(security.TokenAccess, u.ID)
	if err != nil {
		return nil, fmt.Errorf("session: issue access: %w", err)
	}
	refresh, _, refreshExp, err := i.tokens.Issue(security.TokenRefresh, u.ID)
	if err != nil {
		return nil, fmt.Errorf("session: issue refresh: %w", err)
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is revoked first;
// concurrent exchanges of one token yield exactly one new pair.
func (i *Issuer) Refresh(ctx context.Context, refresh string) (*Pair, *domain.User, error) {
	claims, err := i.tokens.Validate(refresh, security.TokenRefresh)
	if err != nil {
		return nil, nil, ErrInvalidRefreshToken
	}
	won, err := i.revoked.Revoke(ctx, claims.ID, i.remaining(claims))
	if err != nil {
		return nil, nil, fmt.Errorf("session: revoke on rotate: %w", err)
	}
	if !won {
		return nil, nil, ErrInvalidRefreshToken
	}
	u, err := i.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, nil, fmt.Errorf("session: load user: %w", err)
	}
	if u == nil || !u.Active() {
		return nil, nil, ErrUserInactive
	}
	pair, err := i.Issue(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return pair, u, nil
}

// Revoke invalidates a refresh token. Unparseable, expired or already revoked tokens are not an error.
// Only a store fault is returned.
func (i *Issuer) Revoke(ctx context.Context, refresh string) error {
	claims, err := i.tokens.Validate(refresh, security.TokenRefresh)
	if err != nil {
		return nil
	}
	if _, err := i.revoked.Revoke(ctx, claims.ID, i.remaining(claims)); err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}

// ValidateAccess returns the user id carried by a valid access token.
func (i *Issuer) ValidateAccess(token string) (string, error) {
	claims, err := i.tokens.Validate(token, security.TokenAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (i *Issuer) remaining(c *security.Claims) time.Duration {
	if c.ExpiresAt == nil {
		return i.tokens.RefreshTTL()
	}
	return c.ExpiresAt.Time.Sub(i.nowF())
}
