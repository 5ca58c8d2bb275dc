package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"otp-identity/backend/internal/security"
	"otp-identity/backend/internal/user/domain"
)

// ErrInvalidResetToken is returned for a reset token that is malformed, expired, already used,
// or issued before the account's password last changed.
var ErrInvalidResetToken = errors.New("invalid or expired reset link")

// IssueReset mints a password reset token for u. It stops validating once used or once the
// password it was issued against has changed.
func (i *Issuer) IssueReset(u *domain.User) (string, time.Time, error) {
	token, _, exp, err := i.tokens.IssueBound(security.TokenPasswordReset, u.ID, passwordBinding(u.PasswordHash))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: issue reset: %w", err)
	}
	return token, exp, nil
}

// RedeemReset validates a reset token and marks it used. Of two concurrent redemptions only one
// succeeds. It returns the user the token was issued for.
func (i *Issuer) RedeemReset(ctx context.Context, token string) (*domain.User, error) {
	claims, err := i.tokens.Validate(token, security.TokenPasswordReset)
	if err != nil {
		return nil, ErrInvalidResetToken
	}
	u, err := i.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("session: load user: %w", err)
	}
	if u == nil || !u.Active() || claims.Binding != passwordBinding(u.PasswordHash) {
		return nil, ErrInvalidResetToken
	}
	won, err := i.revoked.Revoke(ctx, claims.ID, i.remaining(claims))
	if err != nil {
		return nil, fmt.Errorf("session: consume reset: %w", err)
	}
	if !won {
		return nil, ErrInvalidResetToken
	}
	return u, nil
}

func passwordBinding(hash string) string {
	sum := sha256.Sum256([]byte(hash))
	return hex.EncodeToString(sum[:8])
}
