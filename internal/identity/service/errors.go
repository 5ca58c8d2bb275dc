package service

import "errors"

// Sentinel errors for the auth service; the HTTP layer maps them to status codes.
var (
	ErrAlreadyExists        = errors.New("an account with this identity already exists")
	ErrNotFound             = errors.New("no pending verification for this identity")
	ErrUserNotFound         = errors.New("user not found")
	ErrIdentityConflict     = errors.New("identity is linked to a different sign-in provider")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountDisabled      = errors.New("account is disabled")
	ErrInvalidRefreshToken  = errors.New("invalid or expired refresh token")
	ErrRateLimited          = errors.New("too many requests; try again later")
	ErrRegistrationRequired = errors.New("name is required for registration")
	ErrInvalidResetToken    = errors.New("invalid or expired reset link")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
