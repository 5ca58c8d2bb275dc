package domain

import (
	"errors"
	"time"
)

// User is the core user entity. Every user has an email; phone-only accounts carry a
// synthesized address derived from the phone number.
type User struct {
	ID            string
	Email         string
	Phone         string // optional, unique
	Name          string
	PasswordHash  string // empty when the account was created without a password
	Status        UserStatus
	OAuthProvider string // set together with OAuthID
	OAuthID       string
	AvatarColor   string
	ProfileImage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLoginAt   *time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if (u.OAuthProvider == "") != (u.OAuthID == "") {
		return errors.New("oauth provider and subject must be set together")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// Active reports whether the user may sign in.
func (u *User) Active() bool {
	return u.Status == UserStatusActive
}

// HasPassword reports whether password login is possible for the user.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// ProfileUpdate lists the user-editable fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name         *string
	AvatarColor  *string
	ProfileImage *string
}

// Empty reports whether p changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.Name == nil && p.AvatarColor == nil && p.ProfileImage == nil
}

// Apply copies the set fields onto u.
func (p ProfileUpdate) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.AvatarColor != nil {
		u.AvatarColor = *p.AvatarColor
	}
	if p.ProfileImage != nil {
		u.ProfileImage = *p.ProfileImage
	}
}
