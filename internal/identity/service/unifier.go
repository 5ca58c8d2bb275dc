package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	pendingdomain "otp-identity/backend/internal/pending/domain"
	"otp-identity/backend/internal/security"
	userdomain "otp-identity/backend/internal/user/domain"
	userrepo "otp-identity/backend/internal/user/repository"
)

// DefaultPhoneEmailDomain is the domain used for synthesized phone-account emails when none is configured.
const DefaultPhoneEmailDomain = "otp-identity.local"

// Origin says how an identity was proven before it reaches the unifier.
type Origin int

const (
	// OriginChallenge is a verified OTP challenge (or a verified phone token).
	OriginChallenge Origin = iota
	// OriginOAuth is a verified third-party identity.
	OriginOAuth
)

// Claim is a proven identity plus the fields to stage on a new user.
type Claim struct {
	Origin       Origin
	Key          string
	KeyKind      pendingdomain.KeyKind
	Name         string
	PasswordHash string
	AvatarColor  string
	ProfileImage string
	// Provider and Subject identify the OAuth account; OriginOAuth only.
	Provider string
	Subject  string
}

// UserStore is the user repository surface the unifier needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	GetByPhone(ctx context.Context, phone string) (*userdomain.User, error)
	GetByOAuth(ctx context.Context, provider, subject string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	LinkOAuth(ctx context.Context, userID, provider, subject string) (bool, error)
	SetProfileImage(ctx context.Context, userID, url string) error
}

// Unifier turns a proven identity into exactly one user record.
type Unifier struct {
	users       UserStore
	hasher      *security.Hasher
	phoneDomain string
	nowF        func() time.Time
}

// NewUnifier returns a Unifier. phoneDomain defaults to DefaultPhoneEmailDomain.
func NewUnifier(users UserStore, hasher *security.Hasher, phoneDomain string) *Unifier {
	phoneDomain = strings.TrimPrefix(strings.TrimSpace(phoneDomain), ".")
	if phoneDomain == "" {
		phoneDomain = DefaultPhoneEmailDomain
	}
	return &Unifier{users: users, hasher: hasher, phoneDomain: phoneDomain, nowF: time.Now}
}

// EmailFor returns the email a key maps to: the key itself for emails, a synthesized
// "<digits>@phone.<domain>" address for phone numbers.
func (u *Unifier) EmailFor(key string, kind pendingdomain.KeyKind) string {
	if kind != pendingdomain.KeyKindPhone {
		return key
	}
	return strings.TrimPrefix(key, "+") + "@phone." + u.phoneDomain
}

// Synthesized reports whether email was made up for a phone-only account and cannot receive mail.
func (u *Unifier) Synthesized(email string) bool {
	return strings.HasSuffix(email, "@phone."+u.phoneDomain)
}

// Lookup returns the user owning key, or nil. Phone keys match the phone column first, then
// the synthesized email.
func (u *Unifier) Lookup(ctx context.Context, key string, kind pendingdomain.KeyKind) (*userdomain.User, error) {
	if kind == pendingdomain.KeyKindPhone {
		usr, err := u.users.GetByPhone(ctx, key)
		if err != nil || usr != nil {
			return usr, err
		}
	}
	return u.users.GetByEmail(ctx, u.EmailFor(key, kind))
}

// Resolve returns the user for c, creating it when absent. created reports whether this call
// materialized the user. A disabled user yields ErrAccountDisabled; an email owned by a
// different OAuth account yields ErrIdentityConflict.
func (u *Unifier) Resolve(ctx context.Context, c Claim) (*userdomain.User, bool, error) {
	if c.Key == "" {
		return nil, false, &ValidationError{Field: "identity", Message: "identity is required"}
	}
	if c.Origin == OriginOAuth {
		return u.resolveOAuth(ctx, c)
	}
	existing, err := u.Lookup(ctx, c.Key, c.KeyKind)
	if err != nil {
		return nil, false, fmt.Errorf("lookup user: %w", err)
	}
	if existing != nil {
		return active(existing, false)
	}
	return u.create(ctx, c, c.PasswordHash)
}

func (u *Unifier) resolveOAuth(ctx context.Context, c Claim) (*userdomain.User, bool, error) {
	if c.Provider == "" || c.Subject == "" {
		return nil, false, &ValidationError{Field: "provider", Message: "provider identity is required"}
	}
	existing, err := u.users.GetByOAuth(ctx, c.Provider, c.Subject)
	if err != nil {
		return nil, false, fmt.Errorf("lookup oauth user: %w", err)
	}
	if existing == nil {
		existing, err = u.Lookup(ctx, c.Key, c.KeyKind)
		if err != nil {
			return nil, false, fmt.Errorf("lookup user: %w", err)
		}
	}
	if existing == nil {
		unusable, err := u.hasher.HashRandom()
		if err != nil {
			return nil, false, err
		}
		usr, created, err := u.create(ctx, c, unusable)
		if err != nil || created {
			return usr, created, err
		}
		existing = usr
	}
	if !existing.Active() {
		return nil, false, ErrAccountDisabled
	}
	if err := u.merge(ctx, existing, c); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// merge attaches the OAuth pair to an existing user and refreshes the profile image. Password
// and name are never touched.
func (u *Unifier) merge(ctx context.Context, usr *userdomain.User, c Claim) error {
	switch {
	case usr.OAuthProvider == c.Provider && usr.OAuthID == c.Subject:
	case usr.OAuthProvider != "":
		return ErrIdentityConflict
	default:
		ok, err := u.users.LinkOAuth(ctx, usr.ID, c.Provider, c.Subject)
		if err != nil {
			return fmt.Errorf("link oauth: %w", err)
		}
		if !ok {
			return ErrIdentityConflict
		}
		usr.OAuthProvider, usr.OAuthID = c.Provider, c.Subject
	}
	if c.ProfileImage != "" && c.ProfileImage != usr.ProfileImage {
		if err := u.users.SetProfileImage(ctx, usr.ID, c.ProfileImage); err != nil {
			return fmt.Errorf("set profile image: %w", err)
		}
		usr.ProfileImage = c.ProfileImage
	}
	return nil
}

// create inserts a user from c. Losing a uniqueness race re-reads and returns the winner.
func (u *Unifier) create(ctx context.Context, c Claim, passwordHash string) (*userdomain.User, bool, error) {
	now := u.nowF().UTC()
	usr := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        u.EmailFor(c.Key, c.KeyKind),
		Name:         strings.TrimSpace(c.Name),
		PasswordHash: passwordHash,
		Status:       userdomain.UserStatusActive,
		AvatarColor:  c.AvatarColor,
		ProfileImage: c.ProfileImage,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if c.KeyKind == pendingdomain.KeyKindPhone {
		usr.Phone = c.Key
	}
	if c.Origin == OriginOAuth {
		usr.OAuthProvider, usr.OAuthID = c.Provider, c.Subject
	}
	err := u.users.Create(ctx, usr)
	if err == nil {
		return usr, true, nil
	}
	if !errors.Is(err, userrepo.ErrDuplicate) {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	var winner *userdomain.User
	if c.Origin == OriginOAuth {
		if winner, err = u.users.GetByOAuth(ctx, c.Provider, c.Subject); err != nil {
			return nil, false, fmt.Errorf("re-read user: %w", err)
		}
	}
	if winner == nil {
		if winner, err = u.Lookup(ctx, c.Key, c.KeyKind); err != nil {
			return nil, false, fmt.Errorf("re-read user: %w", err)
		}
	}
	if winner == nil {
		return nil, false, fmt.Errorf("create user: %w", userrepo.ErrDuplicate)
	}
	if c.Origin == OriginOAuth {
		return winner, false, nil
	}
	return active(winner, false)
}

func active(usr *userdomain.User, created bool) (*userdomain.User, bool, error) {
	if !usr.Active() {
		return nil, false, ErrAccountDisabled
	}
	return usr, created, nil
}
