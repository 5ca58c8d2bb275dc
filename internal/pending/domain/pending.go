package domain

import (
	"errors"
	"strings"
	"time"
)

// Purpose tags what a successful challenge will do.
type Purpose string

const (
	PurposeRegistration Purpose = "registration"
	PurposeLogin        Purpose = "login"
)

// KeyKind says whether an identity key is an email address or a phone number.
type KeyKind string

const (
	KeyKindEmail KeyKind = "email"
	KeyKindPhone KeyKind = "phone"
)

// ErrInvalidIdentityKey is returned by NormalizeKey for input that is neither an email nor a phone number.
var ErrInvalidIdentityKey = errors.New("identity must be an email address or a phone number")

// Challenge is the OTP state embedded in a pending identity (one per row).
type Challenge struct {
	CodeHash  string
	CreatedAt time.Time
	Attempts  int
	Purpose   Purpose
}

// PendingIdentity is a staged registration or login awaiting challenge success (stored in pending_identities).
type PendingIdentity struct {
	ID           string
	Key          string
	KeyKind      KeyKind
	Name         string
	PasswordHash string // empty for phone-login flows
	AvatarColor  string
	ProfileImage string
	Challenge    Challenge
	CreatedAt    time.Time
}

// ExpiresAt returns the instant the embedded challenge stops being valid for the given TTL.
func (p *PendingIdentity) ExpiresAt(ttl time.Duration) time.Time {
	return p.Challenge.CreatedAt.Add(ttl)
}

// NormalizeKey canonicalises an email (trim + lower-case) or phone number (E.164-like: "+" and 8–15 digits).
func NormalizeKey(raw string) (string, KeyKind, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", ErrInvalidIdentityKey
	}
	if strings.Contains(s, "@") {
		email := strings.ToLower(s)
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 || !strings.Contains(email[at+1:], ".") || strings.ContainsAny(email, " \t") {
			return "", "", ErrInvalidIdentityKey
		}
		return email, KeyKindEmail, nil
	}
	phone, ok := normalizePhone(s)
	if !ok {
		return "", "", ErrInvalidIdentityKey
	}
	return phone, KeyKindPhone, nil
}

func normalizePhone(s string) (string, bool) {
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	var b strings.Builder
	b.WriteByte('+')
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	out := b.String()
	digits := len(out) - 1
	if digits < 8 || digits > 15 {
		return "", false
	}
	return out, true
}
