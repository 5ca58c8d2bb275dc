// Package challenge implements the OTP challenge lifecycle: validity window, attempt counting and lockout.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"otp-identity/backend/internal/otp"
	"otp-identity/backend/internal/pending/domain"
)

// Defaults used when configuration leaves a value unset.
const (
	DefaultMaxAttempts = 5
	DefaultTTL         = 10 * time.Minute
)

var (
	// ErrExpired is returned when the challenge validity window has elapsed.
	ErrExpired = errors.New("code has expired; request a new one")
	// ErrLockedOut is returned once the maximum number of failed attempts has been reached.
	ErrLockedOut = errors.New("too many failed attempts; request a new code")
	// ErrSuperseded is returned when the code matched a challenge that was resent, replaced
	// or consumed before the submission could claim it.
	ErrSuperseded = errors.New("code is no longer valid; request a new code")
)

// InvalidCodeError is returned for a wrong code while the challenge remains usable or has just locked.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	if e.Remaining <= 0 {
		return "invalid code; challenge locked, request a new code"
	}
	return fmt.Sprintf("invalid code; %d attempts remaining", e.Remaining)
}

// Is reports a wrong code that used up the last attempt as ErrLockedOut too.
func (e *InvalidCodeError) Is(target error) bool {
	return target == ErrLockedOut && e.Remaining <= 0
}

// State is the derived lifecycle state of a challenge.
type State string

const (
	StateActive     State = "active"
	StateExpired    State = "expired"
	StateLocked     State = "locked"
	StateVerified   State = "verified"
	StateSuperseded State = "superseded"
)

// Policy holds the per-deployment limits.
type Policy struct {
	MaxAttempts int
	TTL         time.Duration
}

// WithDefaults fills zero fields with DefaultMaxAttempts and DefaultTTL.
func (p Policy) WithDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.TTL <= 0 {
		p.TTL = DefaultTTL
	}
	return p
}

// StateAt returns the state of c at now. Locked takes precedence over expired.
// Verified is never derived here: a verified challenge is consumed immediately.
func (p Policy) StateAt(c domain.Challenge, now time.Time) State {
	switch {
	case c.Attempts >= p.MaxAttempts:
		return StateLocked
	case !now.Before(c.CreatedAt.Add(p.TTL)):
		return StateExpired
	default:
		return StateActive
	}
}

// Store is what the verifier needs from the pending store: a bounded attempt increment and a
// consume that re-checks the row's current challenge under the store's own lock.
type Store interface {
	IncrementAttempts(ctx context.Context, id string, max int) (attempts int, ok bool, err error)
	ConsumeIf(ctx context.Context, id string, check func(domain.Challenge) error) (found bool, err error)
}

// Verifier runs submitted codes through the challenge state machine.
type Verifier struct {
	store  Store
	policy Policy
	nowF   func() time.Time
}

// NewVerifier returns a Verifier using store for attempt counting. now may be nil (time.Now is used).
func NewVerifier(store Store, policy Policy, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{store: store, policy: policy.WithDefaults(), nowF: now}
}

// Policy returns the effective limits.
func (v *Verifier) Policy() Policy {
	return v.policy
}

// Verify checks code against p's challenge. On success the pending row has been consumed and
// Verify returns StateVerified and nil. Failures are ErrLockedOut, ErrExpired, ErrSuperseded or
// *InvalidCodeError. p is a snapshot: a matching code is only accepted if the stored row still
// carries the same code and is neither locked nor expired at the moment it is deleted.
func (v *Verifier) Verify(ctx context.Context, p *domain.PendingIdentity, code string) (State, error) {
	switch v.policy.StateAt(p.Challenge, v.nowF()) {
	case StateLocked:
		return StateLocked, ErrLockedOut
	case StateExpired:
		return StateExpired, ErrExpired
	}
	if otp.Equal(code, p.Challenge.CodeHash) {
		return v.consume(ctx, p)
	}
	attempts, ok, err := v.store.IncrementAttempts(ctx, p.ID, v.policy.MaxAttempts)
	if err != nil {
		return StateActive, fmt.Errorf("challenge: increment attempts: %w", err)
	}
	if !ok {
		// Another submission took the last attempt (or superseded the row) between read and write.
		return StateLocked, ErrLockedOut
	}
	p.Challenge.Attempts = attempts
	remaining := v.policy.MaxAttempts - attempts
	state := StateActive
	if remaining <= 0 {
		remaining = 0
		state = StateLocked
	}
	return state, &InvalidCodeError{Remaining: remaining}
}

func (v *Verifier) consume(ctx context.Context, p *domain.PendingIdentity) (State, error) {
	found, err := v.store.ConsumeIf(ctx, p.ID, func(cur domain.Challenge) error {
		if cur.CodeHash != p.Challenge.CodeHash {
			return ErrSuperseded
		}
		switch v.policy.StateAt(cur, v.nowF()) {
		case StateLocked:
			return ErrLockedOut
		case StateExpired:
			return ErrExpired
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrLockedOut):
		return StateLocked, ErrLockedOut
	case errors.Is(err, ErrExpired):
		return StateExpired, ErrExpired
	case errors.Is(err, ErrSuperseded):
		return StateSuperseded, ErrSuperseded
	case err != nil:
		return StateActive, fmt.Errorf("challenge: consume: %w", err)
	case !found:
		return StateSuperseded, ErrSuperseded
	}
	return StateVerified, nil
}
