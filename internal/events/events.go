// Package events publishes identity lifecycle events (account created, signed in, signed out)
// for downstream consumers. Emission is best-effort and never blocks or fails a request.
package events

import (
	"context"
	"errors"
	"log"
	"time"
)

// Type names an identity event.
type Type string

const (
	UserCreated  Type = "user.created"
	UserLogin    Type = "user.login"
	UserLogout   Type = "user.logout"
	OAuthLinked  Type = "user.oauth_linked"
	ChallengeNew Type = "challenge.issued"
	PasswordSet  Type = "user.password_reset"
)

// Method is how the user proved the identity.
type Method string

const (
	MethodEmailOTP   Method = "email_otp"
	MethodPhoneOTP   Method = "phone_otp"
	MethodPassword   Method = "password"
	MethodOAuth      Method = "oauth"
	MethodPhoneToken Method = "phone_token"
	MethodRefresh    Method = "refresh"
)

// Event is one identity event. It never carries codes, passwords or tokens.
type Event struct {
	Type       Type      `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	Method     Method    `json:"method,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Emitter publishes events.
type Emitter interface {
	Emit(ctx context.Context, e *Event) error
}

// emitTimeout bounds a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the servers stop before closing emitters,
// so in-flight async emits can finish. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine on a detached context so request cancellation does not
// abort it. emitter and e may be nil.
func EmitAsync(emitter Emitter, e *Event) {
	if emitter == nil || e == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, e); err != nil {
			log.Printf("events: async emit %s failed: %v", e.Type, err)
		}
	}()
}

// Multi fans an event out to several emitters and joins their errors.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, e *Event) error {
	var errs []error
	for _, em := range m {
		if em == nil {
			continue
		}
		if err := em.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
