// Package oauth runs the third-party sign-in handshake: single-use state tokens,
// authorization code exchange and profile retrieval.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"
)

const DefaultStateTTL = 10 * time.Minute

var (
	// ErrCSRFRejected is returned when the callback state is unknown, expired, reused or bound to another provider.
	ErrCSRFRejected = errors.New("invalid state parameter")
	// ErrProviderExchangeFailed wraps any failure talking to the provider after the state check passed.
	ErrProviderExchangeFailed = errors.New("provider exchange failed")
	// ErrUnsupportedProvider is returned for provider names that are not configured.
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
)

// Claim is the identity asserted by a provider after a successful exchange.
type Claim struct {
	Provider string
	Subject  string
	Email    string
	Name     string
	Picture  string
}

// Provider is one identity provider adapter.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Claim, error)
}

// Guard binds each handshake to a single-use state token.
type Guard struct {
	states    StateStore
	ttl       time.Duration
	providers map[string]Provider
}

// NewGuard returns a Guard over the given providers. ttl <= 0 selects DefaultStateTTL.
func NewGuard(states StateStore, ttl time.Duration, providers ...Provider) *Guard {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Guard{states: states, ttl: ttl, providers: m}
}

// Supports reports whether provider is configured.
func (g *Guard) Supports(provider string) bool {
	_, ok := g.providers[provider]
	return ok
}

// Begin stores a fresh state bound to provider and returns the provider's authorization URL.
func (g *Guard) Begin(ctx context.Context, provider string) (authorizeURL, state string, err error) {
	p, ok := g.providers[provider]
	if !ok {
		return "", "", ErrUnsupportedProvider
	}
	state, err = newState()
	if err != nil {
		return "", "", fmt.Errorf("oauth: state: %w", err)
	}
	if err := g.states.Put(ctx, state, provider, g.ttl); err != nil {
		return "", "", fmt.Errorf("oauth: store state: %w", err)
	}
	return p.AuthCodeURL(state), state, nil
}

// Complete consumes state and, when it was issued for provider, exchanges code for a Claim.
// The state is gone after this call whatever the outcome.
func (g *Guard) Complete(ctx context.Context, provider, state, code string) (*Claim, error) {
	if state == "" {
		return nil, ErrCSRFRejected
	}
	bound, ok, err := g.states.Take(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("oauth: take state: %w", err)
	}
	if !ok || bound != provider {
		return nil, ErrCSRFRejected
	}
	p, ok := g.providers[provider]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrProviderExchangeFailed)
	}
	claim, err := p.Exchange(ctx, code)
	if err != nil {
		log.Printf("oauth: exchange failed provider=%s: %v", provider, err)
		return nil, fmt.Errorf("%w: %v", ErrProviderExchangeFailed, err)
	}
	if claim.Email == "" {
		return nil, fmt.Errorf("%w: provider returned no email", ErrProviderExchangeFailed)
	}
	claim.Provider = provider
	return claim, nil
}

func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
