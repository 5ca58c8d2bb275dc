package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, of the wrong type or not ours.
	ErrInvalidToken = errors.New("invalid token")
)

// TokenType distinguishes access from refresh tokens; it is carried in the typ claim.
type TokenType string

const (
	TokenAccess        TokenType = "access"
	TokenRefresh       TokenType = "refresh"
	TokenPasswordReset TokenType = "password_reset"
)

// DefaultResetTTL is the lifetime of a password reset token.
const DefaultResetTTL = time.Hour

// Claims are the JWT claims of all token types. Subject is the user id; ID (jti) is unique per token.
// Binding ties a reset token to the account state it was issued for.
type Claims struct {
	jwt.RegisteredClaims
	Type    TokenType `json:"typ"`
	Binding string    `json:"bnd,omitempty"`
}

// TokenProvider issues and validates access and refresh JWTs. Signing uses RS256/ES256 with a
// key pair, or HS256 with a shared secret.
type TokenProvider struct {
	signKey    any
	verifyKey  any
	method     jwt.SigningMethod
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with keys.Signer and verifies with keys.Public.
func NewTokenProvider(keys *KeyPair, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if keys == nil || keys.method == nil {
		return nil, ErrInvalidKey
	}
	return &TokenProvider{
		signKey:    keys.Signer,
		verifyKey:  keys.Public,
		method:     keys.method,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// NewHMACTokenProvider returns a TokenProvider that signs and verifies with secret (HS256).
func NewHMACTokenProvider(secret []byte, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidKey
	}
	return &TokenProvider{
		signKey:    secret,
		verifyKey:  secret,
		method:     jwt.SigningMethodHS256,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// AccessTTL returns the access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// Issue signs a token of the given type for userID. Returns the token, its jti and expiry.
func (p *TokenProvider) Issue(typ TokenType, userID string) (token, jti string, expiresAt time.Time, err error) {
	return p.IssueBound(typ, userID, "")
}

// IssueBound is Issue with a binding claim.
func (p *TokenProvider) IssueBound(typ TokenType, userID, binding string) (token, jti string, expiresAt time.Time, err error) {
	var ttl time.Duration
	switch typ {
	case TokenRefresh:
		ttl = p.refreshTTL
	case TokenPasswordReset:
		ttl = DefaultResetTTL
	default:
		ttl = p.accessTTL
	}
	jti, err = generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := p.now().UTC()
	expiresAt = now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type:    typ,
		Binding: binding,
	}
	token, err = jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// Validate parses tokenString and checks signature, algorithm, expiry, issuer, audience and type.
func (p *TokenProvider) Validate(tokenString string, typ TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.verifyKey, nil
	},
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != typ || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
