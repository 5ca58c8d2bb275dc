package oauth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	firebaseCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

	// defaultCertsMaxAge applies when the certs response carries no usable max-age.
	defaultCertsMaxAge = time.Hour
	// minCertsRefetch bounds how often an unknown kid or a failed load can trigger a download.
	minCertsRefetch = time.Minute
)

var (
	// ErrPhoneTokenUnavailable is returned when no Firebase project is configured or its keys cannot be loaded.
	ErrPhoneTokenUnavailable = errors.New("phone token verification unavailable")
	// ErrInvalidPhoneToken is returned for a token that fails verification.
	ErrInvalidPhoneToken = errors.New("invalid phone token")
	// ErrPhoneMissing is returned for a valid token that carries no phone number.
	ErrPhoneMissing = errors.New("phone number not found in token")
)

// PhoneClaim is the verified content of a Firebase phone-auth ID token.
type PhoneClaim struct {
	UID   string
	Phone string
}

type firebaseClaims struct {
	jwt.RegisteredClaims
	PhoneNumber string `json:"phone_number"`
}

// FirebasePhoneVerifier checks ID tokens minted by Firebase phone authentication.
// Google's signing certificates are loaded on first use, kept for the response's max-age and
// reloaded early when a token names a key id the cache does not know.
type FirebasePhoneVerifier struct {
	projectID  string
	certsURL   string
	httpClient *http.Client

	initialized atomic.Bool
	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	expiresAt   time.Time
	lastFetch   time.Time
	nowF        func() time.Time
}

// NewFirebasePhoneVerifier returns a verifier for projectID. An empty projectID yields a verifier
// that always reports ErrPhoneTokenUnavailable.
func NewFirebasePhoneVerifier(projectID string) *FirebasePhoneVerifier {
	return &FirebasePhoneVerifier{
		projectID:  projectID,
		certsURL:   firebaseCertsURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		nowF:       time.Now,
	}
}

// EnsureInitialized loads the signing certificates once. Concurrent callers wait for the
// first load; a failed load is retried on the next call.
func (v *FirebasePhoneVerifier) EnsureInitialized(ctx context.Context) error {
	if v.initialized.Load() {
		return nil
	}
	if v.projectID == "" {
		return ErrPhoneTokenUnavailable
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.initialized.Load() {
		return nil
	}
	if err := v.loadLocked(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPhoneTokenUnavailable, err)
	}
	v.initialized.Store(true)
	return nil
}

// loadLocked replaces the key set. v.mu must be held; concurrent lookups wait on it.
func (v *FirebasePhoneVerifier) loadLocked(ctx context.Context) error {
	v.lastFetch = v.nowF()
	keys, maxAge, err := v.fetchKeys(ctx)
	if err != nil {
		return err
	}
	v.keys = keys
	v.expiresAt = v.lastFetch.Add(maxAge)
	return nil
}

// keyFor returns the public key for kid. An unknown kid or an expired set triggers a reload,
// at most once per minCertsRefetch. A known key outlives a failed reload.
func (v *FirebasePhoneVerifier) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.nowF()
	k, ok := v.keys[kid]
	if ok && now.Before(v.expiresAt) {
		return k, nil
	}
	if now.Sub(v.lastFetch) >= minCertsRefetch {
		if err := v.loadLocked(ctx); err != nil {
			log.Printf("firebase: reload certs: %v", err)
		}
		k, ok = v.keys[kid]
	}
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return k, nil
}

// Verify validates idToken and returns the phone number it asserts.
func (v *FirebasePhoneVerifier) Verify(ctx context.Context, idToken string) (*PhoneClaim, error) {
	if err := v.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	claims := &firebaseClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keyFor(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.nowF),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhoneToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidPhoneToken
	}
	if claims.PhoneNumber == "" {
		return nil, ErrPhoneMissing
	}
	return &PhoneClaim{UID: claims.Subject, Phone: claims.PhoneNumber}, nil
}

// fetchKeys downloads the kid -> PEM certificate map and how long it may be cached.
func (v *FirebasePhoneVerifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("certs: status=%d", resp.StatusCode)
	}
	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("certs: decode: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(raw))
	for kid, certPEM := range raw {
		block, _ := pem.Decode([]byte(certPEM))
		if block == nil {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			keys[kid] = pub
		}
	}
	if len(keys) == 0 {
		return nil, 0, errors.New("certs: no usable keys")
	}
	return keys, cacheMaxAge(resp.Header.Get("Cache-Control")), nil
}

// cacheMaxAge reads max-age from a Cache-Control header, falling back to defaultCertsMaxAge.
func cacheMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || secs <= 0 {
			break
		}
		return time.Duration(secs) * time.Second
	}
	return defaultCertsMaxAge
}
