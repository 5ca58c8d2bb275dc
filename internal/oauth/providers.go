package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const (
	googleUserInfoURL    = "https://www.googleapis.com/oauth2/v2/userinfo"
	microsoftUserInfoURL = "https://graph.microsoft.com/v1.0/me"
)

var googleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// ErrNotImplemented is returned by providers whose code exchange is not available.
var ErrNotImplemented = errors.New("not implemented")

// ProviderConfig is the client registration for one provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// CallbackURL returns the redirect URL registered for provider under base.
func CallbackURL(base, provider string) string {
	return strings.TrimRight(base, "/") + "/api/auth/oauth/" + provider + "/callback"
}

// codeFlowProvider exchanges a code with oauth2 and reads the profile from a userinfo endpoint.
type codeFlowProvider struct {
	name        string
	cfg         *oauth2.Config
	userInfoURL string
	toClaim     func(map[string]any) *Claim
}

func (p *codeFlowProvider) Name() string { return p.name }

func (p *codeFlowProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state)
}

func (p *codeFlowProvider) Exchange(ctx context.Context, code string) (*Claim, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo: status=%d body=%s", resp.StatusCode, string(b))
	}
	var profile map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("userinfo: decode: %w", err)
	}
	claim := p.toClaim(profile)
	if claim.Subject == "" {
		return nil, errors.New("userinfo: missing subject")
	}
	return claim, nil
}

// NewGoogleProvider returns the Google adapter (openid email profile).
func NewGoogleProvider(c ProviderConfig) Provider {
	return &codeFlowProvider{
		name: "google",
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     googleEndpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: googleUserInfoURL,
		toClaim:     googleClaim,
	}
}

func googleClaim(m map[string]any) *Claim {
	email := str(m, "email")
	return &Claim{
		Subject: firstNonEmpty(str(m, "id"), str(m, "sub")),
		Email:   email,
		Name:    firstNonEmpty(str(m, "name"), localPart(email)),
		Picture: str(m, "picture"),
	}
}

// NewMicrosoftProvider returns the Microsoft identity platform adapter for tenant ("common" when empty).
func NewMicrosoftProvider(c ProviderConfig, tenant string) Provider {
	if tenant == "" {
		tenant = "common"
	}
	return &codeFlowProvider{
		name: "microsoft",
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
			Scopes:       []string{"openid", "email", "profile", "User.Read"},
		},
		userInfoURL: microsoftUserInfoURL,
		toClaim:     microsoftClaim,
	}
}

// microsoftClaim prefers mail and falls back to userPrincipalName.
func microsoftClaim(m map[string]any) *Claim {
	email := firstNonEmpty(str(m, "mail"), str(m, "userPrincipalName"))
	return &Claim{
		Subject: str(m, "id"),
		Email:   email,
		Name:    firstNonEmpty(str(m, "displayName"), localPart(email)),
	}
}

type appleProvider struct {
	cfg *oauth2.Config
}

// NewAppleProvider returns the Apple adapter. It builds the authorization URL; the exchange
// needs a signed client secret and is not available, so every callback fails.
func NewAppleProvider(c ProviderConfig) Provider {
	return &appleProvider{cfg: &oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: c.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://appleid.apple.com/auth/authorize",
			TokenURL: "https://appleid.apple.com/auth/token",
		},
		Scopes: []string{"name", "email"},
	}}
}

func (p *appleProvider) Name() string { return "apple" }

func (p *appleProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "form_post"))
}

func (p *appleProvider) Exchange(context.Context, string) (*Claim, error) {
	return nil, fmt.Errorf("apple sign-in: %w", ErrNotImplemented)
}

func str(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return strings.TrimSpace(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
