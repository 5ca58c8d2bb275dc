// Package service implements the identity flows: OTP challenges for email and phone,
// password and phone-token sign-in, OAuth sign-in and session refresh.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"otp-identity/backend/internal/audit"
	auditdomain "otp-identity/backend/internal/audit/domain"
	"otp-identity/backend/internal/challenge"
	"otp-identity/backend/internal/devotp"
	"otp-identity/backend/internal/events"
	"otp-identity/backend/internal/notify"
	"otp-identity/backend/internal/oauth"
	"otp-identity/backend/internal/otp"
	pendingdomain "otp-identity/backend/internal/pending/domain"
	pendingrepo "otp-identity/backend/internal/pending/repository"
	"otp-identity/backend/internal/ratelimit"
	"otp-identity/backend/internal/security"
	"otp-identity/backend/internal/session"
	userdomain "otp-identity/backend/internal/user/domain"
)

// UserRepo is the user repository surface the auth service needs.
type UserRepo interface {
	UserStore
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	SetPassword(ctx context.Context, userID, passwordHash string, at time.Time) (bool, error)
	UpdateProfile(ctx context.Context, userID string, p userdomain.ProfileUpdate) error
	Delete(ctx context.Context, userID string) error
}

// PhoneTokenVerifier verifies client-side phone-auth ID tokens.
type PhoneTokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*oauth.PhoneClaim, error)
}

// Metrics receives counters for the auth flows. *otel.Metrics implements it.
type Metrics interface {
	ChallengeIssued(ctx context.Context, purpose string)
	Verification(ctx context.Context, result string)
	Delivery(ctx context.Context, channel string, delivered bool)
	SignIn(ctx context.Context, method string)
}

type noopMetrics struct{}

func (noopMetrics) ChallengeIssued(context.Context, string) {}
func (noopMetrics) Verification(context.Context, string)    {}
func (noopMetrics) Delivery(context.Context, string, bool)  {}
func (noopMetrics) SignIn(context.Context, string)          {}

// Deps are the collaborators of AuthService. Pending, Users, Sessions, Dispatcher and Hasher
// are required; the rest may be nil.
type Deps struct {
	Pending     pendingrepo.Repository
	Users       UserRepo
	Sessions    *session.Issuer
	Dispatcher  *notify.Dispatcher
	Hasher      *security.Hasher
	OAuth       *oauth.Guard
	PhoneTokens PhoneTokenVerifier
	DevOTP      devotp.Store
	Limiter     ratelimit.Limiter
	Audit       audit.AuditLogger
	Events      events.Emitter
	Metrics     Metrics
}

// Config holds the per-deployment knobs of AuthService.
type Config struct {
	Policy           challenge.Policy
	PhoneEmailDomain string
	// ReturnCodeToClient surfaces the raw code when delivery fails. Config loading refuses it in production.
	ReturnCodeToClient bool
	// ResetURL is the frontend page that accepts a password reset token as ?token=.
	// When empty the emailed message carries the bare token.
	ResetURL string
}

// BeginRequest starts (or restarts) a challenge for an identity.
type BeginRequest struct {
	Identity        string
	Purpose         pendingdomain.Purpose
	Name            string
	Password        string
	PasswordConfirm string
	AvatarColor     string
}

// BeginResult is the pending reference returned by BeginChallenge and ResendChallenge.
type BeginResult struct {
	PendingID string
	Identity  string
	Channel   notify.Channel
	ExpiresAt time.Time
	// DeliveryFailed is set when the code could not be sent; the challenge stays valid.
	DeliveryFailed bool
	Warning        string
	// DevCode is the raw code, only when delivery failed and the deployment allows it.
	DevCode string
}

// AuthResult is a signed-in user with fresh credentials.
type AuthResult struct {
	User    *userdomain.User
	Tokens  *session.Pair
	Created bool
}

// OAuthStart is the redirect target of an OAuth sign-in.
type OAuthStart struct {
	AuthorizeURL string
	State        string
}

// AuthService implements the identity flows on top of the pending store, verifier, unifier and issuer.
type AuthService struct {
	pending     pendingrepo.Repository
	users       UserRepo
	verifier    *challenge.Verifier
	unifier     *Unifier
	sessions    *session.Issuer
	dispatcher  *notify.Dispatcher
	hasher      *security.Hasher
	oauth       *oauth.Guard
	phoneTokens PhoneTokenVerifier
	devOTP      devotp.Store
	limiter     ratelimit.Limiter
	audit       audit.AuditLogger
	events      events.Emitter
	metrics     Metrics
	cfg         Config
	nowF        func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(deps Deps, cfg Config) *AuthService {
	cfg.Policy = cfg.Policy.WithDefaults()
	s := &AuthService{
		pending:     deps.Pending,
		users:       deps.Users,
		sessions:    deps.Sessions,
		dispatcher:  deps.Dispatcher,
		hasher:      deps.Hasher,
		oauth:       deps.OAuth,
		phoneTokens: deps.PhoneTokens,
		devOTP:      deps.DevOTP,
		limiter:     deps.Limiter,
		audit:       deps.Audit,
		events:      deps.Events,
		metrics:     deps.Metrics,
		cfg:         cfg,
		nowF:        time.Now,
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.dispatcher == nil {
		s.dispatcher = notify.NewDispatcher(nil)
	}
	s.unifier = NewUnifier(deps.Users, deps.Hasher, cfg.PhoneEmailDomain)
	s.verifier = challenge.NewVerifier(deps.Pending, cfg.Policy, s.now)
	return s
}

func (s *AuthService) now() time.Time {
	return s.nowF().UTC()
}

// Unifier returns the identity unifier used by the service.
func (s *AuthService) Unifier() *Unifier {
	return s.unifier
}

// BeginChallenge stages req and sends a fresh code. Registration requires the identity to be
// unused; login requires an existing active account. A prior pending entry for the identity is
// replaced, so only the newest code verifies.
func (s *AuthService) BeginChallenge(ctx context.Context, req BeginRequest) (*BeginResult, error) {
	key, kind, err := pendingdomain.NormalizeKey(req.Identity)
	if err != nil {
		return nil, invalid("identity", err.Error())
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = pendingdomain.PurposeRegistration
	}
	if purpose != pendingdomain.PurposeRegistration && purpose != pendingdomain.PurposeLogin {
		return nil, invalid("purpose", "purpose must be registration or login")
	}
	if err := s.allow(ctx, key); err != nil {
		return nil, err
	}

	p := &pendingdomain.PendingIdentity{
		ID:      uuid.New().String(),
		Key:     key,
		KeyKind: kind,
	}
	existing, err := s.unifier.Lookup(ctx, key, kind)
	if err != nil {
		return nil, s.storeFault("begin: lookup user", key, err)
	}
	switch purpose {
	case pendingdomain.PurposeRegistration:
		if existing != nil {
			return nil, ErrAlreadyExists
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			return nil, invalid("name", "name is required")
		}
		if err := validatePassword(req.Password); err != nil {
			return nil, err
		}
		if req.PasswordConfirm != "" && req.PasswordConfirm != req.Password {
			return nil, invalid("password2", "passwords do not match")
		}
		hash, err := s.hasher.Hash([]byte(req.Password))
		if err != nil {
			return nil, err
		}
		p.Name, p.PasswordHash, p.AvatarColor = name, hash, strings.TrimSpace(req.AvatarColor)
	case pendingdomain.PurposeLogin:
		if existing == nil {
			return nil, ErrUserNotFound
		}
		if !existing.Active() {
			return nil, ErrAccountDisabled
		}
	}

	code, err := otp.Generate()
	if err != nil {
		return nil, err
	}
	now := s.now()
	p.CreatedAt = now
	p.Challenge = pendingdomain.Challenge{CodeHash: otp.Hash(code), CreatedAt: now, Purpose: purpose}
	if err := s.pending.Upsert(ctx, p); err != nil {
		return nil, s.storeFault("begin: upsert pending", key, err)
	}
	s.metrics.ChallengeIssued(ctx, string(purpose))
	s.logAudit(ctx, userIDOf(existing), key, auditdomain.ActionChallengeIssued, "purpose="+string(purpose))
	events.EmitAsync(s.events, &events.Event{Type: events.ChallengeNew, UserID: userIDOf(existing), Method: methodFor(kind), OccurredAt: now})
	return s.deliver(ctx, p, code), nil
}

// ResendChallenge issues a new code for the identity's pending entry, resetting attempts and the TTL clock.
func (s *AuthService) ResendChallenge(ctx context.Context, identity string) (*BeginResult, error) {
	key, _, err := pendingdomain.NormalizeKey(identity)
	if err != nil {
		return nil, invalid("identity", err.Error())
	}
	if err := s.allow(ctx, key); err != nil {
		return nil, err
	}
	p, err := s.pending.GetByKey(ctx, key)
	if err != nil {
		return nil, s.storeFault("resend: get pending", key, err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	code, err := otp.Generate()
	if err != nil {
		return nil, err
	}
	now := s.now()
	ok, err := s.pending.RefreshChallenge(ctx, p.ID, otp.Hash(code), now)
	if err != nil {
		return nil, s.storeFault("resend: refresh challenge", key, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	p.Challenge.CodeHash, p.Challenge.CreatedAt, p.Challenge.Attempts = otp.Hash(code), now, 0
	s.metrics.ChallengeIssued(ctx, string(p.Challenge.Purpose))
	s.logAudit(ctx, "", key, auditdomain.ActionChallengeIssued, "resend=true")
	return s.deliver(ctx, p, code), nil
}

// VerifyChallenge checks code for identity. On success the pending entry is consumed, the user is
// resolved (created for registrations) and a session pair is issued. Challenge failures are
// challenge.ErrExpired, challenge.ErrLockedOut, challenge.ErrSuperseded or *challenge.InvalidCodeError.
func (s *AuthService) VerifyChallenge(ctx context.Context, identity, code string) (*AuthResult, error) {
	key, kind, err := pendingdomain.NormalizeKey(identity)
	if err != nil {
		return nil, invalid("identity", err.Error())
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, invalid("otp", "code is required")
	}
	p, err := s.pending.GetByKey(ctx, key)
	if err != nil {
		return nil, s.storeFault("verify: get pending", key, err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	state, err := s.verifier.Verify(ctx, p, code)
	if err != nil {
		s.metrics.Verification(ctx, verificationResult(state, err))
		var invalidCode *challenge.InvalidCodeError
		if errors.Is(err, challenge.ErrExpired) || errors.Is(err, challenge.ErrLockedOut) ||
			errors.Is(err, challenge.ErrSuperseded) || errors.As(err, &invalidCode) {
			s.logAudit(ctx, "", key, auditdomain.ActionChallengeFailed, "state="+string(state))
			return nil, err
		}
		return nil, s.storeFault("verify: check code", key, err)
	}
	s.metrics.Verification(ctx, string(challenge.StateVerified))

	var (
		usr     *userdomain.User
		created bool
	)
	if p.Challenge.Purpose == pendingdomain.PurposeLogin {
		usr, err = s.unifier.Lookup(ctx, key, kind)
		if err != nil {
			return nil, s.storeFault("verify: lookup user", key, err)
		}
		if usr == nil {
			return nil, ErrUserNotFound
		}
		if !usr.Active() {
			return nil, ErrAccountDisabled
		}
	} else {
		usr, created, err = s.unifier.Resolve(ctx, Claim{
			Origin:       OriginChallenge,
			Key:          key,
			KeyKind:      kind,
			Name:         p.Name,
			PasswordHash: p.PasswordHash,
			AvatarColor:  p.AvatarColor,
			ProfileImage: p.ProfileImage,
		})
		if err != nil {
			return nil, s.resolveFault("verify", key, err)
		}
	}
	if s.devOTP != nil {
		s.devOTP.Delete(ctx, key)
	}
	return s.signIn(ctx, usr, created, methodFor(kind), "")
}

// OAuthBegin returns the provider redirect for a new handshake.
func (s *AuthService) OAuthBegin(ctx context.Context, provider string) (*OAuthStart, error) {
	if s.oauth == nil || !s.oauth.Supports(provider) {
		return nil, oauth.ErrUnsupportedProvider
	}
	url, state, err := s.oauth.Begin(ctx, provider)
	if err != nil {
		return nil, err
	}
	return &OAuthStart{AuthorizeURL: url, State: state}, nil
}

// OAuthComplete finishes a handshake: the state is checked and consumed, the code exchanged,
// and the asserted identity unified into one user. An email owned by a different OAuth
// account fails with ErrIdentityConflict.
func (s *AuthService) OAuthComplete(ctx context.Context, provider, state, code string) (*AuthResult, error) {
	if s.oauth == nil {
		return nil, oauth.ErrUnsupportedProvider
	}
	claim, err := s.oauth.Complete(ctx, provider, state, code)
	if err != nil {
		if errors.Is(err, oauth.ErrCSRFRejected) {
			s.logAudit(ctx, "", "", auditdomain.ActionOAuthRejected, "provider="+provider)
		}
		return nil, err
	}
	key, kind, err := pendingdomain.NormalizeKey(claim.Email)
	if err != nil || kind != pendingdomain.KeyKindEmail {
		return nil, fmt.Errorf("%w: unusable email from provider", oauth.ErrProviderExchangeFailed)
	}
	usr, created, err := s.unifier.Resolve(ctx, Claim{
		Origin:       OriginOAuth,
		Key:          key,
		KeyKind:      kind,
		Name:         claim.Name,
		ProfileImage: claim.Picture,
		Provider:     claim.Provider,
		Subject:      claim.Subject,
	})
	if err != nil {
		if errors.Is(err, ErrIdentityConflict) {
			s.logAudit(ctx, "", key, auditdomain.ActionOAuthRejected, "provider="+claim.Provider+" reason=conflict")
		}
		return nil, s.resolveFault("oauth", key, err)
	}
	s.logAudit(ctx, usr.ID, key, auditdomain.ActionOAuthLinked, "provider="+claim.Provider)
	events.EmitAsync(s.events, &events.Event{Type: events.OAuthLinked, UserID: usr.ID, Method: events.MethodOAuth, Provider: claim.Provider})
	return s.signIn(ctx, usr, created, events.MethodOAuth, claim.Provider)
}

// Login authenticates with an email (or phone) and password.
func (s *AuthService) Login(ctx context.Context, identity, password string) (*AuthResult, error) {
	key, kind, err := pendingdomain.NormalizeKey(identity)
	if err != nil || password == "" {
		return nil, ErrInvalidCredentials
	}
	usr, err := s.unifier.Lookup(ctx, key, kind)
	if err != nil {
		return nil, s.storeFault("login: lookup user", key, err)
	}
	if usr == nil || !usr.HasPassword() {
		s.logAudit(ctx, "", key, auditdomain.ActionLoginFailure, "")
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(usr.PasswordHash, []byte(password)); err != nil {
		s.logAudit(ctx, usr.ID, key, auditdomain.ActionLoginFailure, "")
		return nil, ErrInvalidCredentials
	}
	if !usr.Active() {
		return nil, ErrAccountDisabled
	}
	return s.signIn(ctx, usr, false, events.MethodPassword, "")
}

// Refresh rotates a refresh token into a new pair. A token can be exchanged once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidRefreshToken
	}
	pair, usr, err := s.sessions.Refresh(ctx, refreshToken)
	switch {
	case errors.Is(err, session.ErrInvalidRefreshToken):
		return nil, ErrInvalidRefreshToken
	case errors.Is(err, session.ErrUserInactive):
		return nil, ErrAccountDisabled
	case err != nil:
		log.Printf("auth: refresh: %v", err)
		return nil, err
	}
	s.logAudit(ctx, usr.ID, "", auditdomain.ActionTokenRefresh, "")
	return &AuthResult{User: usr, Tokens: pair}, nil
}

// Logout revokes the refresh token. It always succeeds for the caller: unknown, malformed or
// already revoked tokens are ignored and revocation store faults are only logged.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
		log.Printf("auth: logout: revoke: %v", err)
	}
	userID, _ := session.UserID(ctx)
	s.logAudit(ctx, userID, "", auditdomain.ActionLogout, "")
	if userID != "" {
		events.EmitAsync(s.events, &events.Event{Type: events.UserLogout, UserID: userID})
	}
	return nil
}

// PhoneTokenLogin signs in with a verified phone-auth ID token, registering the phone when it is
// new. Registration needs a name (ErrRegistrationRequired otherwise); the password is optional.
func (s *AuthService) PhoneTokenLogin(ctx context.Context, idToken, name, password string) (*AuthResult, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, invalid("firebase_token", "firebase token is required")
	}
	if s.phoneTokens == nil {
		return nil, oauth.ErrPhoneTokenUnavailable
	}
	claim, err := s.phoneTokens.Verify(ctx, idToken)
	if err != nil {
		return nil, err
	}
	key, kind, err := pendingdomain.NormalizeKey(claim.Phone)
	if err != nil || kind != pendingdomain.KeyKindPhone {
		return nil, oauth.ErrPhoneMissing
	}
	usr, err := s.unifier.Lookup(ctx, key, kind)
	if err != nil {
		return nil, s.storeFault("phone token: lookup user", key, err)
	}
	if usr != nil {
		if !usr.Active() {
			return nil, ErrAccountDisabled
		}
		return s.signIn(ctx, usr, false, events.MethodPhoneToken, "")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrRegistrationRequired
	}
	var hash string
	if password != "" {
		if err := validatePassword(password); err != nil {
			return nil, err
		}
		hash, err = s.hasher.Hash([]byte(password))
	} else {
		hash, err = s.hasher.HashRandom()
	}
	if err != nil {
		return nil, err
	}
	usr, created, err := s.unifier.Resolve(ctx, Claim{Origin: OriginChallenge, Key: key, KeyKind: kind, Name: name, PasswordHash: hash})
	if err != nil {
		return nil, s.resolveFault("phone token", key, err)
	}
	return s.signIn(ctx, usr, created, events.MethodPhoneToken, "")
}

// ForgotPassword emails a single-use reset link valid for one hour. The outcome is the same
// whether or not an account exists, so callers cannot tell which emails are registered.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	key, kind, err := pendingdomain.NormalizeKey(email)
	if err != nil || kind != pendingdomain.KeyKindEmail {
		return invalid("email", "enter a valid email address")
	}
	if err := s.allow(ctx, "reset:"+key); err != nil {
		return err
	}
	usr, err := s.users.GetByEmail(ctx, key)
	if err != nil {
		return s.storeFault("forgot password: lookup user", key, err)
	}
	if usr == nil || !usr.Active() || s.unifier.Synthesized(usr.Email) {
		s.logAudit(ctx, "", key, auditdomain.ActionResetRequested, "account=none")
		return nil
	}
	token, _, err := s.sessions.IssueReset(usr)
	if err != nil {
		return s.storeFault("forgot password: issue token", key, err)
	}
	link := token
	if s.cfg.ResetURL != "" {
		link = s.cfg.ResetURL + "?token=" + url.QueryEscape(token)
	}
	out := s.dispatcher.Send(ctx, notify.Message{
		Channel:     notify.ChannelEmail,
		Destination: usr.Email,
		Subject:     "Reset your password",
		Text: "Hi " + usr.Name + ",\n\nUse the link below to reset your password:\n" + link +
			"\n\nThe link expires in one hour. If you did not ask for this, ignore this email.",
	})
	s.metrics.Delivery(ctx, string(notify.ChannelEmail), out.Delivered)
	s.logAudit(ctx, usr.ID, key, auditdomain.ActionResetRequested, fmt.Sprintf("delivered=%t", out.Delivered))
	return nil
}

// ResetPassword sets a new password with a token from ForgotPassword. The token is consumed
// before the password is stored and cannot be replayed.
func (s *AuthService) ResetPassword(ctx context.Context, token, password, confirm string) error {
	if strings.TrimSpace(token) == "" {
		return invalid("token", "reset token is required")
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	if confirm != "" && confirm != password {
		return invalid("password2", "passwords do not match")
	}
	usr, err := s.sessions.RedeemReset(ctx, token)
	switch {
	case errors.Is(err, session.ErrInvalidResetToken):
		return ErrInvalidResetToken
	case err != nil:
		log.Printf("auth: reset password: %v", err)
		return err
	}
	hash, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return err
	}
	ok, err := s.users.SetPassword(ctx, usr.ID, hash, s.now())
	if err != nil {
		return s.storeFault("reset password: store", usr.Email, err)
	}
	if !ok {
		return ErrInvalidResetToken
	}
	s.logAudit(ctx, usr.ID, usr.Email, auditdomain.ActionPasswordReset, "")
	events.EmitAsync(s.events, &events.Event{Type: events.PasswordSet, UserID: usr.ID, Method: events.MethodPassword})
	return nil
}

// Me returns the current state of userID.
func (s *AuthService) Me(ctx context.Context, userID string) (*userdomain.User, error) {
	usr, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	if usr == nil {
		return nil, ErrUserNotFound
	}
	return usr, nil
}

// UpdateProfile changes the user-editable profile fields and returns the updated user.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, upd userdomain.ProfileUpdate) (*userdomain.User, error) {
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return nil, invalid("name", "name cannot be empty")
		}
		upd.Name = &trimmed
	}
	usr, err := s.Me(ctx, userID)
	if err != nil || upd.Empty() {
		return usr, err
	}
	if err := s.users.UpdateProfile(ctx, userID, upd); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	upd.Apply(usr)
	s.logAudit(ctx, userID, "", auditdomain.ActionProfileUpdate, "")
	return usr, nil
}

// DeleteAccount removes userID. When password is given it must match the account's password.
func (s *AuthService) DeleteAccount(ctx context.Context, userID, password string) error {
	usr, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if password != "" {
		if !usr.HasPassword() || s.hasher.Compare(usr.PasswordHash, []byte(password)) != nil {
			return ErrInvalidCredentials
		}
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.logAudit(ctx, userID, "", auditdomain.ActionAccountDeleted, "")
	return nil
}

// signIn issues a pair for usr and records the sign-in.
func (s *AuthService) signIn(ctx context.Context, usr *userdomain.User, created bool, method events.Method, provider string) (*AuthResult, error) {
	pair, err := s.sessions.Issue(ctx, usr)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.users.TouchLastLogin(ctx, usr.ID, now); err != nil {
		log.Printf("auth: touch last login user=%s: %v", usr.ID, err)
	} else {
		usr.LastLoginAt = &now
	}
	action := auditdomain.ActionLogin
	if created {
		action = auditdomain.ActionRegister
		events.EmitAsync(s.events, &events.Event{Type: events.UserCreated, UserID: usr.ID, Method: method, Provider: provider, OccurredAt: now})
	}
	s.logAudit(ctx, usr.ID, "", action, "method="+string(method))
	events.EmitAsync(s.events, &events.Event{Type: events.UserLogin, UserID: usr.ID, Method: method, Provider: provider, OccurredAt: now})
	s.metrics.SignIn(ctx, string(method))
	return &AuthResult{User: usr, Tokens: pair, Created: created}, nil
}

// deliver sends code for p. Delivery failure never fails the flow; it is reported on the result.
func (s *AuthService) deliver(ctx context.Context, p *pendingdomain.PendingIdentity, code string) *BeginResult {
	ch := notify.ChannelEmail
	if p.KeyKind == pendingdomain.KeyKindPhone {
		ch = notify.ChannelSMS
	}
	ttl := s.cfg.Policy.TTL
	out := s.dispatcher.Send(ctx, notify.Message{
		Channel:     ch,
		Destination: p.Key,
		Subject:     "Your verification code",
		Text:        fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes())),
		Code:        code,
	})
	s.metrics.Delivery(ctx, string(ch), out.Delivered)
	res := &BeginResult{
		PendingID: p.ID,
		Identity:  p.Key,
		Channel:   ch,
		ExpiresAt: p.ExpiresAt(ttl),
	}
	if s.devOTP != nil {
		s.devOTP.Put(ctx, p.Key, code, res.ExpiresAt)
	}
	if !out.Delivered {
		res.DeliveryFailed = true
		res.Warning = "could not send the code: " + out.Reason
		if s.cfg.ReturnCodeToClient {
			res.DevCode = code
		}
	}
	return res
}

// allow applies the challenge rate limit. A limiter outage fails open.
func (s *AuthService) allow(ctx context.Context, key string) error {
	if s.limiter == nil {
		return nil
	}
	err := s.limiter.Allow(ctx, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ratelimit.ErrLimited):
		return ErrRateLimited
	default:
		log.Printf("auth: rate limiter for %s: %v", notify.RedactDestination(key), err)
		return nil
	}
}

func (s *AuthService) storeFault(op, key string, err error) error {
	log.Printf("auth: %s identity=%s: %v", op, notify.RedactDestination(key), err)
	return fmt.Errorf("%s: %w", op, err)
}

// resolveFault passes the unifier's domain errors through and logs everything else as a store fault.
func (s *AuthService) resolveFault(op, key string, err error) error {
	var verr *ValidationError
	if errors.Is(err, ErrAccountDisabled) || errors.Is(err, ErrIdentityConflict) || errors.As(err, &verr) {
		return err
	}
	return s.storeFault(op+": resolve user", key, err)
}

func (s *AuthService) logAudit(ctx context.Context, userID, key string, action auditdomain.Action, metadata string) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, userID, notify.RedactDestination(key), action, metadata)
}

func userIDOf(u *userdomain.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func methodFor(kind pendingdomain.KeyKind) events.Method {
	if kind == pendingdomain.KeyKindPhone {
		return events.MethodPhoneOTP
	}
	return events.MethodEmailOTP
}

func verificationResult(state challenge.State, err error) string {
	switch {
	case errors.Is(err, challenge.ErrExpired):
		return "expired"
	case errors.Is(err, challenge.ErrLockedOut):
		return "locked"
	case errors.Is(err, challenge.ErrSuperseded):
		return "superseded"
	case state == challenge.StateActive:
		return "invalid"
	default:
		return "error"
	}
}

// validatePassword enforces the password policy for new credentials.
func validatePassword(password string) error {
	if len(password) < 8 {
		return invalid("password", "password must be at least 8 characters")
	}
	var hasLetter, hasNumber bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasNumber = true
		}
	}
	if !hasLetter {
		return invalid("password", "password must contain at least one letter")
	}
	if !hasNumber {
		return invalid("password", "password must contain at least one number")
	}
	return nil
}
