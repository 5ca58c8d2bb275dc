// Package server exposes the identity service over HTTP (gin) and gRPC health.
package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"otp-identity/backend/internal/devotp"
	"otp-identity/backend/internal/identity/service"
	pendingdomain "otp-identity/backend/internal/pending/domain"
	"otp-identity/backend/internal/session"
	userdomain "otp-identity/backend/internal/user/domain"
)

// Authenticator is the part of service.AuthService the HTTP API calls.
type Authenticator interface {
	BeginChallenge(ctx context.Context, req service.BeginRequest) (*service.BeginResult, error)
	ResendChallenge(ctx context.Context, identity string) (*service.BeginResult, error)
	VerifyChallenge(ctx context.Context, identity, code string) (*service.AuthResult, error)
	OAuthBegin(ctx context.Context, provider string) (*service.OAuthStart, error)
	OAuthComplete(ctx context.Context, provider, state, code string) (*service.AuthResult, error)
	Login(ctx context.Context, identity, password string) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
	PhoneTokenLogin(ctx context.Context, idToken, name, password string) (*service.AuthResult, error)
	Me(ctx context.Context, userID string) (*userdomain.User, error)
	UpdateProfile(ctx context.Context, userID string, upd userdomain.ProfileUpdate) (*userdomain.User, error)
	DeleteAccount(ctx context.Context, userID, password string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password, confirm string) error
}

// ReadinessChecker reports whether backing services are reachable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Deps holds what the router needs. DevOTP and Health may be nil.
type Deps struct {
	Auth   Authenticator
	Tokens AccessValidator
	// DevOTP enables GET /dev/otp. Leave nil in production.
	DevOTP devotp.Store
	Health ReadinessChecker
	// FrontendURL is the CORS origin and the target of OAuth callback redirects.
	FrontendURL string
}

type handler struct {
	auth        Authenticator
	devOTP      devotp.Store
	health      ReadinessChecker
	frontendURL string
}

// NewRouter returns the gin engine serving the auth API.
func NewRouter(deps Deps) *gin.Engine {
	h := &handler{
		auth:        deps.Auth,
		devOTP:      deps.DevOTP,
		health:      deps.Health,
		frontendURL: strings.TrimRight(deps.FrontendURL, "/"),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(h.frontendURL))
	router.Use(clientIP())

	router.GET("/healthz", h.healthz)
	router.GET("/readyz", h.readyz)

	api := router.Group("/api/auth")
	api.POST("/register", h.register)
	api.POST("/verify-otp", h.verifyOTP)
	api.POST("/resend-otp", h.resendOTP)
	api.POST("/login", h.login)
	api.POST("/logout", requireAuth(deps.Tokens, true), h.logout)
	api.POST("/token/refresh", h.refresh)
	api.POST("/forgot-password", h.forgotPassword)
	api.POST("/reset-password", h.resetPassword)
	api.GET("/oauth/:provider", h.oauthBegin)
	api.GET("/oauth/:provider/callback", h.oauthCallback)
	api.POST("/oauth/:provider/callback", h.oauthCallback)
	api.POST("/phone/register", h.register)
	api.POST("/phone/login", h.phoneLogin)
	api.POST("/phone/verify-otp", h.verifyOTP)
	api.POST("/firebase/phone", h.firebasePhone)

	authed := api.Group("", requireAuth(deps.Tokens, false))
	authed.GET("/me", h.me)
	authed.PATCH("/profile", h.updateProfile)
	authed.DELETE("/account", h.deleteAccount)

	if h.devOTP != nil {
		router.GET("/dev/otp", h.devOTPLookup)
	}
	return router
}

// challengeRequest accepts the identity as identity, email or phone.
type challengeRequest struct {
	Identity    string `json:"identity"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Name        string `json:"name"`
	Password    string `json:"password"`
	Password2   string `json:"password2"`
	AvatarColor string `json:"avatar_color"`
	OTP         string `json:"otp"`
}

func (r challengeRequest) identity() string {
	for _, v := range []string{r.Identity, r.Email, r.Phone} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type profileRequest struct {
	Name         *string `json:"name"`
	AvatarColor  *string `json:"avatar_color"`
	ProfileImage *string `json:"profile_image"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token     string `json:"token"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

type phoneTokenRequest struct {
	IDToken  string `json:"id_token"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func bind(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func (h *handler) register(c *gin.Context) {
	var req challengeRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.BeginChallenge(c.Request.Context(), service.BeginRequest{
		Identity:        req.identity(),
		Purpose:         pendingdomain.PurposeRegistration,
		Name:            req.Name,
		Password:        req.Password,
		PasswordConfirm: req.Password2,
		AvatarColor:     req.AvatarColor,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeJSON(res))
}

func (h *handler) phoneLogin(c *gin.Context) {
	var req challengeRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.BeginChallenge(c.Request.Context(), service.BeginRequest{
		Identity: req.identity(),
		Purpose:  pendingdomain.PurposeLogin,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeJSON(res))
}

func (h *handler) resendOTP(c *gin.Context) {
	var req challengeRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.ResendChallenge(c.Request.Context(), req.identity())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeJSON(res))
}

func (h *handler) verifyOTP(c *gin.Context) {
	var req challengeRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.VerifyChallenge(c.Request.Context(), req.identity(), req.OTP)
	if err != nil {
		writeError(c, err)
		return
	}
	status, msg := http.StatusOK, "Signed in successfully"
	if res.Created {
		status, msg = http.StatusCreated, "Account verified successfully"
	}
	c.JSON(status, authJSON(res, msg))
}

func (h *handler) login(c *gin.Context) {
	var req challengeRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.identity(), req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, authJSON(res, "Signed in successfully"))
}

func (h *handler) logout(c *gin.Context) {
	var req refreshRequest
	if !bind(c, &req) {
		return
	}
	if err := h.auth.Logout(c.Request.Context(), req.Refresh); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *handler) refresh(c *gin.Context) {
	var req refreshRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.Refresh(c.Request.Context(), req.Refresh)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokensJSON(res))
}

func (h *handler) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bind(c, &req) {
		return
	}
	if err := h.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If an account exists for this email, a reset link has been sent"})
}

func (h *handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bind(c, &req) {
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.Token, req.Password, req.Password2); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password reset successfully"})
}

func (h *handler) me(c *gin.Context) {
	userID, _ := session.UserID(c.Request.Context())
	usr, err := h.auth.Me(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userJSON(usr)})
}

func (h *handler) updateProfile(c *gin.Context) {
	var req profileRequest
	if !bind(c, &req) {
		return
	}
	userID, _ := session.UserID(c.Request.Context())
	usr, err := h.auth.UpdateProfile(c.Request.Context(), userID, userdomain.ProfileUpdate{
		Name:         req.Name,
		AvatarColor:  req.AvatarColor,
		ProfileImage: req.ProfileImage,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userJSON(usr)})
}

func (h *handler) deleteAccount(c *gin.Context) {
	var req deleteAccountRequest
	if !bind(c, &req) {
		return
	}
	userID, _ := session.UserID(c.Request.Context())
	if err := h.auth.DeleteAccount(c.Request.Context(), userID, req.Password); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Account deleted"})
}

func (h *handler) firebasePhone(c *gin.Context) {
	var req phoneTokenRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.PhoneTokenLogin(c.Request.Context(), req.IDToken, req.Name, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, authJSON(res, "Signed in successfully"))
}

func (h *handler) oauthBegin(c *gin.Context) {
	start, err := h.auth.OAuthBegin(c.Request.Context(), c.Param("provider"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": start.AuthorizeURL, "state": start.State})
}

// oauthCallback completes the provider redirect. With a frontend configured the browser is sent
// to {FRONTEND_URL}/oauth/callback carrying the tokens in the fragment, or ?error= on failure.
func (h *handler) oauthCallback(c *gin.Context) {
	code, state := c.Query("code"), c.Query("state")
	if c.Request.Method == http.MethodPost {
		code, state = c.PostForm("code"), c.PostForm("state")
	}
	if providerErr := c.Query("error"); providerErr != "" {
		h.oauthFailed(c, http.StatusBadRequest, gin.H{"error": providerErr})
		return
	}
	if code == "" {
		h.oauthFailed(c, http.StatusBadRequest, gin.H{"error": "authorization code not provided"})
		return
	}
	res, err := h.auth.OAuthComplete(c.Request.Context(), c.Param("provider"), state, code)
	if err != nil {
		status, body := errorStatus(err)
		if status == http.StatusInternalServerError {
			writeError(c, err)
			return
		}
		h.oauthFailed(c, status, body)
		return
	}
	if h.frontendURL == "" {
		c.JSON(http.StatusOK, authJSON(res, "Signed in successfully"))
		return
	}
	frag := url.Values{}
	frag.Set("access", res.Tokens.AccessToken)
	frag.Set("refresh", res.Tokens.RefreshToken)
	frag.Set("name", res.User.Name)
	frag.Set("email", res.User.Email)
	frag.Set("avatar_color", res.User.AvatarColor)
	frag.Set("profile_image", res.User.ProfileImage)
	c.Redirect(http.StatusFound, h.frontendURL+"/oauth/callback#"+frag.Encode())
}

func (h *handler) oauthFailed(c *gin.Context, status int, body gin.H) {
	if h.frontendURL == "" {
		c.AbortWithStatusJSON(status, body)
		return
	}
	msg, _ := body["error"].(string)
	c.Redirect(http.StatusFound, h.frontendURL+"/oauth/callback?"+url.Values{"error": {msg}}.Encode())
}

func (h *handler) devOTPLookup(c *gin.Context) {
	key, _, err := pendingdomain.NormalizeKey(c.Query("identity"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	code, ok := h.devOTP.Get(c.Request.Context(), key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no code for this identity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": key, "otp": code})
}

func (h *handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) readyz(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func challengeJSON(res *service.BeginResult) gin.H {
	body := gin.H{
		"message":    "Verification code sent",
		"identity":   res.Identity,
		"channel":    string(res.Channel),
		"pending_id": res.PendingID,
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
	}
	if res.DeliveryFailed {
		body["message"] = "Could not send the verification code"
		body["warning"] = res.Warning
	}
	if res.DevCode != "" {
		body["otp"] = res.DevCode
	}
	return body
}

func authJSON(res *service.AuthResult, msg string) gin.H {
	return gin.H{
		"user":    userJSON(res.User),
		"tokens":  tokensJSON(res),
		"message": msg,
	}
}

func tokensJSON(res *service.AuthResult) gin.H {
	return gin.H{
		"access":             res.Tokens.AccessToken,
		"refresh":            res.Tokens.RefreshToken,
		"access_expires_at":  res.Tokens.AccessExpiresAt.Format(time.RFC3339),
		"refresh_expires_at": res.Tokens.RefreshExpiresAt.Format(time.RFC3339),
	}
}

func userJSON(u *userdomain.User) gin.H {
	out := gin.H{
		"id":            u.ID,
		"email":         u.Email,
		"phone":         u.Phone,
		"name":          u.Name,
		"avatar_color":  u.AvatarColor,
		"profile_image": u.ProfileImage,
		"status":        string(u.Status),
		"created_at":    u.CreatedAt.Format(time.RFC3339),
	}
	if u.OAuthProvider != "" {
		out["oauth_provider"] = u.OAuthProvider
	}
	return out
}
