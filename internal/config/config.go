// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the JSON API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores (not allowed in production).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL (redis://host:6379/0) backs OAuth state, refresh revocation and rate limits. Empty selects in-memory.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTSecret signs tokens with HS256 when no key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey  string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// OTPTTL is how long a code stays valid.
	OTPTTL time.Duration `mapstructure:"OTP_TTL"`
	// OTPMaxAttempts is the number of wrong codes tolerated before the challenge locks.
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPReturnToClient surfaces the code in the response when delivery fails and enables GET /dev/otp.
	// Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// EmailProvider selects the email transport: "smtp" or "log".
	EmailProvider string `mapstructure:"EMAIL_PROVIDER"`
	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      int    `mapstructure:"SMTP_PORT"`
	SMTPUser      string `mapstructure:"SMTP_USER"`
	SMTPPassword  string `mapstructure:"SMTP_PASSWORD"`
	EmailFrom     string `mapstructure:"EMAIL_FROM"`

	// SMSProvider selects the SMS transport: "smslocal" or "log".
	SMSProvider    string `mapstructure:"SMS_PROVIDER"`
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender  string `mapstructure:"SMS_LOCAL_SENDER"`
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// PhoneEmailDomain is the domain of the address synthesized for phone-only accounts.
	PhoneEmailDomain string `mapstructure:"PHONE_EMAIL_DOMAIN"`

	// OAuthRedirectBaseURL is the public base URL providers redirect back to.
	OAuthRedirectBaseURL  string        `mapstructure:"OAUTH_REDIRECT_BASE_URL"`
	OAuthStateTTL         time.Duration `mapstructure:"OAUTH_STATE_TTL"`
	GoogleClientID        string        `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string        `mapstructure:"GOOGLE_CLIENT_SECRET"`
	MicrosoftClientID     string        `mapstructure:"MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string        `mapstructure:"MICROSOFT_CLIENT_SECRET"`
	MicrosoftTenant       string        `mapstructure:"MICROSOFT_TENANT"`
	AppleClientID         string        `mapstructure:"APPLE_CLIENT_ID"`
	// FirebaseProjectID enables POST /api/auth/firebase/phone.
	FirebaseProjectID string `mapstructure:"FIREBASE_PROJECT_ID"`
	// FrontendURL is the CORS origin and the OAuth callback redirect target.
	FrontendURL string `mapstructure:"FRONTEND_URL"`
	// PasswordResetURL is the page reset emails link to; defaults to FRONTEND_URL + /reset-password.
	PasswordResetURL string `mapstructure:"PASSWORD_RESET_URL"`

	// KafkaBrokers is a comma-separated list of broker addresses. Empty disables the event producer.
	KafkaBrokers        string `mapstructure:"KAFKA_BROKERS"`
	IdentityEventsTopic string `mapstructure:"IDENTITY_EVENTS_TOPIC"`
	// OTLPEndpoint (host:port or URL) enables OTLP export of traces, metrics and event logs.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// ChallengeRateLimit is the number of challenges per identity per ChallengeRateWindow; 0 disables it.
	ChallengeRateLimit  int           `mapstructure:"CHALLENGE_RATE_LIMIT"`
	ChallengeRateWindow time.Duration `mapstructure:"CHALLENGE_RATE_WINDOW"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "otp-identity")
	v.SetDefault("JWT_AUDIENCE", "otp-identity-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("EMAIL_PROVIDER", "log")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("EMAIL_FROM", "no-reply@otp-identity.local")
	v.SetDefault("SMS_PROVIDER", "log")
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://www.smslocal.com/dev/bulkV2")
	v.SetDefault("PHONE_EMAIL_DOMAIN", "otp-identity.local")
	v.SetDefault("OAUTH_REDIRECT_BASE_URL", "http://localhost:8000")
	v.SetDefault("OAUTH_STATE_TTL", "10m")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("MICROSOFT_CLIENT_ID", "")
	v.SetDefault("MICROSOFT_CLIENT_SECRET", "")
	v.SetDefault("MICROSOFT_TENANT", "common")
	v.SetDefault("APPLE_CLIENT_ID", "")
	v.SetDefault("FIREBASE_PROJECT_ID", "")
	v.SetDefault("FRONTEND_URL", "")
	v.SetDefault("PASSWORD_RESET_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("IDENTITY_EVENTS_TOPIC", "identity-events")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("CHALLENGE_RATE_LIMIT", 5)
	v.SetDefault("CHALLENGE_RATE_WINDOW", "15m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	if cfg.OTPReturnToClient && cfg.IsProduction() {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	if cfg.IsProduction() && cfg.JWTSecret == "" && (cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "") {
		return nil, errors.New("config: JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY must be set when APP_ENV=production")
	}
	if (cfg.JWTPrivateKey == "") != (cfg.JWTPublicKey == "") {
		return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.OTPTTL <= 0 {
		return nil, errors.New("config: OTP_TTL must be positive")
	}
	if cfg.OTPMaxAttempts < 1 {
		return nil, errors.New("config: OTP_MAX_ATTEMPTS must be at least 1")
	}

	cfg.EmailProvider = strings.ToLower(strings.TrimSpace(cfg.EmailProvider))
	switch cfg.EmailProvider {
	case "log":
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, errors.New("config: SMTP_HOST must be set when EMAIL_PROVIDER=smtp")
		}
	default:
		return nil, errors.New("config: EMAIL_PROVIDER must be smtp or log")
	}
	cfg.SMSProvider = strings.ToLower(strings.TrimSpace(cfg.SMSProvider))
	switch cfg.SMSProvider {
	case "log":
	case "smslocal":
		if cfg.SMSLocalAPIKey == "" {
			return nil, errors.New("config: SMS_LOCAL_API_KEY must be set when SMS_PROVIDER=smslocal")
		}
	default:
		return nil, errors.New("config: SMS_PROVIDER must be smslocal or log")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the identity event producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ResetURL returns the password reset page, or "" when neither PASSWORD_RESET_URL nor
// FRONTEND_URL is set (the email then carries the bare token).
func (c *Config) ResetURL() string {
	if u := strings.TrimSpace(c.PasswordResetURL); u != "" {
		return u
	}
	if u := strings.TrimRight(strings.TrimSpace(c.FrontendURL), "/"); u != "" {
		return u + "/reset-password"
	}
	return ""
}

// DevOTPEnabled reports whether GET /dev/otp is served.
func (c *Config) DevOTPEnabled() bool {
	return c.OTPReturnToClient && !c.IsProduction()
}
