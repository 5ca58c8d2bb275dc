package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"otp-identity/backend/internal/audit"
	auditrepo "otp-identity/backend/internal/audit/repository"
	"otp-identity/backend/internal/challenge"
	"otp-identity/backend/internal/config"
	"otp-identity/backend/internal/db"
	"otp-identity/backend/internal/devotp"
	"otp-identity/backend/internal/events"
	"otp-identity/backend/internal/health"
	"otp-identity/backend/internal/identity/service"
	"otp-identity/backend/internal/notify"
	"otp-identity/backend/internal/notify/email"
	"otp-identity/backend/internal/notify/sms"
	"otp-identity/backend/internal/oauth"
	pendingrepo "otp-identity/backend/internal/pending/repository"
	"otp-identity/backend/internal/ratelimit"
	"otp-identity/backend/internal/security"
	"otp-identity/backend/internal/server"
	"otp-identity/backend/internal/session"
	telemetryotel "otp-identity/backend/internal/telemetry/otel"
	userrepo "otp-identity/backend/internal/user/repository"
)

const (
	serviceName     = "otp-identity"
	redisPrefix     = "otp-identity"
	janitorInterval = 15 * time.Minute
	pendingRetain   = 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	otelProviders.SetGlobal()
	metrics, err := telemetryotel.NewMetrics(otelProviders.MeterProvider)
	if err != nil {
		log.Fatalf("otel metrics: %v", err)
	}

	var (
		database *sql.DB
		users    userrepo.Repository
		pending  pendingrepo.Repository
		audits   auditrepo.Repository
	)
	if cfg.DatabaseURL != "" {
		database, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer database.Close()
		users = userrepo.NewPostgresRepository(database)
		pending = pendingrepo.NewPostgresRepository(database)
		audits = auditrepo.NewPostgresRepository(database)
	} else {
		log.Println("DATABASE_URL not set; using in-memory stores")
		users = userrepo.NewMemoryRepository()
		pending = pendingrepo.NewMemoryRepository()
		audits = auditrepo.NewMemoryRepository()
	}

	var (
		revoked session.RevocationList
		states  oauth.StateStore
		limiter ratelimit.Limiter
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		revoked = session.NewRedisRevocationList(rdb, redisPrefix+":session")
		states = oauth.NewRedisStateStore(rdb, redisPrefix+":oauth")
		if cfg.ChallengeRateLimit > 0 {
			limiter = ratelimit.NewRedisLimiter(rdb, redisPrefix+":challenge_rate", cfg.ChallengeRateLimit, cfg.ChallengeRateWindow)
		}
	} else {
		revoked = session.NewMemoryRevocationList()
		states = oauth.NewMemoryStateStore()
		if cfg.ChallengeRateLimit > 0 {
			limiter = ratelimit.NewMemoryLimiter(cfg.ChallengeRateLimit, cfg.ChallengeRateWindow)
		}
	}

	tokens, err := newTokenProvider(cfg)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	var emitters events.Multi
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		producer := events.NewKafkaProducer(brokers, cfg.IdentityEventsTopic)
		defer func() {
			if err := producer.Close(); err != nil {
				log.Printf("events: close kafka producer: %v", err)
			}
		}()
		emitters = append(emitters, producer)
		log.Printf("identity events enabled (topic=%s)", cfg.IdentityEventsTopic)
	}
	if em := telemetryotel.NewEventEmitter(otelProviders.LoggerProvider); em != nil && cfg.OTLPEndpoint != "" {
		emitters = append(emitters, em)
	}
	var emitter events.Emitter
	if len(emitters) > 0 {
		emitter = emitters
	}

	var devStore devotp.Store
	if cfg.DevOTPEnabled() {
		devStore = devotp.NewMemoryStore()
		log.Println("dev OTP mode enabled: codes are readable at GET /dev/otp")
	}

	var phoneTokens service.PhoneTokenVerifier
	if cfg.FirebaseProjectID != "" {
		verifier := oauth.NewFirebasePhoneVerifier(cfg.FirebaseProjectID)
		if err := verifier.EnsureInitialized(ctx); err != nil {
			log.Printf("firebase: %v (phone token sign-in unavailable until keys load)", err)
		}
		phoneTokens = verifier
	}

	issuer := session.NewIssuer(tokens, revoked, users)
	authSvc := service.NewAuthService(service.Deps{
		Pending:     pending,
		Users:       users,
		Sessions:    issuer,
		Dispatcher:  newDispatcher(cfg),
		Hasher:      security.NewHasher(cfg.BcryptCost),
		OAuth:       oauth.NewGuard(states, cfg.OAuthStateTTL, oauthProviders(cfg)...),
		PhoneTokens: phoneTokens,
		DevOTP:      devStore,
		Limiter:     limiter,
		Audit:       audit.NewLogger(audits),
		Events:      emitter,
		Metrics:     metrics,
	}, service.Config{
		Policy:             challenge.Policy{MaxAttempts: cfg.OTPMaxAttempts, TTL: cfg.OTPTTL},
		PhoneEmailDomain:   cfg.PhoneEmailDomain,
		ReturnCodeToClient: cfg.OTPReturnToClient && !cfg.IsProduction(),
		ResetURL:           cfg.ResetURL(),
	})

	var checker *health.Checker
	if database != nil {
		checker = health.NewChecker(database)
	} else {
		checker = health.NewChecker()
	}

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Auth:        authSvc,
			Tokens:      issuer,
			DevOTP:      devStore,
			Health:      checker,
			FrontendURL: cfg.FrontendURL,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := server.NewGRPCServer(checker)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()
	go func() {
		log.Printf("gRPC health server listening on %s", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()
	janitor := &server.Janitor{Store: pending, Interval: janitorInterval, Retention: pendingRetain}
	go janitor.Run(ctx)

	<-ctx.Done()
	log.Println("shutting down servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcSrv.GracefulStop()
	if emitter != nil {
		time.Sleep(events.ShutdownDrainDuration)
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("servers stopped")
}

// newTokenProvider signs with the configured key pair, or HS256 with JWT_SECRET. Outside
// production with neither set it falls back to an ephemeral test key pair.
func newTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	switch {
	case cfg.JWTPrivateKey != "":
		keys, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, err
		}
		log.Printf("JWT signing with %s key pair", keys.Alg())
		return security.NewTokenProvider(keys, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	case cfg.JWTSecret != "":
		return security.NewHMACTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	default:
		log.Println("no JWT signing key configured; using an ephemeral key (tokens do not survive restarts)")
		return security.NewTestTokenProvider()
	}
}

func newDispatcher(cfg *config.Config) *notify.Dispatcher {
	providers := map[notify.Channel]notify.Provider{
		notify.ChannelEmail: notify.LogProvider{},
		notify.ChannelSMS:   notify.LogProvider{},
	}
	if cfg.EmailProvider == "smtp" {
		providers[notify.ChannelEmail] = email.NewSMTPProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)
	}
	if cfg.SMSProvider == "smslocal" {
		providers[notify.ChannelSMS] = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	}
	return notify.NewDispatcher(providers)
}

func oauthProviders(cfg *config.Config) []oauth.Provider {
	var out []oauth.Provider
	if cfg.GoogleClientID != "" {
		out = append(out, oauth.NewGoogleProvider(oauth.ProviderConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  oauth.CallbackURL(cfg.OAuthRedirectBaseURL, "google"),
		}))
	}
	if cfg.MicrosoftClientID != "" {
		out = append(out, oauth.NewMicrosoftProvider(oauth.ProviderConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  oauth.CallbackURL(cfg.OAuthRedirectBaseURL, "microsoft"),
		}, cfg.MicrosoftTenant))
	}
	if cfg.AppleClientID != "" {
		out = append(out, oauth.NewAppleProvider(oauth.ProviderConfig{
			ClientID:    cfg.AppleClientID,
			RedirectURL: oauth.CallbackURL(cfg.OAuthRedirectBaseURL, "apple"),
		}))
	}
	return out
}
