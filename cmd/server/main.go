package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/config"
	"github.com/reliefwallet/credential-engine/internal/database"
	"github.com/reliefwallet/credential-engine/internal/gateway"
	"github.com/reliefwallet/credential-engine/internal/handler"
	"github.com/reliefwallet/credential-engine/internal/jobs"
	"github.com/reliefwallet/credential-engine/internal/metrics"
	"github.com/reliefwallet/credential-engine/internal/middleware"
	"github.com/reliefwallet/credential-engine/internal/notify"
	"github.com/reliefwallet/credential-engine/internal/redis"
	"github.com/reliefwallet/credential-engine/internal/repository"
	"github.com/reliefwallet/credential-engine/internal/service"
	"github.com/reliefwallet/credential-engine/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	authority := gateway.New(gateway.Config{
		IssuerBaseURL:   cfg.IssuerAPIBase,
		IssuerAPIKey:    cfg.IssuerAPIKey,
		VerifierBaseURL: cfg.VerifierAPIBase,
		VerifierAPIKey:  cfg.VerifierAPIKey,
		Timeout:         cfg.AuthorityTimeout(),
		RetryMax:        cfg.AuthorityRetryMax,
		IdentityTypes:   cfg.IdentityCredentialTypes,
		SubsidyTypes:    cfg.SubsidyCredentialTypes,
		PropertyTypes:   cfg.PropertyCredentialTypes,
	}, m)
	log.Info().
		Bool("issuerMock", authority.IssuerMock()).
		Bool("verifierMock", authority.VerifierMock()).
		Msg("credential authority gateway ready")

	var sessions session.Store
	switch cfg.SessionStore {
	case config.SessionBackendMemory:
		sessions = session.NewMemoryStore(cfg.SessionTTL(), config.SessionRetention, cfg.SessionMaxEntries)
	default:
		sessions = session.NewRedisStore(redisClient, cfg.SessionTTL(), config.SessionRetention)
	}
	log.Info().Str("backend", string(cfg.SessionStore)).Msg("session store ready")

	broker := notify.NewBroker(redisClient)
	defer broker.Close()
	dispatcher := notify.NewDispatcher(broker, config.NotifyTimeout)
	defer dispatcher.Wait()

	caseRepo := repository.NewCaseRepository(db.DB)
	profileRepo := repository.NewProfileRepository(db.DB)
	credentialRepo := repository.NewCredentialRepository(db.DB)
	historyRepo := repository.NewHistoryRepository(db.DB)

	issuanceService := service.NewIssuanceService(
		db, caseRepo, credentialRepo, historyRepo, sessions, authority, dispatcher, m,
		service.IssuanceConfig{
			CredentialUID: cfg.IssuerVCUID,
			Organization:  cfg.IssuerOrganization,
			Validity:      cfg.CredentialValidity(),
		},
	)
	claimService := service.NewClaimService(
		db, caseRepo, credentialRepo, historyRepo, sessions, authority, dispatcher, m,
	)
	verificationService := service.NewVerificationService(
		sessions, authority, dispatcher, m,
		service.VerificationConfig{
			ServiceRef:   cfg.VerifierServiceRef,
			Organization: cfg.VerifierOrganization,
		},
		service.NewIdentityVariant(profileRepo),
		service.NewSubsidyVariant(db, caseRepo, credentialRepo, historyRepo, dispatcher, m),
		service.NewPropertyVariant(profileRepo),
	)
	historyService := service.NewHistoryService(historyRepo)
	sessionService := service.NewSessionService(sessions, profileRepo, dispatcher, m, cfg.LoginCallbackURL)
	adminService := service.NewAdminService(credentialRepo, historyService, authority, m)

	kioskRateLimit := middleware.NewIPRateLimitMiddleware(
		middleware.NewRedisRateLimiter(redisClient, "kiosk"), cfg.KioskRateLimitPerMin,
	)
	adminAuth := middleware.NewAdminAuthMiddleware(cfg.AdminPasswordHash, middleware.NewLoginRateLimiter())
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	credentialHandler := handler.NewCredentialHandler(issuanceService, claimService)
	historyHandler := handler.NewHistoryHandler(historyService)
	presentationHandler := handler.NewPresentationHandler(verificationService)
	eventsHandler := handler.NewEventsHandler(broker, sessionService)
	sessionHandler := handler.NewSessionHandler(sessionService, eventsHandler)
	adminHandler := handler.NewAdminHandler(adminService)
	healthHandler := handler.NewHealthHandler(db, authority)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", handler.MetricsHandler(reg))

	// Session event streams outlive the request timeout.
	r.Mount("/v1/sessions", sessionHandler.Routes())

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Mount("/v1/credentials", credentialHandler.Routes())
		r.Get("/v1/cases/{caseId}/history", historyHandler.List)

		r.Route("/v1/presentations", func(r chi.Router) {
			r.Use(kioskRateLimit.Handler)
			r.Mount("/", presentationHandler.Routes())
		})

		r.Route("/admin/api", func(r chi.Router) {
			r.Use(securityHeadersMiddleware.Handler)
			r.Use(adminAuth.Handler)
			r.Mount("/", adminHandler.Routes())
		})
	})

	cleanupJob := jobs.NewCleanupJob(sessions, m, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
