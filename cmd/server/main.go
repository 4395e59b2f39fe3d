package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"taskflow/internal/api"
	"taskflow/internal/api/handlers"
	"taskflow/internal/api/middleware"
	"taskflow/internal/engine/credentials"
	"taskflow/internal/engine/identity"
	"taskflow/internal/engine/quota"
	"taskflow/internal/engine/sites"
	"taskflow/internal/engine/teams"
	"taskflow/internal/engine/tenants"
	"taskflow/internal/engine/users"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/platform/audit"
	"taskflow/internal/platform/auth"
	"taskflow/internal/platform/config"
	"taskflow/internal/platform/database"
	"taskflow/internal/platform/mailer"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Init(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	if len(applied) > 0 {
		log.Info().Strs("versions", applied).Msg("Applied migrations")
	}

	// Services
	auditLogger := audit.NewLogger(db)
	defer auditLogger.Wait()

	sessions := auth.NewSessionAuthority(cfg.JWT)
	passwords := auth.NewPasswords(cfg.Auth.BcryptCost)
	notifier := mailer.New(cfg.Email)
	ledger := quota.NewLedger(db)

	resolver := identity.NewResolver(db, sessions)
	authenticator := identity.NewAuthenticator(db, sessions, passwords, resolver, cfg.Auth.MinPasswordLength)
	workflow := credentials.NewWorkflow(db, passwords, notifier, auditLogger, cfg.Auth, cfg.App)

	userSvc := users.NewService(db, ledger, workflow, auditLogger)
	siteSvc := sites.NewService(db, ledger, auditLogger)
	teamSvc := teams.NewService(db, auditLogger)
	tenantSvc := tenants.NewService(db, auditLogger)

	// Middleware
	globalLimiter := middleware.NewRateLimiter(cfg.RateLimit.GlobalPerMinute, cfg.RateLimit.GlobalBurst)
	defer globalLimiter.Stop()
	authLimiter := middleware.NewRateLimiter(cfg.RateLimit.AuthPerMinute, cfg.RateLimit.AuthBurst)
	defer authLimiter.Stop()

	deps := &api.Dependencies{
		AuthHandler:    handlers.NewAuthHandler(authenticator, workflow),
		RoleHandler:    handlers.NewRoleHandler(),
		SiteHandler:    handlers.NewSiteHandler(siteSvc),
		TeamHandler:    handlers.NewTeamHandler(teamSvc),
		UserHandler:    handlers.NewUserHandler(userSvc, workflow),
		TenantHandler:  handlers.NewTenantHandler(tenantSvc),
		AuditHandler:   handlers.NewAuditHandler(auditLogger),
		HealthHandler:  handlers.NewHealthHandler(db),
		AuthMiddleware: middleware.NewAuthMiddleware(resolver),
		GlobalLimiter:  globalLimiter,
		AuthLimiter:    authLimiter,
		CORS:           cfg.CORS,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsHandler = handlers.NewMetricsHandler()
		deps.MetricsPath = cfg.Metrics.Path
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Server.Environment).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
