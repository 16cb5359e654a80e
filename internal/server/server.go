// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: New opens SQLite and Redis, builds the
// services on top of them and hands the services to the handlers. Nothing
// else in the codebase constructs a dependency it does not own.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/dust/internal/auth"
	"github.com/sakif/dust/internal/clock"
	"github.com/sakif/dust/internal/config"
	"github.com/sakif/dust/internal/handler"
	"github.com/sakif/dust/internal/mail"
	"github.com/sakif/dust/internal/metrics"
	"github.com/sakif/dust/internal/middleware"
	sqliteRepo "github.com/sakif/dust/internal/repository/sqlite"
	"github.com/sakif/dust/internal/service"
	"github.com/sakif/dust/internal/session"
)

// stateTTL bounds how long a user may sit on GitHub's consent page.
const stateTTL = 10 * time.Minute

// Deps are the long-lived resources the server runs on. New fills in
// whatever is nil; tests pass in-memory versions.
type Deps struct {
	DB       *sqliteRepo.DB
	Sessions *session.RedisStore
	GitHub   *auth.GitHubProvider
	Mailer   mail.Mailer
	Clock    clock.Clock
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database and Redis connections and closes both on
// shutdown, after in-flight requests have finished.
type Server struct {
	handler  http.Handler
	config   *config.Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	sessions *session.RedisStore
	limiter  *middleware.RateLimiter
}

// New creates a Server from cfg, opening any dependency deps leaves nil.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.DB == nil {
		if dir := filepath.Dir(cfg.DBPath); cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		deps.DB = db
	}

	if deps.Sessions == nil {
		sessCfg := session.DefaultConfig()
		sessCfg.URL = cfg.RedisURL
		store, err := session.NewRedisStore(sessCfg)
		if err != nil {
			deps.DB.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		deps.Sessions = store
	}

	if deps.GitHub == nil {
		deps.GitHub = auth.NewGitHubProvider(auth.GitHubConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			CallbackURL:  cfg.GitHubCallbackURL,
			APIBaseURL:   cfg.GitHubAPIURL,
		})
	}

	if deps.Mailer == nil {
		mailer, err := newMailer(cfg, logger)
		if err != nil {
			deps.Sessions.Close()
			deps.DB.Close()
			return nil, err
		}
		deps.Mailer = mailer
	}

	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		db:       deps.DB,
		sessions: deps.Sessions,
		limiter:  middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger),
	}

	h, err := s.routes(deps)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	s.handler = h

	return s, nil
}

func newMailer(cfg *config.Config, logger *slog.Logger) (mail.Mailer, error) {
	if !cfg.MailEnabled() {
		logger.Warn("SMTP_HOST not set, reset emails will only be logged")
		return mail.NewLogMailer(logger), nil
	}
	m, err := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("creating mailer: %w", err)
	}
	return m, nil
}

// routes wires services to handlers and handlers to URLs.
//
// ROUTE STRUCTURE:
//
//	POST /login, /auth-login/github, /send-email, /reset-password   (rate limited)
//	GET  /auth-login/github/url                                      (rate limited)
//	POST /register, /register/github, /register/kcash, /register/claim (rate limited)
//	GET  /logout
//	GET  /me, POST /planet/setup, POST /planet/build                 (session required)
//	GET  /planets, /planets/{name}, /planets/{name}/builds
//	GET  /healthz, /metrics
//
// MIDDLEWARE ORDER MATTERS:
// RequestID and RealIP run first so the logger and the rate limiter see the
// request id and the client address; Recoverer sits inside the logger so a
// panic is still logged as a 500.
func (s *Server) routes(deps Deps) (http.Handler, error) {
	states, err := auth.NewStateSigner(s.config.JWTSecret, stateTTL)
	if err != nil {
		return nil, err
	}

	authService := service.NewAuthService(
		deps.DB,
		deps.Sessions,
		auth.NewPasswordService(),
		deps.GitHub,
		deps.Mailer,
		deps.Clock,
		service.AuthConfig{
			LoginTTL:     s.config.LoginTTL,
			ResetTTL:     s.config.ResetTTL,
			ResetBaseURL: s.config.ResetBaseURL,
		},
		s.logger,
	)
	registrationService := service.NewRegistrationService(authService, service.RegistrationConfig{
		StarRepo:   s.config.StarRepo,
		RewardDust: service.RewardDust,
	}, s.logger)
	planetService := service.NewPlanetService(deps.DB, deps.DB, deps.Clock, s.logger)
	ledgerService := service.NewLedgerService(deps.DB, deps.DB, deps.DB, deps.Clock, s.logger)

	authHandler := handler.NewAuthHandler(authService, deps.GitHub, states, s.logger)
	registerHandler := handler.NewRegisterHandler(registrationService, states, s.logger)
	planetHandler := handler.NewPlanetHandler(planetService, ledgerService, s.logger)
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"sqlite": deps.DB,
		"redis":  deps.Sessions,
	}, s.logger)

	r := chi.NewRouter()

	// === Global Middleware ===
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", healthHandler.HandleHealth)
	r.Handle("/metrics", metrics.Handler())

	// === Credential endpoints (rate limited per client IP) ===
	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Handler)

		r.Post("/login", authHandler.HandleLogin)
		r.Get("/auth-login/github/url", authHandler.HandleGitHubURL)
		r.Post("/auth-login/github", authHandler.HandleGitHubLogin)
		r.Post("/send-email", authHandler.HandleSendEmail)
		r.Post("/reset-password", authHandler.HandleResetPassword)

		r.Post("/register", registerHandler.HandleRegister)
		r.Post("/register/github", registerHandler.HandleRegisterGitHub)
		r.Post("/register/kcash", registerHandler.HandleRegisterKCash)
		r.Post("/register/claim", registerHandler.HandleClaim)
	})

	r.Get("/logout", authHandler.HandleLogout)

	// === Session required ===
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(authService, s.logger))

		r.Get("/me", authHandler.HandleMe)
		r.Post("/planet/setup", planetHandler.HandleSetup)
		r.Post("/planet/build", planetHandler.HandleBuild)
	})

	// === Public views ===
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(authService, s.logger))

		r.Get("/planets", planetHandler.HandleList)
		r.Get("/planets/{name}", planetHandler.HandleGet)
		r.Get("/planets/{name}/builds", planetHandler.HandleBuilds)
	})

	return otelhttp.NewHandler(r, "dust"), nil
}

// Handler exposes the fully wired router (tests drive it with httptest).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until SIGINT/SIGTERM or ctx is cancelled, then shuts down
// gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close Redis and the database (flushes WAL, releases the file lock)
func (s *Server) Start(ctx context.Context) error {
	defer s.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.limiter.StartCleanup(ctx, time.Minute)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

func (s *Server) close() {
	if err := s.sessions.Close(); err != nil {
		s.logger.Warn("closing redis", slog.String("error", err.Error()))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}
