package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jjudge-oj/accounts/config"
	"github.com/jjudge-oj/accounts/internal/auth"
	"github.com/jjudge-oj/accounts/internal/db"
	"github.com/jjudge-oj/accounts/internal/handlers"
	"github.com/jjudge-oj/accounts/internal/logging"
	"github.com/jjudge-oj/accounts/internal/mq"
	"github.com/jjudge-oj/accounts/internal/services"
	"github.com/jjudge-oj/accounts/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
	logger     *slog.Logger
}

// Deps are the collaborators the router needs.
type Deps struct {
	DB        handlers.Pinger
	Users     *services.UserService
	Tokens    handlers.TokenResolver
	Logger    *slog.Logger
	RateLimit config.RateLimitConfig
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	queue, err := mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	userService, tokens, err := NewUserService(dbConn, cfg, queue)
	if err != nil {
		_ = dbConn.Close()
		if queue != nil {
			_ = queue.Close()
		}
		return nil, err
	}

	router := NewRouter(Deps{
		DB:        dbConn,
		Users:     userService,
		Tokens:    tokens,
		Logger:    logger,
		RateLimit: cfg.RateLimit,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		mq:         queue,
		logger:     logger,
	}, nil
}

// NewUserService wires the repositories, password hashing and token issuer
// selected by cfg. queue may be nil, in which case no events are published.
func NewUserService(conn *sql.DB, cfg config.Config, queue *mq.MQ) (*services.UserService, auth.TokenIssuer, error) {
	dialect := store.Dialect(cfg.Database.Driver)
	userRepo := store.NewUserRepository(conn, dialect)

	passwords, err := auth.NewPasswordsByName(cfg.Auth.PasswordHasher, cfg.Auth.BcryptCost)
	if err != nil {
		return nil, nil, err
	}

	var tokens auth.TokenIssuer
	switch cfg.Auth.TokenMode {
	case config.TokenModeJWT:
		tokens = auth.NewJWTIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	case config.TokenModeOpaque, "":
		tokens = auth.NewOpaqueIssuer(store.NewTokenRepository(conn, dialect), cfg.Auth.TokenTTL)
	default:
		return nil, nil, fmt.Errorf("unknown token mode %q", cfg.Auth.TokenMode)
	}

	opts := []services.UserServiceOption{
		services.WithTokenIssuer(tokens),
		services.WithMinPasswordLength(cfg.Auth.MinPasswordLength),
	}
	// A nil *mq.MQ must not be stored in the interface.
	if queue != nil {
		opts = append(opts, services.WithEventPublisher(queue, cfg.MQ.AccountEventsChannel))
	}

	return services.NewUserService(userRepo, passwords, opts...), tokens, nil
}

// NewRouter builds the HTTP routes and middleware stack.
func NewRouter(deps Deps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.HTTPMiddleware(logger),
		middleware.Recoverer,
		middleware.StripSlashes,
		middleware.Timeout(60*time.Second),
	)
	// Set before mounting so subrouters inherit them.
	router.MethodNotAllowed(handlers.MethodNotAllowed)
	router.NotFound(handlers.NotFound)

	router.Get("/healthz", handlers.Healthz(deps.DB))
	router.Route("/users", func(r chi.Router) {
		limiter := handlers.RateLimitByIP(deps.RateLimit.TokenRequests, deps.RateLimit.TokenWindow)
		handlers.UsersRouter(r, deps.Users, deps.Tokens, limiter)
	})

	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the database and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.mq != nil {
		err = errors.Join(err, s.mq.Close())
	}
	if s.db != nil {
		err = errors.Join(err, s.db.Close())
	}
	return err
}
